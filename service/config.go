package service

import "time"

// Config carries the engine policy knobs. Zero values are replaced by the
// defaults below in NewEngine.
type Config struct {
	// MaxQuoteAge bounds how old a quote may be before valuation fails
	// with StaleQuote.
	MaxQuoteAge time.Duration

	// AllowSelfMatch controls whether an account may trade against its own
	// resting orders. Kept configurable pending product clarification.
	AllowSelfMatch bool

	// AllowPartialMarketFill: when false a market order that cannot fill
	// completely is rejected with NoLiquidity; when true the available
	// quantity executes and the remainder is cancelled. A market order
	// never rests in the book.
	AllowPartialMarketFill bool

	// WALRetries bounds append attempts before a mutation is abandoned
	// with ServiceUnavailable.
	WALRetries int

	// DepthLevels is the number of aggregated price levels per side that
	// GetSnapshot returns.
	DepthLevels int
}

func DefaultConfig() Config {
	return Config{
		MaxQuoteAge:    30 * time.Second,
		AllowSelfMatch: true,
		WALRetries:     3,
		DepthLevels:    10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxQuoteAge == 0 {
		c.MaxQuoteAge = d.MaxQuoteAge
	}
	if c.WALRetries == 0 {
		c.WALRetries = d.WALRetries
	}
	if c.DepthLevels == 0 {
		c.DepthLevels = d.DepthLevels
	}
	return c
}
