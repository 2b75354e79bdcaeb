// Package feed consumes market quotes from Kafka and pushes them into
// the engine. Quotes are observations: a malformed or unknown-symbol
// message is logged and skipped, never fatal.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"paperfx/domain/book"
)

// QuoteSink receives validated quotes, normally the engine.
type QuoteSink interface {
	UpdateQuote(book.Quote) error
}

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

type quoteMessage struct {
	V      int    `json:"v"`
	Symbol string `json:"symbol"`
	Bid    int64  `json:"bid"`
	Ask    int64  `json:"ask"`
	At     int64  `json:"at"` // unix nanos; zero means receive time
}

type Consumer struct {
	reader *kafka.Reader
	sink   QuoteSink
	log    zerolog.Logger
}

func New(cfg Config, sink QuoteSink, log zerolog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 1 << 20,
			MaxWait:  250 * time.Millisecond,
		}),
		sink: sink,
		log:  log.With().Str("component", "quote_feed").Logger(),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		c.handle(msg.Value)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Warn().Err(err).Msg("quote offset commit failed")
		}
	}
}

func (c *Consumer) handle(value []byte) {
	var m quoteMessage
	if err := json.Unmarshal(value, &m); err != nil {
		c.log.Warn().Err(err).Msg("malformed quote dropped")
		return
	}

	q := book.Quote{Symbol: m.Symbol, Bid: m.Bid, Ask: m.Ask}
	if m.At != 0 {
		q.At = time.Unix(0, m.At)
	}
	if err := c.sink.UpdateQuote(q); err != nil {
		c.log.Warn().Err(err).Str("symbol", m.Symbol).Msg("quote rejected")
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
