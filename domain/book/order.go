package book

import (
	"math"
	"time"
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "SELL"
	}
	return "BUY"
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderType int

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	if t == Market {
		return "MARKET"
	}
	return "LIMIT"
}

type OrderStatus int

const (
	Open OrderStatus = iota
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (s OrderStatus) String() string {
	switch s {
	case Open:
		return "OPEN"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the status permits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

// Instrument is a tradable symbol. Immutable once registered.
// TickSize constrains limit prices, LotSize constrains quantities.
// Prices are int64 minor units (cents); quantities are int64 units.
type Instrument struct {
	Symbol   string
	TickSize int64
	LotSize  int64
}

// Order is owned exclusively by the instrument's book until it reaches a
// terminal status, after which it is retained read-only.
type Order struct {
	ID        uint64
	AccountID string
	Symbol    string
	Side      Side
	Type      OrderType
	Price     int64 // cents; 0 for market orders
	Qty       int64
	Remaining int64
	Status    OrderStatus
	CreatedAt time.Time
}

func (o *Order) FilledQty() int64 { return o.Qty - o.Remaining }

// Trade is the immutable result of matching two orders.
// MakerOrderID is the resting order; its price set the trade price.
type Trade struct {
	ID           string
	Symbol       string
	Price        int64
	Qty          int64
	BuyOrderID   uint64
	SellOrderID  uint64
	MakerOrderID uint64
	TakerOrderID uint64
	BuyerID      string
	SellerID     string
	ExecutedAt   time.Time
}

// Cost returns price*qty in cents. Both factors were bounded by Notional
// when the orders were accepted, so the product cannot wrap.
func (t Trade) Cost() int64 { return t.Price * t.Qty }

// Notional returns price*qty in cents, reporting whether the product is
// representable. Order acceptance rejects anything that is not, which is
// what keeps every downstream cost computation inside int64.
func Notional(price, qty int64) (int64, bool) {
	if price <= 0 || qty <= 0 {
		return 0, true
	}
	if qty > math.MaxInt64/price {
		return 0, false
	}
	return price * qty, true
}

// Quote is the latest observed bid/ask for an instrument.
// Quotes supersede each other; they are never mutated in place.
type Quote struct {
	Symbol string
	Bid    int64
	Ask    int64
	At     time.Time
}

// Mid is the midpoint used for valuation marks.
func (q Quote) Mid() int64 { return (q.Bid + q.Ask) / 2 }
