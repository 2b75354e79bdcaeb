package service

import (
	"encoding/json"
	"time"

	"paperfx/domain/book"
)

// Event payloads travel as versioned JSON, both inside WAL records and on
// the outbound topic. Unknown fields are ignorable by construction, which
// keeps older consumers working as the schema grows.

const eventVersion = 1

const (
	EventTrade       = "trade"
	EventOrderStatus = "order_status"
	EventQuote       = "quote"
)

// Envelope wraps one outbound event for subscribed clients.
type Envelope struct {
	V    int             `json:"v"`
	Type string          `json:"type"`
	Seq  uint64          `json:"seq,omitempty"` // WAL seq when the event is durable
	At   int64           `json:"at"`
	Data json.RawMessage `json:"data"`
}

// orderAcceptedPayload is the WAL body of RecordOrderAccepted.
type orderAcceptedPayload struct {
	V         int    `json:"v"`
	OrderID   uint64 `json:"order_id"`
	AccountID string `json:"account_id"`
	Symbol    string `json:"symbol"`
	Side      int    `json:"side"`
	Type      int    `json:"order_type"`
	Price     int64  `json:"price"`
	Qty       int64  `json:"qty"`
	CreatedAt int64  `json:"created_at"`
}

// tradePayload is the WAL body of RecordTrade.
type tradePayload struct {
	V            int    `json:"v"`
	TradeID      string `json:"trade_id"`
	Symbol       string `json:"symbol"`
	Price        int64  `json:"price"`
	Qty          int64  `json:"qty"`
	BuyOrderID   uint64 `json:"buy_order_id"`
	SellOrderID  uint64 `json:"sell_order_id"`
	MakerOrderID uint64 `json:"maker_order_id"`
	TakerOrderID uint64 `json:"taker_order_id"`
	BuyerID      string `json:"buyer_id"`
	SellerID     string `json:"seller_id"`
	ExecutedAt   int64  `json:"executed_at"`
}

// cancelPayload is the WAL body of RecordOrderCancelled.
type cancelPayload struct {
	V       int    `json:"v"`
	OrderID uint64 `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// depositPayload is the WAL body of RecordDeposit.
type depositPayload struct {
	V         int    `json:"v"`
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
}

// OrderStatusData is pushed whenever an order transitions status.
type OrderStatusData struct {
	OrderID   uint64 `json:"order_id"`
	AccountID string `json:"account_id"`
	Symbol    string `json:"symbol"`
	Status    string `json:"status"`
	Remaining int64  `json:"remaining"`
}

// TradeData is pushed for every executed trade.
type TradeData struct {
	TradeID     string `json:"trade_id"`
	Symbol      string `json:"symbol"`
	Price       int64  `json:"price"`
	Qty         int64  `json:"qty"`
	BuyOrderID  uint64 `json:"buy_order_id"`
	SellOrderID uint64 `json:"sell_order_id"`
	ExecutedAt  int64  `json:"executed_at"`
}

// QuoteData is pushed on every accepted quote update.
type QuoteData struct {
	Symbol string `json:"symbol"`
	Bid    int64  `json:"bid"`
	Ask    int64  `json:"ask"`
	At     int64  `json:"at"`
}

func orderAcceptedBody(o *book.Order) []byte {
	b, _ := json.Marshal(orderAcceptedPayload{
		V:         eventVersion,
		OrderID:   o.ID,
		AccountID: o.AccountID,
		Symbol:    o.Symbol,
		Side:      int(o.Side),
		Type:      int(o.Type),
		Price:     o.Price,
		Qty:       o.Qty,
		CreatedAt: o.CreatedAt.UnixNano(),
	})
	return b
}

func tradeBody(t book.Trade) []byte {
	b, _ := json.Marshal(tradePayload{
		V:            eventVersion,
		TradeID:      t.ID,
		Symbol:       t.Symbol,
		Price:        t.Price,
		Qty:          t.Qty,
		BuyOrderID:   t.BuyOrderID,
		SellOrderID:  t.SellOrderID,
		MakerOrderID: t.MakerOrderID,
		TakerOrderID: t.TakerOrderID,
		BuyerID:      t.BuyerID,
		SellerID:     t.SellerID,
		ExecutedAt:   t.ExecutedAt.UnixNano(),
	})
	return b
}

func cancelBody(orderID uint64, reason string) []byte {
	b, _ := json.Marshal(cancelPayload{V: eventVersion, OrderID: orderID, Reason: reason})
	return b
}

func depositBody(accountID string, amount int64) []byte {
	b, _ := json.Marshal(depositPayload{V: eventVersion, AccountID: accountID, Amount: amount})
	return b
}

func envelope(eventType string, walSeq uint64, data any) []byte {
	raw, _ := json.Marshal(data)
	b, _ := json.Marshal(Envelope{
		V:    eventVersion,
		Type: eventType,
		Seq:  walSeq,
		At:   time.Now().UnixNano(),
		Data: raw,
	})
	return b
}

func (t tradePayload) toTrade() book.Trade {
	return book.Trade{
		ID:           t.TradeID,
		Symbol:       t.Symbol,
		Price:        t.Price,
		Qty:          t.Qty,
		BuyOrderID:   t.BuyOrderID,
		SellOrderID:  t.SellOrderID,
		MakerOrderID: t.MakerOrderID,
		TakerOrderID: t.TakerOrderID,
		BuyerID:      t.BuyerID,
		SellerID:     t.SellerID,
		ExecutedAt:   time.Unix(0, t.ExecutedAt),
	}
}
