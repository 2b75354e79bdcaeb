package service

import (
	"time"

	"github.com/google/uuid"

	"paperfx/domain/book"
	"paperfx/domain/ledger"
	"paperfx/infra/wal"
)

type PlaceOrderRequest struct {
	AccountID string
	Symbol    string
	Side      book.Side
	Type      book.OrderType
	Price     int64 // cents; zero for market orders
	Qty       int64
}

// OrderAck reports the synchronous outcome of a placement. Trades lists
// the fills the order executed immediately; Remaining is what rested.
type OrderAck struct {
	OrderID   uint64
	Status    book.OrderStatus
	FilledQty int64
	Remaining int64
	Trades    []book.Trade
}

// BookSnapshot is a consistent view of one instrument's book, taken on
// its lane so no mutation interleaves.
type BookSnapshot struct {
	Symbol  string
	BestBid int64
	BestAsk int64
	Bids    []book.DepthLevel
	Asks    []book.DepthLevel
	At      time.Time
}

// PlaceOrder validates, matches and durably records one incoming order.
// The WAL append happens between planning and commit: if the log cannot
// be written the book and ledger are untouched and the caller gets
// SERVICE_UNAVAILABLE instead of a possibly-lost acknowledgement.
func (e *Engine) PlaceOrder(req PlaceOrderRequest) (*OrderAck, error) {
	if e.degraded.Load() {
		return nil, book.Reject(book.ReasonServiceUnavailable, "write path degraded")
	}

	e.mu.RLock()
	in, okIn := e.instruments[req.Symbol]
	l, okLane := e.lanes[req.Symbol]
	e.mu.RUnlock()
	if !okIn || !okLane {
		return nil, book.Reject(book.ReasonInvalidInstrument, "unknown symbol %q", req.Symbol)
	}
	if req.Qty <= 0 || req.Qty%in.LotSize != 0 {
		return nil, book.Reject(book.ReasonInvalidQuantity,
			"qty %d (lot size %d)", req.Qty, in.LotSize)
	}
	switch req.Type {
	case book.Limit:
		if req.Price <= 0 || req.Price%in.TickSize != 0 {
			return nil, book.Reject(book.ReasonInvalidPrice,
				"price %d (tick size %d)", req.Price, in.TickSize)
		}
		if _, ok := book.Notional(req.Price, req.Qty); !ok {
			return nil, book.Reject(book.ReasonInvalidQuantity,
				"notional %d x %d exceeds representable cash", req.Price, req.Qty)
		}
	case book.Market:
		if req.Price != 0 {
			return nil, book.Reject(book.ReasonInvalidPrice, "market order carries a price")
		}
	}

	var ack *OrderAck
	err := l.do(func() error {
		var err error
		ack, err = e.placeOnLane(l, req)
		return err
	})
	return ack, err
}

// placeOnLane runs on the instrument's lane goroutine.
func (e *Engine) placeOnLane(l *lane, req PlaceOrderRequest) (*OrderAck, error) {
	order := &book.Order{
		ID:        e.nextOrderID.Add(1),
		AccountID: req.AccountID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		Qty:       req.Qty,
		Remaining: req.Qty,
		Status:    book.Open,
		CreatedAt: time.Now(),
	}

	if order.Type == book.Market {
		exclude := ""
		if !e.cfg.AllowSelfMatch {
			exclude = order.AccountID
		}
		avail := l.book.AvailableQty(order.Side.Opposite(), exclude)
		if avail == 0 {
			return nil, book.Reject(book.ReasonNoLiquidity, "%s: empty %s side",
				order.Symbol, order.Side.Opposite())
		}
		if avail < order.Qty && !e.cfg.AllowPartialMarketFill {
			return nil, book.Reject(book.ReasonNoLiquidity,
				"%s: %d available of %d", order.Symbol, avail, order.Qty)
		}
	}

	plan := l.book.Match(order, !e.cfg.AllowSelfMatch)

	// Buys reserve cash up front so concurrent orders cannot overcommit.
	// Limit holds are priced at the limit; market holds at the plan cost.
	if order.Side == book.Buy {
		amount, unit := order.Price*order.Qty, order.Price
		if order.Type == book.Market {
			cost, ok := plan.Cost()
			if !ok {
				return nil, book.Reject(book.ReasonInvalidQuantity,
					"market cost for %d units exceeds representable cash", order.Qty)
			}
			amount, unit = cost, 0
		}
		if err := e.ledger.Reserve(order.AccountID, order.ID, amount, unit); err != nil {
			return nil, err
		}
	}

	trades := e.tradesFor(order, plan)

	// Write-ahead: acceptance plus every trade hits the log before any
	// in-memory state changes.
	accept := wal.NewRecord(wal.RecordOrderAccepted, orderAcceptedBody(order))
	if err := e.append(accept); err != nil {
		e.ledger.Release(order.AccountID, order.ID)
		return nil, err
	}
	tradeSeqs := make([]uint64, len(trades))
	for i, t := range trades {
		rec := wal.NewRecord(wal.RecordTrade, tradeBody(t))
		if err := e.append(rec); err != nil {
			e.ledger.Release(order.AccountID, order.ID)
			return nil, err
		}
		tradeSeqs[i] = rec.Seq
	}

	makers := make([]*book.Order, len(plan.Fills))
	for i, f := range plan.Fills {
		makers[i] = f.Maker
	}

	l.book.Commit(plan)
	if order.Type == book.Market && order.Remaining > 0 {
		order.Status = book.Cancelled // market remainders never rest
	}

	e.mu.Lock()
	e.orders[order.ID] = order
	e.mu.Unlock()

	for _, t := range trades {
		if err := e.ledger.ApplyTrade(t); err != nil {
			return nil, err
		}
	}
	if order.Status.Terminal() {
		e.ledger.Release(order.AccountID, order.ID)
	}
	for i, m := range makers {
		if m.Status.Terminal() {
			e.ledger.Release(m.AccountID, m.ID)
		}
		e.publishOrderStatus(m, tradeSeqs[i])
	}

	for i, t := range trades {
		e.publish(EventTrade, tradeSeqs[i], TradeData{
			TradeID:     t.ID,
			Symbol:      t.Symbol,
			Price:       t.Price,
			Qty:         t.Qty,
			BuyOrderID:  t.BuyOrderID,
			SellOrderID: t.SellOrderID,
			ExecutedAt:  t.ExecutedAt.UnixNano(),
		})
	}
	e.publishOrderStatus(order, accept.Seq)

	e.log.Info().
		Uint64("order_id", order.ID).
		Str("account", order.AccountID).
		Str("symbol", order.Symbol).
		Str("side", order.Side.String()).
		Str("type", order.Type.String()).
		Int64("qty", order.Qty).
		Int64("filled", order.FilledQty()).
		Str("status", order.Status.String()).
		Msg("order placed")

	return &OrderAck{
		OrderID:   order.ID,
		Status:    order.Status,
		FilledQty: order.FilledQty(),
		Remaining: order.Remaining,
		Trades:    trades,
	}, nil
}

// tradesFor materializes the plan's fills as trades. The maker's price is
// the execution price; ids are fresh uuids minted before the WAL append
// so the log and the live path agree on identity.
func (e *Engine) tradesFor(taker *book.Order, plan *book.Plan) []book.Trade {
	if len(plan.Fills) == 0 {
		return nil
	}
	now := time.Now()
	trades := make([]book.Trade, len(plan.Fills))
	for i, f := range plan.Fills {
		t := book.Trade{
			ID:           uuid.NewString(),
			Symbol:       taker.Symbol,
			Price:        f.Price,
			Qty:          f.Qty,
			MakerOrderID: f.Maker.ID,
			TakerOrderID: taker.ID,
			ExecutedAt:   now,
		}
		if taker.Side == book.Buy {
			t.BuyOrderID, t.BuyerID = taker.ID, taker.AccountID
			t.SellOrderID, t.SellerID = f.Maker.ID, f.Maker.AccountID
		} else {
			t.BuyOrderID, t.BuyerID = f.Maker.ID, f.Maker.AccountID
			t.SellOrderID, t.SellerID = taker.ID, taker.AccountID
		}
		trades[i] = t
	}
	return trades
}

// CancelOrder removes a resting order. Cancelling an order that already
// reached a terminal status reports NO_OP: the race was lost, nothing
// changed.
func (e *Engine) CancelOrder(accountID string, orderID uint64) error {
	if e.degraded.Load() {
		return book.Reject(book.ReasonServiceUnavailable, "write path degraded")
	}

	e.mu.RLock()
	order, ok := e.orders[orderID]
	e.mu.RUnlock()
	if !ok {
		return book.Reject(book.ReasonNotFound, "order %d", orderID)
	}
	if order.AccountID != accountID {
		return book.Reject(book.ReasonForbidden, "order %d belongs to another account", orderID)
	}
	l, ok := e.laneFor(order.Symbol)
	if !ok {
		return book.Reject(book.ReasonInvalidInstrument, "unknown symbol %q", order.Symbol)
	}

	return l.do(func() error {
		if order.Status.Terminal() {
			return book.Reject(book.ReasonNoOp, "order %d already %s", orderID, order.Status)
		}

		rec := wal.NewRecord(wal.RecordOrderCancelled, cancelBody(orderID, "user"))
		if err := e.append(rec); err != nil {
			return err
		}

		l.book.Remove(orderID)
		order.Status = book.Cancelled
		e.ledger.Release(order.AccountID, orderID)
		e.publishOrderStatus(order, rec.Seq)

		e.log.Info().Uint64("order_id", orderID).Str("account", accountID).
			Msg("order cancelled")
		return nil
	})
}

// GetSnapshot returns the aggregated depth of one instrument's book.
func (e *Engine) GetSnapshot(symbol string) (*BookSnapshot, error) {
	l, ok := e.laneFor(symbol)
	if !ok {
		return nil, book.Reject(book.ReasonInvalidInstrument, "unknown symbol %q", symbol)
	}

	snap := &BookSnapshot{Symbol: symbol}
	err := l.do(func() error {
		snap.At = time.Now()
		if p, _, ok := l.book.BestBid(); ok {
			snap.BestBid = p
		}
		if p, _, ok := l.book.BestAsk(); ok {
			snap.BestAsk = p
		}
		snap.Bids, snap.Asks = l.book.Depth(e.cfg.DepthLevels)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// GetValuation marks the account's positions to the freshest quotes.
func (e *Engine) GetValuation(accountID string) (*ledger.ValuationReport, error) {
	rep, err := e.ledger.Valuation(accountID, e.market, e.cfg.MaxQuoteAge, time.Now())
	if err == ledger.ErrUnknownAccount {
		return nil, book.Reject(book.ReasonNotFound, "account %q", accountID)
	}
	return rep, err
}
