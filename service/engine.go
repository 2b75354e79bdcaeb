package service

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"paperfx/domain/book"
	"paperfx/domain/ledger"
	"paperfx/infra/outbox"
	"paperfx/infra/wal"
	"paperfx/market"
)

// Engine is the single write entry point. Every durable mutation flows
// through here: validate, plan, append to the WAL, then commit in memory
// and publish through the outbox. A mutation that was never logged is
// never applied.
type Engine struct {
	cfg    Config
	log    zerolog.Logger
	wal    *wal.WAL
	outbox *outbox.Outbox
	ledger *ledger.Ledger
	market *market.Store

	mu          sync.RWMutex
	instruments map[string]book.Instrument
	lanes       map[string]*lane
	orders      map[uint64]*book.Order

	nextOrderID atomic.Uint64
	eventSeq    atomic.Uint64
	degraded    atomic.Bool
}

func NewEngine(cfg Config, log zerolog.Logger, w *wal.WAL, ob *outbox.Outbox) (*Engine, error) {
	cfg = cfg.withDefaults()

	e := &Engine{
		cfg:         cfg,
		log:         log.With().Str("component", "engine").Logger(),
		wal:         w,
		outbox:      ob,
		ledger:      ledger.New(),
		market:      market.NewStore(),
		instruments: make(map[string]book.Instrument),
		lanes:       make(map[string]*lane),
		orders:      make(map[uint64]*book.Order),
	}

	if ob != nil {
		max, err := ob.MaxSeq()
		if err != nil {
			return nil, err
		}
		e.eventSeq.Store(max)
	}
	return e, nil
}

func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }
func (e *Engine) Quotes() *market.Store  { return e.market }

// RegisterInstrument makes a symbol tradable and spins up its lane.
// Registering an existing symbol is a no-op.
func (e *Engine) RegisterInstrument(in book.Instrument) error {
	if in.Symbol == "" {
		return book.Reject(book.ReasonInvalidInstrument, "empty symbol")
	}
	if in.TickSize <= 0 || in.LotSize <= 0 {
		return book.Reject(book.ReasonInvalidInstrument,
			"%s: tick %d lot %d", in.Symbol, in.TickSize, in.LotSize)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.instruments[in.Symbol]; ok {
		return nil
	}
	e.instruments[in.Symbol] = in
	e.lanes[in.Symbol] = newLane(in)
	e.log.Info().Str("symbol", in.Symbol).Msg("instrument registered")
	return nil
}

func (e *Engine) laneFor(symbol string) (*lane, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.lanes[symbol]
	return l, ok
}

// Deposit credits paper cash to an account, durably.
func (e *Engine) Deposit(accountID string, amount int64) (int64, error) {
	if accountID == "" {
		return 0, book.Reject(book.ReasonNotFound, "empty account id")
	}
	if amount <= 0 {
		return 0, book.Reject(book.ReasonInvalidQuantity, "deposit amount %d", amount)
	}
	if e.degraded.Load() {
		return 0, book.Reject(book.ReasonServiceUnavailable, "write path degraded")
	}

	rec := wal.NewRecord(wal.RecordDeposit, depositBody(accountID, amount))
	if err := e.append(rec); err != nil {
		return 0, err
	}
	balance := e.ledger.Deposit(accountID, amount)
	return balance, nil
}

// UpdateQuote records the latest market quote for an instrument and fans
// it out to subscribers. Quotes run through the instrument's lane so they
// order consistently with trades, but they are not logged: a quote is an
// observation, not a state transition, and the feed replays them itself.
func (e *Engine) UpdateQuote(q book.Quote) error {
	l, ok := e.laneFor(q.Symbol)
	if !ok {
		return book.Reject(book.ReasonInvalidInstrument, "unknown symbol %q", q.Symbol)
	}
	if q.Bid <= 0 || q.Ask <= 0 || q.Ask < q.Bid {
		return book.Reject(book.ReasonInvalidPrice, "%s: bid %d ask %d", q.Symbol, q.Bid, q.Ask)
	}
	if q.At.IsZero() {
		q.At = time.Now()
	}

	return l.do(func() error {
		e.market.Set(q)
		e.publish(EventQuote, 0, QuoteData{
			Symbol: q.Symbol,
			Bid:    q.Bid,
			Ask:    q.Ask,
			At:     q.At.UnixNano(),
		})
		return nil
	})
}

// append writes one record through the WAL with bounded retries. A
// persistent failure degrades the whole write path: nothing further is
// acknowledged until the operator restarts the process, which replays
// the log back to a consistent point.
func (e *Engine) append(rec *wal.Record) error {
	var err error
	for attempt := 0; attempt <= e.cfg.WALRetries; attempt++ {
		if _, err = e.wal.Append(rec); err == nil {
			return nil
		}
		e.log.Warn().Err(err).Int("attempt", attempt).
			Str("type", rec.Type.String()).Msg("wal append failed")
	}
	e.degraded.Store(true)
	e.log.Error().Err(err).Msg("wal unavailable, write path degraded")
	return book.Reject(book.ReasonServiceUnavailable, "log append failed: %v", err)
}

// publish hands one event to the outbox under a fresh event sequence.
// Outbox failures are logged, not surfaced: the state transition is
// already durable in the WAL and subscribers catch up via snapshots.
func (e *Engine) publish(eventType string, walSeq uint64, data any) {
	if e.outbox == nil {
		return
	}
	seq := e.eventSeq.Add(1)
	if err := e.outbox.Put(seq, envelope(eventType, walSeq, data)); err != nil {
		e.log.Error().Err(err).Uint64("seq", seq).Str("type", eventType).
			Msg("outbox put failed")
	}
}

func (e *Engine) publishOrderStatus(o *book.Order, walSeq uint64) {
	e.publish(EventOrderStatus, walSeq, OrderStatusData{
		OrderID:   o.ID,
		AccountID: o.AccountID,
		Symbol:    o.Symbol,
		Status:    o.Status.String(),
		Remaining: o.Remaining,
	})
}

// Freeze parks every lane and returns once all of them are quiescent.
// The returned release function resumes them. While frozen, books and
// ledger may be read without racing any writer.
func (e *Engine) Freeze() (release func()) {
	e.mu.RLock()
	lanes := make([]*lane, 0, len(e.lanes))
	for _, l := range e.lanes {
		lanes = append(lanes, l)
	}
	e.mu.RUnlock()

	parked := make(chan struct{}, len(lanes))
	releasec := make(chan struct{})
	for _, l := range lanes {
		l.park(parked, releasec)
	}
	for range lanes {
		<-parked
	}
	return func() { close(releasec) }
}

// exportOrders returns all tracked orders sorted by id, for snapshots.
// Caller must hold the engine frozen.
func (e *Engine) exportOrders() []book.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]book.Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) exportInstruments() []book.Instrument {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]book.Instrument, 0, len(e.instruments))
	for _, in := range e.instruments {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Close drains every lane and shuts the engine down. In-flight commands
// finish; new ones would block, so callers stop the front end first.
func (e *Engine) Close() {
	e.mu.Lock()
	lanes := make([]*lane, 0, len(e.lanes))
	for _, l := range e.lanes {
		lanes = append(lanes, l)
	}
	e.lanes = make(map[string]*lane)
	e.mu.Unlock()

	// drain outside the lock: queued commands still index into e.orders
	for _, l := range lanes {
		l.close()
	}
}
