// Package ledger owns all account state: cash, holds, positions and P&L.
// Trades are the only thing that moves cash between accounts, and each
// trade applies exactly once, keyed by trade id.
package ledger

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"paperfx/domain/book"
)

var ErrUnknownAccount = errors.New("ledger: unknown account")

// hold is an optimistic reservation against an account's cash, keyed by the
// order that motivated it. unitPrice is the limit price the hold was priced
// at; zero means the hold is consumed by actual trade cost (market buys).
type hold struct {
	amount    int64
	unitPrice int64
}

// Account state is mutated only under its own mutex. Cross-account trade
// application locks both accounts in lexicographic id order.
type Account struct {
	mu        sync.Mutex
	id        string
	cash      int64 // cents
	realized  int64 // cents
	holds     map[uint64]hold
	positions map[string]*Position
}

func (a *Account) heldTotal() int64 {
	var t int64
	for _, h := range a.holds {
		t += h.amount
	}
	return t
}

// QuoteSource supplies the latest quote per instrument for valuation.
type QuoteSource interface {
	Latest(symbol string) (book.Quote, bool)
}

// Ledger is the collection of all account ledgers plus the exactly-once
// trade application record.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	applied  map[string]struct{} // trade ids already applied
}

func New() *Ledger {
	return &Ledger{
		accounts: make(map[string]*Account),
		applied:  make(map[string]struct{}),
	}
}

// Ensure returns the account, creating an empty one on first reference.
func (l *Ledger) Ensure(accountID string) *Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ensureLocked(accountID)
}

func (l *Ledger) ensureLocked(accountID string) *Account {
	a, ok := l.accounts[accountID]
	if !ok {
		a = &Account{
			id:        accountID,
			holds:     make(map[uint64]hold),
			positions: make(map[string]*Position),
		}
		l.accounts[accountID] = a
	}
	return a
}

func (l *Ledger) lookup(accountID string) (*Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[accountID]
	return a, ok
}

// Deposit credits paper cash to the account, creating it if needed.
func (l *Ledger) Deposit(accountID string, amount int64) int64 {
	a := l.Ensure(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cash += amount
	return a.cash
}

// Available returns cash not committed to open holds.
func (l *Ledger) Available(accountID string) int64 {
	a, ok := l.lookup(accountID)
	if !ok {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash - a.heldTotal()
}

// Cash returns the raw cash balance.
func (l *Ledger) Cash(accountID string) int64 {
	a, ok := l.lookup(accountID)
	if !ok {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

// Reserve places a hold of amount cents against the account, keyed by
// order id. It fails with InsufficientFunds when the hold would exceed the
// cash not already held, which is what prevents overcommitment across
// concurrently pending orders.
func (l *Ledger) Reserve(accountID string, orderID uint64, amount, unitPrice int64) error {
	a := l.Ensure(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cash-a.heldTotal() < amount {
		return book.Reject(book.ReasonInsufficientFunds,
			"account %s: need %d, available %d", accountID, amount, a.cash-a.heldTotal())
	}
	a.holds[orderID] = hold{amount: amount, unitPrice: unitPrice}
	return nil
}

// Release drops whatever remains of the hold for an order. Safe to call
// when no hold exists (rejected or already consumed).
func (l *Ledger) Release(accountID string, orderID uint64) {
	a, ok := l.lookup(accountID)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.holds, orderID)
}

// ApplyTrade applies one trade to both accounts atomically. A retried
// apply with the same trade id is a no-op. The buyer is debited and the
// seller credited at price*qty; both positions update their basis and the
// reducing side realizes P&L.
func (l *Ledger) ApplyTrade(t book.Trade) error {
	l.mu.Lock()
	if _, done := l.applied[t.ID]; done {
		l.mu.Unlock()
		return nil
	}
	buyer := l.ensureLocked(t.BuyerID)
	seller := l.ensureLocked(t.SellerID)
	l.applied[t.ID] = struct{}{}
	l.mu.Unlock()

	// fixed global ordering prevents lock-order deadlock
	first, second := buyer, seller
	if first.id > second.id {
		first, second = second, first
	}
	first.mu.Lock()
	if first != second {
		second.mu.Lock()
		defer second.mu.Unlock()
	}
	defer first.mu.Unlock()

	cost := t.Cost()

	buyer.cash -= cost
	buyer.consumeHold(t.BuyOrderID, t.Qty, cost)
	buyer.realized += buyer.position(t.Symbol).apply(book.Buy, t.Qty, t.Price)

	seller.cash += cost
	seller.realized += seller.position(t.Symbol).apply(book.Sell, t.Qty, t.Price)

	buyer.dropFlat(t.Symbol)
	seller.dropFlat(t.Symbol)
	return nil
}

// Applied reports whether a trade id has been applied already.
func (l *Ledger) Applied(tradeID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.applied[tradeID]
	return ok
}

func (a *Account) position(symbol string) *Position {
	p, ok := a.positions[symbol]
	if !ok {
		p = &Position{Symbol: symbol, AvgCost: decimal.Zero}
		a.positions[symbol] = p
	}
	return p
}

func (a *Account) dropFlat(symbol string) {
	if p, ok := a.positions[symbol]; ok && p.Qty == 0 {
		delete(a.positions, symbol)
	}
}

// consumeHold reduces the hold for the buy order that just filled. Holds
// priced per unit shrink by unitPrice*qty (the limit price always bounds
// the execution price); cost-priced holds shrink by the actual cost.
func (a *Account) consumeHold(orderID uint64, qty, cost int64) {
	h, ok := a.holds[orderID]
	if !ok {
		return
	}
	consumed := cost
	if h.unitPrice > 0 {
		consumed = h.unitPrice * qty
	}
	h.amount -= consumed
	if h.amount <= 0 {
		delete(a.holds, orderID)
		return
	}
	a.holds[orderID] = h
}

// PositionReport is one marked position inside a valuation.
type PositionReport struct {
	Symbol     string          `json:"symbol"`
	Qty        int64           `json:"qty"`
	AvgCost    decimal.Decimal `json:"avg_cost"`
	Mark       int64           `json:"mark"`
	Unrealized int64           `json:"unrealized"`
}

// ValuationReport marks every open position to the latest quote.
type ValuationReport struct {
	AccountID  string           `json:"account_id"`
	Cash       int64            `json:"cash"`
	Held       int64            `json:"held"`
	Realized   int64            `json:"realized"`
	Unrealized int64            `json:"unrealized"`
	Equity     int64            `json:"equity"`
	Positions  []PositionReport `json:"positions"`
	At         time.Time        `json:"at"`
}

// Valuation marks each open position to quotes' midpoint. It fails with
// StaleQuote when any held instrument has no quote newer than maxQuoteAge.
func (l *Ledger) Valuation(accountID string, quotes QuoteSource, maxQuoteAge time.Duration, now time.Time) (*ValuationReport, error) {
	a, ok := l.lookup(accountID)
	if !ok {
		return nil, ErrUnknownAccount
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	rep := &ValuationReport{
		AccountID: accountID,
		Cash:      a.cash,
		Held:      a.heldTotal(),
		Realized:  a.realized,
		At:        now,
	}

	symbols := make([]string, 0, len(a.positions))
	for sym := range a.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		p := a.positions[sym]
		q, ok := quotes.Latest(p.Symbol)
		if !ok || now.Sub(q.At) > maxQuoteAge {
			return nil, book.Reject(book.ReasonStaleQuote, "no fresh quote for %s", p.Symbol)
		}
		mark := q.Mid()
		unreal := decimal.NewFromInt(mark).Sub(p.AvgCost).
			Mul(decimal.NewFromInt(p.Qty)).Round(0).IntPart()
		rep.Unrealized += unreal
		rep.Positions = append(rep.Positions, PositionReport{
			Symbol:     p.Symbol,
			Qty:        p.Qty,
			AvgCost:    p.AvgCost,
			Mark:       mark,
			Unrealized: unreal,
		})
	}
	rep.Equity = rep.Cash + rep.Unrealized
	return rep, nil
}
