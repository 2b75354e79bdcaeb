package ledger

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"paperfx/domain/book"
)

func trade(id string, price, qty int64, buyer, seller string) book.Trade {
	return book.Trade{
		ID:         id,
		Symbol:     "EURUSD",
		Price:      price,
		Qty:        qty,
		BuyerID:    buyer,
		SellerID:   seller,
		ExecutedAt: time.Now(),
	}
}

func TestApplyTradeMovesCashAndPositions(t *testing.T) {
	l := New()
	l.Deposit("alice", 200000)
	l.Deposit("bob", 200000)

	if err := l.ApplyTrade(trade("t1", 1000, 100, "alice", "bob")); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := l.Cash("alice"); got != 100000 {
		t.Fatalf("buyer cash = %d, want 100000", got)
	}
	if got := l.Cash("bob"); got != 300000 {
		t.Fatalf("seller cash = %d, want 300000", got)
	}

	st := l.Export()
	for _, a := range st.Accounts {
		switch a.ID {
		case "alice":
			if len(a.Positions) != 1 || a.Positions[0].Qty != 100 {
				t.Fatalf("alice positions = %+v", a.Positions)
			}
		case "bob":
			if len(a.Positions) != 1 || a.Positions[0].Qty != -100 {
				t.Fatalf("bob positions = %+v", a.Positions)
			}
		}
	}
}

func TestApplyTradeIdempotent(t *testing.T) {
	l := New()
	l.Deposit("alice", 100000)
	l.Deposit("bob", 100000)

	tr := trade("t1", 500, 10, "alice", "bob")
	if err := l.ApplyTrade(tr); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	cash := l.Cash("alice")

	// retried apply with the same trade id must be a no-op
	if err := l.ApplyTrade(tr); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if got := l.Cash("alice"); got != cash {
		t.Fatalf("cash moved on duplicate apply: %d != %d", got, cash)
	}
	if !l.Applied("t1") {
		t.Fatal("trade should be recorded as applied")
	}
}

func TestWeightedAverageCostBasis(t *testing.T) {
	l := New()
	l.Deposit("alice", 10_000_000)
	l.Deposit("bob", 10_000_000)

	// 100 @ 10.00 then 100 @ 12.00 -> avg 11.00
	_ = l.ApplyTrade(trade("t1", 1000, 100, "alice", "bob"))
	_ = l.ApplyTrade(trade("t2", 1200, 100, "alice", "bob"))

	st := l.Export()
	for _, a := range st.Accounts {
		if a.ID != "alice" {
			continue
		}
		avg, _ := decimal.NewFromString(a.Positions[0].AvgCost)
		if !avg.Equal(decimal.NewFromInt(1100)) {
			t.Fatalf("avg cost = %s, want 1100", avg)
		}
	}
}

func TestRealizedPnLOnReduce(t *testing.T) {
	l := New()
	l.Deposit("alice", 10_000_000)
	l.Deposit("bob", 10_000_000)

	// alice long 100 @ 10.00, sells 40 @ 12.00 -> realized +80.00
	_ = l.ApplyTrade(trade("t1", 1000, 100, "alice", "bob"))
	_ = l.ApplyTrade(trade("t2", 1200, 40, "bob", "alice"))

	st := l.Export()
	for _, a := range st.Accounts {
		if a.ID != "alice" {
			continue
		}
		if a.Realized != 8000 {
			t.Fatalf("realized = %d, want 8000", a.Realized)
		}
		if a.Positions[0].Qty != 60 {
			t.Fatalf("qty = %d, want 60", a.Positions[0].Qty)
		}
	}
}

func TestRealizedPnLOnCrossThroughZero(t *testing.T) {
	l := New()
	l.Deposit("alice", 10_000_000)
	l.Deposit("bob", 10_000_000)

	// long 50 @ 10.00, sell 80 @ 11.00: realize +50.00 on the closed 50,
	// reopen short 30 with basis at the fill price
	_ = l.ApplyTrade(trade("t1", 1000, 50, "alice", "bob"))
	_ = l.ApplyTrade(trade("t2", 1100, 80, "bob", "alice"))

	st := l.Export()
	for _, a := range st.Accounts {
		if a.ID != "alice" {
			continue
		}
		if a.Realized != 5000 {
			t.Fatalf("realized = %d, want 5000", a.Realized)
		}
		if a.Positions[0].Qty != -30 {
			t.Fatalf("qty = %d, want -30", a.Positions[0].Qty)
		}
		avg, _ := decimal.NewFromString(a.Positions[0].AvgCost)
		if !avg.Equal(decimal.NewFromInt(1100)) {
			t.Fatalf("reopened basis = %s, want 1100", avg)
		}
	}
}

func TestReserveBlocksOvercommit(t *testing.T) {
	l := New()
	l.Deposit("alice", 1000)

	if err := l.Reserve("alice", 1, 600, 600); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	err := l.Reserve("alice", 2, 600, 600)
	if book.ReasonOf(err) != book.ReasonInsufficientFunds {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
	if got := l.Available("alice"); got != 400 {
		t.Fatalf("available = %d, want 400", got)
	}

	l.Release("alice", 1)
	if got := l.Available("alice"); got != 1000 {
		t.Fatalf("available after release = %d, want 1000", got)
	}
}

func TestHoldConsumedByFill(t *testing.T) {
	l := New()
	l.Deposit("alice", 100000)
	l.Deposit("bob", 100000)

	// buy limit 100 @ 10.00 holds 1000.00; fill at 9.90 consumes the hold
	// at the limit unit price, leaving no stranded hold after full fill
	if err := l.Reserve("alice", 7, 100000, 1000); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	tr := trade("t1", 990, 100, "alice", "bob")
	tr.BuyOrderID = 7
	if err := l.ApplyTrade(tr); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := l.Cash("alice"); got != 1000 {
		t.Fatalf("cash = %d, want 1000", got)
	}
	if got := l.Available("alice"); got != 1000 {
		t.Fatalf("available = %d, want 1000 (hold fully consumed)", got)
	}
}

func TestConcurrentTradesNoDeadlock(t *testing.T) {
	l := New()
	l.Deposit("alice", 100_000_000)
	l.Deposit("bob", 100_000_000)

	// opposite lock orders on the same two accounts, concurrently
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		a := trade(tradeID("ab", i), 1000, 1, "alice", "bob")
		b := trade(tradeID("ba", i), 1000, 1, "bob", "alice")
		go func() { defer wg.Done(); _ = l.ApplyTrade(a) }()
		go func() { defer wg.Done(); _ = l.ApplyTrade(b) }()
	}
	wg.Wait()

	// flows are symmetric, cash must net out
	if got := l.Cash("alice"); got != 100_000_000 {
		t.Fatalf("alice cash = %d", got)
	}
	if got := l.Cash("bob"); got != 100_000_000 {
		t.Fatalf("bob cash = %d", got)
	}
}

func tradeID(prefix string, i int) string {
	return fmt.Sprintf("%s-%d", prefix, i)
}

type fakeQuotes map[string]book.Quote

func (f fakeQuotes) Latest(symbol string) (book.Quote, bool) {
	q, ok := f[symbol]
	return q, ok
}

func TestValuationMarksToMid(t *testing.T) {
	l := New()
	l.Deposit("alice", 1_000_000)
	l.Deposit("bob", 1_000_000)
	_ = l.ApplyTrade(trade("t1", 1000, 100, "alice", "bob"))

	now := time.Now()
	quotes := fakeQuotes{"EURUSD": {Symbol: "EURUSD", Bid: 1090, Ask: 1110, At: now}}

	rep, err := l.Valuation("alice", quotes, time.Minute, now)
	if err != nil {
		t.Fatalf("valuation: %v", err)
	}
	// mid 11.00, basis 10.00, qty 100 -> +100.00 unrealized
	if rep.Unrealized != 10000 {
		t.Fatalf("unrealized = %d, want 10000", rep.Unrealized)
	}
	if rep.Equity != rep.Cash+rep.Unrealized {
		t.Fatalf("equity = %d", rep.Equity)
	}
}

func TestValuationStaleQuote(t *testing.T) {
	l := New()
	l.Deposit("alice", 1_000_000)
	l.Deposit("bob", 1_000_000)
	_ = l.ApplyTrade(trade("t1", 1000, 100, "alice", "bob"))

	now := time.Now()
	quotes := fakeQuotes{"EURUSD": {Symbol: "EURUSD", Bid: 1000, Ask: 1010, At: now.Add(-time.Hour)}}

	_, err := l.Valuation("alice", quotes, time.Minute, now)
	if book.ReasonOf(err) != book.ReasonStaleQuote {
		t.Fatalf("expected StaleQuote, got %v", err)
	}
}

func TestExportRestoreRoundTrip(t *testing.T) {
	l := New()
	l.Deposit("alice", 500000)
	l.Deposit("bob", 500000)
	_ = l.Reserve("alice", 3, 1000, 100)
	_ = l.ApplyTrade(trade("t1", 1200, 30, "alice", "bob"))

	st := l.Export()

	restored := New()
	if err := restored.Restore(st); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Cash("alice") != l.Cash("alice") {
		t.Fatal("cash mismatch after restore")
	}
	if restored.Available("alice") != l.Available("alice") {
		t.Fatal("holds mismatch after restore")
	}
	if !restored.Applied("t1") {
		t.Fatal("applied trade set lost in restore")
	}
}
