package book

import (
	"testing"
	"time"
)

var testInstrument = Instrument{Symbol: "EURUSD", TickSize: 1, LotSize: 1}

func newOrder(id uint64, account string, side Side, typ OrderType, price, qty int64) *Order {
	return &Order{
		ID:        id,
		AccountID: account,
		Symbol:    testInstrument.Symbol,
		Side:      side,
		Type:      typ,
		Price:     price,
		Qty:       qty,
		Remaining: qty,
		Status:    Open,
		CreatedAt: time.Now(),
	}
}

func TestInsertAndBest(t *testing.T) {
	b := New(testInstrument)

	b.Insert(newOrder(1, "a", Buy, Limit, 10050, 100))
	b.Insert(newOrder(2, "a", Buy, Limit, 10060, 200))
	b.Insert(newOrder(3, "b", Sell, Limit, 10080, 50))
	b.Insert(newOrder(4, "b", Sell, Limit, 10070, 75))

	price, qty, ok := b.BestBid()
	if !ok || price != 10060 || qty != 200 {
		t.Fatalf("best bid = (%d, %d, %v), want (10060, 200, true)", price, qty, ok)
	}
	price, qty, ok = b.BestAsk()
	if !ok || price != 10070 || qty != 75 {
		t.Fatalf("best ask = (%d, %d, %v), want (10070, 75, true)", price, qty, ok)
	}
}

func TestMatchCrossingLimit(t *testing.T) {
	b := New(testInstrument)
	b.Insert(newOrder(1, "a", Sell, Limit, 10000, 100))

	taker := newOrder(2, "b", Buy, Limit, 10000, 100)
	plan := b.Match(taker, false)

	if len(plan.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(plan.Fills))
	}
	if plan.Fills[0].Price != 10000 || plan.Fills[0].Qty != 100 {
		t.Fatalf("fill = %+v", plan.Fills[0])
	}

	b.Commit(plan)

	if taker.Status != Filled || taker.Remaining != 0 {
		t.Fatalf("taker status=%v remaining=%d", taker.Status, taker.Remaining)
	}
	if b.Len() != 0 {
		t.Fatalf("book should be empty, has %d orders", b.Len())
	}
}

func TestMatchRespectsLimitPrice(t *testing.T) {
	b := New(testInstrument)
	b.Insert(newOrder(1, "a", Sell, Limit, 10100, 100))

	taker := newOrder(2, "b", Buy, Limit, 10000, 100)
	plan := b.Match(taker, false)
	if len(plan.Fills) != 0 {
		t.Fatalf("non-crossing limit must not fill, got %d fills", len(plan.Fills))
	}

	b.Commit(plan)
	if taker.Status != Open {
		t.Fatalf("unmatched limit should rest Open, got %v", taker.Status)
	}
	if _, ok := b.Get(2); !ok {
		t.Fatal("remainder should rest in the book")
	}
}

func TestPriceTimePriority(t *testing.T) {
	b := New(testInstrument)
	first := newOrder(1, "a", Sell, Limit, 10000, 60)
	second := newOrder(2, "b", Sell, Limit, 10000, 60)
	b.Insert(first)
	b.Insert(second)

	taker := newOrder(3, "c", Buy, Limit, 10000, 60)
	plan := b.Match(taker, false)

	if len(plan.Fills) != 1 || plan.Fills[0].Maker.ID != 1 {
		t.Fatalf("earlier order at equal price must match first: %+v", plan.Fills)
	}
	b.Commit(plan)

	if first.Status != Filled {
		t.Fatalf("first status = %v", first.Status)
	}
	if second.Status != Open || second.Remaining != 60 {
		t.Fatalf("second must be untouched: status=%v remaining=%d", second.Status, second.Remaining)
	}
}

func TestBetterPriceWins(t *testing.T) {
	b := New(testInstrument)
	b.Insert(newOrder(1, "a", Sell, Limit, 10020, 50))
	b.Insert(newOrder(2, "b", Sell, Limit, 10010, 50))

	taker := newOrder(3, "c", Buy, Limit, 10020, 50)
	plan := b.Match(taker, false)

	if len(plan.Fills) != 1 || plan.Fills[0].Price != 10010 {
		t.Fatalf("cheaper ask must match first: %+v", plan.Fills)
	}
}

func TestPartialFillRestsRemainder(t *testing.T) {
	b := New(testInstrument)
	maker := newOrder(1, "a", Sell, Limit, 10000, 40)
	b.Insert(maker)

	taker := newOrder(2, "b", Buy, Limit, 10000, 100)
	plan := b.Match(taker, false)
	b.Commit(plan)

	if taker.Status != PartiallyFilled || taker.Remaining != 60 {
		t.Fatalf("taker status=%v remaining=%d", taker.Status, taker.Remaining)
	}
	if _, ok := b.Get(2); !ok {
		t.Fatal("partial taker must rest in the book")
	}
	if _, ok := b.Get(1); ok {
		t.Fatal("filled maker must leave the book")
	}
}

func TestNoOverfill(t *testing.T) {
	b := New(testInstrument)
	b.Insert(newOrder(1, "a", Sell, Limit, 10000, 30))
	b.Insert(newOrder(2, "a", Sell, Limit, 10005, 30))

	taker := newOrder(3, "b", Buy, Limit, 10010, 100)
	plan := b.Match(taker, false)

	if got := plan.FilledQty(); got != 60 {
		t.Fatalf("filled %d, book only held 60", got)
	}
	b.Commit(plan)
	if taker.Remaining != 40 {
		t.Fatalf("remaining = %d, want 40", taker.Remaining)
	}
}

func TestSelfMatchSkip(t *testing.T) {
	b := New(testInstrument)
	b.Insert(newOrder(1, "a", Sell, Limit, 10000, 50))
	b.Insert(newOrder(2, "b", Sell, Limit, 10000, 50))

	taker := newOrder(3, "a", Buy, Limit, 10000, 50)
	plan := b.Match(taker, true)

	if len(plan.Fills) != 1 || plan.Fills[0].Maker.ID != 2 {
		t.Fatalf("own resting order must be skipped: %+v", plan.Fills)
	}
}

func TestRemoveDropsEmptyLevel(t *testing.T) {
	b := New(testInstrument)
	b.Insert(newOrder(1, "a", Buy, Limit, 10000, 10))

	if !b.Remove(1) {
		t.Fatal("remove should succeed")
	}
	if b.Remove(1) {
		t.Fatal("second remove should report absence")
	}
	if _, _, ok := b.BestBid(); ok {
		t.Fatal("empty level must be dropped from the tree")
	}
}

func TestDepthAggregation(t *testing.T) {
	b := New(testInstrument)
	b.Insert(newOrder(1, "a", Buy, Limit, 10000, 10))
	b.Insert(newOrder(2, "b", Buy, Limit, 10000, 15))
	b.Insert(newOrder(3, "a", Buy, Limit, 9990, 20))
	b.Insert(newOrder(4, "b", Sell, Limit, 10010, 5))

	bids, asks := b.Depth(10)
	if len(bids) != 2 || len(asks) != 1 {
		t.Fatalf("depth sizes = %d/%d", len(bids), len(asks))
	}
	if bids[0].Price != 10000 || bids[0].Qty != 25 {
		t.Fatalf("top bid level = %+v", bids[0])
	}
	if bids[1].Price != 9990 {
		t.Fatalf("bid levels must be ordered best first: %+v", bids)
	}

	// snapshot is non-destructive
	if b.Len() != 4 {
		t.Fatalf("depth mutated the book: %d orders", b.Len())
	}
}

func TestNotionalOverflow(t *testing.T) {
	if _, ok := Notional(3<<31, 1<<32); ok {
		t.Fatal("wrapped product must be reported, not returned")
	}
	if n, ok := Notional(1<<31, 1<<31); !ok || n != 1<<62 {
		t.Fatalf("in-range product = %d ok=%v, want 1<<62", n, ok)
	}
	if n, ok := Notional(10000, 0); !ok || n != 0 {
		t.Fatalf("zero qty = %d ok=%v", n, ok)
	}
}

func TestPlanCostOverflow(t *testing.T) {
	b := New(testInstrument)
	// each notional fits in int64; their sum does not
	b.Insert(newOrder(1, "a", Sell, Limit, 1<<31, 1<<31))
	b.Insert(newOrder(2, "b", Sell, Limit, 1<<31, 1<<31))

	taker := newOrder(3, "c", Buy, Market, 0, 1<<32)
	plan := b.Match(taker, false)

	if got := plan.FilledQty(); got != 1<<32 {
		t.Fatalf("filled %d, want full 1<<32", got)
	}
	if _, ok := plan.Cost(); ok {
		t.Fatal("summed cost past int64 must be reported as unrepresentable")
	}
}

func TestAvailableQty(t *testing.T) {
	b := New(testInstrument)
	b.Insert(newOrder(1, "a", Sell, Limit, 10000, 30))
	b.Insert(newOrder(2, "b", Sell, Limit, 10010, 20))

	if got := b.AvailableQty(Sell, ""); got != 50 {
		t.Fatalf("available = %d, want 50", got)
	}
	if got := b.AvailableQty(Sell, "a"); got != 20 {
		t.Fatalf("available excluding a = %d, want 20", got)
	}
}
