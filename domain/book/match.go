package book

import "math"

// Fill pairs an incoming order with one resting counterparty.
// The maker's price is the execution price (price-time priority: the
// earlier-arrived order sets the price).
type Fill struct {
	Maker *Order
	Price int64
	Qty   int64
}

// Plan is the outcome of matching an incoming order against the book
// without mutating it. The caller durably records the resulting events
// first and then applies the plan with Commit, so a persistence failure
// leaves the book untouched.
type Plan struct {
	Taker *Order
	Fills []Fill
}

// FilledQty returns the total quantity the plan executes.
func (p *Plan) FilledQty() int64 {
	var q int64
	for _, f := range p.Fills {
		q += f.Qty
	}
	return q
}

// Cost returns the total cash the taker side moves, in cents. The second
// return is false when the sum is not representable; callers reject the
// order rather than reserve a wrapped amount.
func (p *Plan) Cost() (int64, bool) {
	var c int64
	for _, f := range p.Fills {
		n, ok := Notional(f.Price, f.Qty)
		if !ok || c > math.MaxInt64-n {
			return 0, false
		}
		c += n
	}
	return c, true
}

// RestingQty returns the quantity left to rest after the plan executes.
func (p *Plan) RestingQty() int64 {
	return p.Taker.Remaining - p.FilledQty()
}

// Match computes the fills an incoming order would execute right now.
// Resting orders are consumed in price-time priority while their price is
// at least as favorable as the incoming limit (no price bound for market
// orders). When skipSelf is set, resting orders of the taker's own account
// are passed over instead of matched.
func (b *Book) Match(taker *Order, skipSelf bool) *Plan {
	plan := &Plan{Taker: taker}
	need := taker.Remaining

	crosses := func(restingPrice int64) bool {
		if taker.Type == Market {
			return true
		}
		if taker.Side == Buy {
			return restingPrice <= taker.Price
		}
		return restingPrice >= taker.Price
	}

	b.treeFor(taker.Side.Opposite()).Ascend(func(lvl *level) bool {
		if need == 0 || !crosses(lvl.price) {
			return false
		}
		for _, maker := range lvl.orders {
			if need == 0 {
				return false
			}
			if skipSelf && maker.AccountID == taker.AccountID {
				continue
			}
			qty := maker.Remaining
			if qty > need {
				qty = need
			}
			if qty == 0 {
				continue
			}
			plan.Fills = append(plan.Fills, Fill{Maker: maker, Price: lvl.price, Qty: qty})
			need -= qty
		}
		return true
	})

	return plan
}

// Commit applies a previously computed plan: decrements the matched
// resting orders (removing the filled ones), decrements the taker and
// rests any limit remainder. Must run against the same book state the
// plan was computed from; the instrument lane guarantees that.
func (b *Book) Commit(p *Plan) {
	for _, f := range p.Fills {
		f.Maker.Remaining -= f.Qty
		if f.Maker.Remaining == 0 {
			f.Maker.Status = Filled
			b.Remove(f.Maker.ID)
		} else {
			f.Maker.Status = PartiallyFilled
		}
	}

	taker := p.Taker
	taker.Remaining -= p.FilledQty()
	switch {
	case taker.Remaining == 0:
		taker.Status = Filled
	case taker.Remaining < taker.Qty:
		taker.Status = PartiallyFilled
	default:
		taker.Status = Open
	}

	if taker.Type == Limit && taker.Remaining > 0 {
		b.Insert(taker)
	}
}

// AvailableQty sums the resting quantity on the given side, optionally
// excluding one account's own orders. Market orders consult it to decide
// between executing and rejecting with NoLiquidity.
func (b *Book) AvailableQty(s Side, excludeAccount string) int64 {
	var total int64
	b.treeFor(s).Ascend(func(lvl *level) bool {
		for _, o := range lvl.orders {
			if excludeAccount != "" && o.AccountID == excludeAccount {
				continue
			}
			total += o.Remaining
		}
		return true
	})
	return total
}
