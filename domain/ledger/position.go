package ledger

import (
	"github.com/shopspring/decimal"

	"paperfx/domain/book"
)

// Position is a signed holding in one instrument. Quantity is positive for
// long, negative for short. The average cost basis is fractional by nature
// (weighted across fills) and is carried exactly in decimal cents.
type Position struct {
	Symbol  string
	Qty     int64
	AvgCost decimal.Decimal // cents per unit
}

// apply merges one fill into the position and returns the realized P&L
// delta in cents. Increasing exposure reweights the average cost; reducing
// exposure realizes against it; crossing zero realizes the closed part and
// reopens the remainder at the fill price.
func (p *Position) apply(side book.Side, qty, price int64) int64 {
	delta := qty
	if side == book.Sell {
		delta = -qty
	}

	old := p.Qty
	fillPrice := decimal.NewFromInt(price)

	sameDirection := old == 0 || (old > 0) == (delta > 0)
	if sameDirection {
		oldAbs := decimal.NewFromInt(abs(old))
		addAbs := decimal.NewFromInt(abs(delta))
		weighted := p.AvgCost.Mul(oldAbs).Add(fillPrice.Mul(addAbs))
		p.AvgCost = weighted.Div(oldAbs.Add(addAbs))
		p.Qty = old + delta
		return 0
	}

	closed := abs(delta)
	if c := abs(old); closed > c {
		closed = c
	}

	perUnit := fillPrice.Sub(p.AvgCost)
	if old < 0 {
		perUnit = perUnit.Neg()
	}
	realized := perUnit.Mul(decimal.NewFromInt(closed)).Round(0).IntPart()

	p.Qty = old + delta
	switch {
	case p.Qty == 0:
		p.AvgCost = decimal.Zero
	case (p.Qty > 0) != (old > 0):
		// crossed through zero: the surviving exposure opened at this fill
		p.AvgCost = fillPrice
	}
	return realized
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
