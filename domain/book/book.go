package book

import (
	"github.com/google/btree"
)

// level is one price point on a book side. Orders queue FIFO within a
// level, which is what gives equal prices time priority.
type level struct {
	price  int64
	orders []*Order
}

func (l *level) totalQty() int64 {
	var q int64
	for _, o := range l.orders {
		q += o.Remaining
	}
	return q
}

// Book holds the open orders of a single instrument. It is not safe for
// concurrent use; the owning instrument lane serializes all access.
type Book struct {
	instrument Instrument
	bids       *btree.BTreeG[*level] // best (highest) price first
	asks       *btree.BTreeG[*level] // best (lowest) price first
	orders     map[uint64]*Order     // open orders only
}

func New(in Instrument) *Book {
	return &Book{
		instrument: in,
		bids:       btree.NewG(32, func(a, b *level) bool { return a.price > b.price }),
		asks:       btree.NewG(32, func(a, b *level) bool { return a.price < b.price }),
		orders:     make(map[uint64]*Order),
	}
}

func (b *Book) Instrument() Instrument { return b.instrument }

func (b *Book) treeFor(s Side) *btree.BTreeG[*level] {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// Get returns an open order by id.
func (b *Book) Get(id uint64) (*Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

// Len returns the number of open orders resting in the book.
func (b *Book) Len() int { return len(b.orders) }

// Insert rests an order in the book. The caller has already validated it
// and run it through matching; only the unmatched remainder rests.
func (b *Book) Insert(o *Order) {
	tree := b.treeFor(o.Side)
	key := &level{price: o.Price}
	lvl, ok := tree.Get(key)
	if !ok {
		lvl = &level{price: o.Price}
		tree.ReplaceOrInsert(lvl)
	}
	lvl.orders = append(lvl.orders, o)
	b.orders[o.ID] = o
}

// Remove unlinks an order from its price level, dropping the level when it
// empties. Returns false if the order is not resting in the book.
func (b *Book) Remove(id uint64) bool {
	o, ok := b.orders[id]
	if !ok {
		return false
	}
	tree := b.treeFor(o.Side)
	key := &level{price: o.Price}
	if lvl, found := tree.Get(key); found {
		for i, cur := range lvl.orders {
			if cur.ID == id {
				lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
				break
			}
		}
		if len(lvl.orders) == 0 {
			tree.Delete(key)
		}
	}
	delete(b.orders, id)
	return true
}

// best returns the top level of the given side, or nil when empty.
func (b *Book) best(s Side) *level {
	var top *level
	b.treeFor(s).Ascend(func(l *level) bool {
		top = l
		return false
	})
	return top
}

// BestBid returns the highest resting buy price and its aggregate quantity.
func (b *Book) BestBid() (price, qty int64, ok bool) {
	if lvl := b.best(Buy); lvl != nil {
		return lvl.price, lvl.totalQty(), true
	}
	return 0, 0, false
}

// BestAsk returns the lowest resting sell price and its aggregate quantity.
func (b *Book) BestAsk() (price, qty int64, ok bool) {
	if lvl := b.best(Sell); lvl != nil {
		return lvl.price, lvl.totalQty(), true
	}
	return 0, 0, false
}

// DepthLevel is one aggregated price point of a book snapshot.
type DepthLevel struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

// Depth returns an immutable aggregated view of the top n levels per side.
// It never mutates the book.
func (b *Book) Depth(n int) (bids, asks []DepthLevel) {
	collect := func(tree *btree.BTreeG[*level]) []DepthLevel {
		out := make([]DepthLevel, 0, n)
		tree.Ascend(func(l *level) bool {
			out = append(out, DepthLevel{Price: l.price, Qty: l.totalQty()})
			return len(out) < n
		})
		return out
	}
	return collect(b.bids), collect(b.asks)
}
