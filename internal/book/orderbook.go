package book

import (
	"dex_go/internal/domain"
	"dex_go/pkg/quant"

	"github.com/google/btree"
)

const degree = 32

// Resting is an order on the book. Values, not pointers: a cloned book
// never shares mutable state with its parent.
type Resting struct {
	ID         domain.OrderID `json:"id"`
	Account    domain.Key     `json:"account"` // owning UserAccount
	BaseQty    uint64         `json:"base_qty"` // remaining, base lots
	CallbackID uint64         `json:"callback_id"`
	// Tokens still locked for this order: base for asks, quote for bids.
	Locked uint64 `json:"locked"`
	// Maker rebate rate of the owner's fee tier when the order was posted.
	RebateRate uint64 `json:"rebate_rate"`
}

// Level is an aggregated price level.
type Level struct {
	Price   quant.Fp32 `json:"price"`
	BaseQty uint64     `json:"base_qty"`
	Orders  int        `json:"orders"`
}

// Book is one market's price/time priority index. Each side is a B-tree
// keyed by (price, seq): asks ascend in price, bids descend, and equal
// prices keep FIFO order by seq.
type Book struct {
	bids *btree.BTreeG[Resting]
	asks *btree.BTreeG[Resting]
}

func askLess(a, b Resting) bool {
	if a.ID.Price != b.ID.Price {
		return a.ID.Price < b.ID.Price
	}
	return a.ID.Seq < b.ID.Seq
}

func bidLess(a, b Resting) bool {
	if a.ID.Price != b.ID.Price {
		return a.ID.Price > b.ID.Price
	}
	return a.ID.Seq < b.ID.Seq
}

// New creates an empty book.
func New() *Book {
	return &Book{
		bids: btree.NewG(degree, bidLess),
		asks: btree.NewG(degree, askLess),
	}
}

// Clone returns a copy-on-write copy. Mutations to either side are not
// visible to the other.
func (b *Book) Clone() *Book {
	return &Book{
		bids: b.bids.Clone(),
		asks: b.asks.Clone(),
	}
}

func (b *Book) tree(side domain.Side) *btree.BTreeG[Resting] {
	if side == domain.SideBid {
		return b.bids
	}
	return b.asks
}

// Insert adds or replaces an order.
func (b *Book) Insert(o Resting) {
	b.tree(o.ID.Side).ReplaceOrInsert(o)
}

// Best returns the highest-priority order on side.
func (b *Book) Best(side domain.Side) (Resting, bool) {
	return b.tree(side).Min()
}

// Get looks up an order by id.
func (b *Book) Get(id domain.OrderID) (Resting, bool) {
	return b.tree(id.Side).Get(Resting{ID: id})
}

// Remove deletes an order by id.
func (b *Book) Remove(id domain.OrderID) (Resting, bool) {
	return b.tree(id.Side).Delete(Resting{ID: id})
}

// Len returns the number of orders on side.
func (b *Book) Len(side domain.Side) int {
	return b.tree(side).Len()
}

// Orders returns side in priority order.
func (b *Book) Orders(side domain.Side) []Resting {
	out := make([]Resting, 0, b.tree(side).Len())
	b.tree(side).Ascend(func(o Resting) bool {
		out = append(out, o)
		return true
	})
	return out
}

// Depth aggregates the best n price levels of side.
func (b *Book) Depth(side domain.Side, n int) []Level {
	levels := make([]Level, 0, n)
	b.tree(side).Ascend(func(o Resting) bool {
		if len(levels) > 0 && levels[len(levels)-1].Price == o.ID.Price {
			last := &levels[len(levels)-1]
			last.BaseQty += o.BaseQty
			last.Orders++
			return true
		}
		if len(levels) == n {
			return false
		}
		levels = append(levels, Level{Price: o.ID.Price, BaseQty: o.BaseQty, Orders: 1})
		return true
	})
	return levels
}

// Snapshot is the serialisable form of a book.
type Snapshot struct {
	Bids []Resting `json:"bids"`
	Asks []Resting `json:"asks"`
}

// Snapshot captures both sides in priority order.
func (b *Book) Snapshot() Snapshot {
	return Snapshot{Bids: b.Orders(domain.SideBid), Asks: b.Orders(domain.SideAsk)}
}

// FromSnapshot rebuilds a book.
func FromSnapshot(s Snapshot) *Book {
	b := New()
	for _, o := range s.Bids {
		b.Insert(o)
	}
	for _, o := range s.Asks {
		b.Insert(o)
	}
	return b
}
