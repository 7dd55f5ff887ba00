package book

import (
	"sort"

	"MarginView/internal/schema"
)

// Side classifies an order row for the account view.
type Side string

const (
	// SideLend: a resting ask, offering base to lend at the row's rate.
	SideLend Side = "lend"
	// SideBorrow: a resting bid, asking to borrow base at the row's rate.
	SideBorrow Side = "borrow"
)

// Level is one aggregated price level of the public book.
type Level struct {
	Price uint64 `json:"price"`
	Size  uint64 `json:"size"`
}

// Depth walks the slab in price order and returns at most levels aggregated
// rows. Orders resting at the same price collapse into a single row whose
// size is the exact sum; ascending=true yields cheapest-first (the ask-side
// convention: the cheapest lending rate is the best deal for a borrower).
func (s *Slab) Depth(levels int, ascending bool) []Level {
	if levels <= 0 {
		return nil
	}

	out := make([]Level, 0, levels)
	s.walkLeaves(ascending, func(l LeafNode) bool {
		price := l.Price()
		if n := len(out); n > 0 && out[n-1].Price == price {
			out[n-1].Size += l.BaseQuantity
			return true
		}
		if len(out) == levels {
			return false
		}
		out = append(out, Level{Price: price, Size: l.BaseQuantity})
		return true
	})
	return out
}

// Order is one of the user's own resting orders, located in the book.
type Order struct {
	ID    schema.OrderID `json:"id"`
	Side  Side           `json:"side"`
	Price uint64         `json:"price"`
	Size  uint64         `json:"size"`
}

// OwnOrders resolves the account's recorded order ids against both slabs.
//
// The account and the book are updated by separate instructions, so a
// recorded id routinely refers to an order that has since filled or been
// cancelled. Such stale references are skipped silently; they are an
// expected race, not corruption. An id that somehow resolves on both sides
// is also dropped: an order belongs to exactly one side or to neither.
//
// Lend rows come first sorted by ascending price, then borrow rows by
// descending price; each side leads with its most attractive rate.
func OwnOrders(acct *schema.UserAccount, asks, bids *Slab) []Order {
	live := acct.LiveOrders()
	out := make([]Order, 0, len(live))
	for _, id := range live {
		if id.IsZero() {
			continue
		}
		askLeaf, inAsk := asks.Find(id)
		bidLeaf, inBid := bids.Find(id)
		switch {
		case inAsk && inBid:
			continue
		case inAsk:
			out = append(out, Order{ID: id, Side: SideLend, Price: askLeaf.Price(), Size: askLeaf.BaseQuantity})
		case inBid:
			out = append(out, Order{ID: id, Side: SideBorrow, Price: bidLeaf.Price(), Size: bidLeaf.BaseQuantity})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Side != out[j].Side {
			return out[i].Side == SideLend
		}
		if out[i].Price != out[j].Price {
			if out[i].Side == SideLend {
				return out[i].Price < out[j].Price
			}
			return out[i].Price > out[j].Price
		}
		return out[i].ID.Less(out[j].ID)
	})
	return out
}
