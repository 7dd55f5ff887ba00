package book_test

import (
	"testing"

	"MarginView/internal/book"
	"MarginView/internal/schema"
)

func accountWithOrders(ids ...schema.OrderID) *schema.UserAccount {
	acct := &schema.UserAccount{}
	for i, id := range ids {
		acct.OpenOrders[i] = id
	}
	acct.OpenOrdersCnt = uint8(len(ids))
	return acct
}

// ============================================================================
// Test: OwnOrders
// ============================================================================

func TestOwnOrders_ResolvesSides(t *testing.T) {
	asks := buildSlab(t, order(5, 1, 10), order(3, 1, 20))
	bids := buildSlab(t, order(2, 1, 30), order(4, 1, 40))

	acct := accountWithOrders(
		schema.OrderID{Hi: 5, Lo: 1},
		schema.OrderID{Hi: 2, Lo: 1},
		schema.OrderID{Hi: 3, Lo: 1},
		schema.OrderID{Hi: 4, Lo: 1},
	)

	got := book.OwnOrders(acct, asks, bids)
	if len(got) != 4 {
		t.Fatalf("got %d orders, want 4: %+v", len(got), got)
	}

	// Lend rows first by ascending price, then borrow rows by descending.
	wantSides := []book.Side{book.SideLend, book.SideLend, book.SideBorrow, book.SideBorrow}
	wantPrices := []uint64{3, 5, 4, 2}
	for i := range got {
		if got[i].Side != wantSides[i] || got[i].Price != wantPrices[i] {
			t.Errorf("row %d: got side=%s price=%d, want side=%s price=%d",
				i, got[i].Side, got[i].Price, wantSides[i], wantPrices[i])
		}
	}
}

func TestOwnOrders_SkipsStaleReferences(t *testing.T) {
	asks := buildSlab(t, order(5, 1, 10))
	bids := buildSlab(t)

	// The second id refers to an order that has filled since the account
	// snapshot was taken.
	acct := accountWithOrders(
		schema.OrderID{Hi: 5, Lo: 1},
		schema.OrderID{Hi: 9, Lo: 9},
	)

	got := book.OwnOrders(acct, asks, bids)
	if len(got) != 1 {
		t.Fatalf("got %d orders, want 1: %+v", len(got), got)
	}
	if got[0].Price != 5 || got[0].Size != 10 {
		t.Errorf("surviving order: got %+v", got[0])
	}
}

func TestOwnOrders_SkipsZeroIDs(t *testing.T) {
	asks := buildSlab(t, order(5, 1, 10))
	bids := buildSlab(t)

	acct := accountWithOrders(schema.OrderID{}, schema.OrderID{Hi: 5, Lo: 1})
	got := book.OwnOrders(acct, asks, bids)
	if len(got) != 1 {
		t.Errorf("zero id must be skipped: got %+v", got)
	}
}

func TestOwnOrders_DropsIDPresentOnBothSides(t *testing.T) {
	asks := buildSlab(t, order(5, 1, 10))
	bids := buildSlab(t, order(5, 1, 99))

	acct := accountWithOrders(schema.OrderID{Hi: 5, Lo: 1})
	got := book.OwnOrders(acct, asks, bids)
	if len(got) != 0 {
		t.Errorf("an id on both sides is contradictory and must be dropped: got %+v", got)
	}
}

func TestOwnOrders_IgnoresSlotsPastCount(t *testing.T) {
	asks := buildSlab(t, order(5, 1, 10), order(6, 1, 20))
	bids := buildSlab(t)

	acct := accountWithOrders(schema.OrderID{Hi: 5, Lo: 1})
	// Residue from an earlier, larger order set; count says it is dead.
	acct.OpenOrders[1] = schema.OrderID{Hi: 6, Lo: 1}

	got := book.OwnOrders(acct, asks, bids)
	if len(got) != 1 {
		t.Errorf("slots past the live count must not resolve: got %+v", got)
	}
}

func TestOwnOrders_TieBreaksByID(t *testing.T) {
	asks := buildSlab(t, order(5, 2, 10), order(5, 1, 20))
	bids := buildSlab(t)

	acct := accountWithOrders(schema.OrderID{Hi: 5, Lo: 2}, schema.OrderID{Hi: 5, Lo: 1})
	got := book.OwnOrders(acct, asks, bids)
	if len(got) != 2 {
		t.Fatalf("got %d orders, want 2", len(got))
	}
	if !(got[0].ID.Lo == 1 && got[1].ID.Lo == 2) {
		t.Errorf("equal prices must order by id: %+v", got)
	}
}
