package risk_test

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"

	"MarginView/internal/risk"
	"MarginView/internal/schema"
)

const now = int64(1_700_000_000)

var (
	alice = solana.MustPublicKeyFromBase58("4fYNw3dojWmQ4dXtSGE9epjRGy9pFSx62YypT7avPYvA")
	bob   = solana.MustPublicKeyFromBase58("8qbHbw2BbbTHBW1sbeqakYXVKRQM8Ne7pLK7m6CVfeR3")
)

// testAccount builds an account for alice holding quote collateral and one
// open debt slot per given debt.
func testAccount(quote uint64, debtSlots ...uint16) *schema.UserAccount {
	acct := &schema.UserAccount{
		Owner:      alice,
		QuoteTotal: quote,
	}
	for i, slot := range debtSlots {
		acct.OpenDebts[i] = slot
	}
	acct.OpenDebtsCnt = uint8(len(debtSlots))
	return acct
}

func testMarket(ocp uint8) *schema.Market {
	return &schema.Market{OverCollateralPercent: ocp}
}

// ============================================================================
// Test: Engine.Compute
// ============================================================================

func TestCompute_DebtFree(t *testing.T) {
	e := risk.NewEngine(360000)
	stats, err := e.Compute(testAccount(100), testMarket(10), 100, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Health != 100 {
		t.Errorf("debt-free health: got %d, want 100", stats.Health)
	}
	if stats.MaxWithdraw != 100 {
		t.Errorf("debt-free max withdraw: got %d, want full quote balance 100", stats.MaxWithdraw)
	}
	if stats.TotalDebt != 0 {
		t.Errorf("total debt: got %d, want 0", stats.TotalDebt)
	}
	// maxBorrow = 100*100*100/110 = 9090
	if stats.MaxBorrow != 9090 {
		t.Errorf("max borrow: got %d, want 9090", stats.MaxBorrow)
	}
}

func TestCompute_WithDebt(t *testing.T) {
	e := risk.NewEngine(360000)
	market := testMarket(10)
	market.Debts[3] = schema.Debt{
		Lender:    bob,
		Borrower:  alice,
		Timestamp: now,
		Qty:       50,
	}

	stats, err := e.Compute(testAccount(100, 3), market, 100, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalDebt != 50 {
		t.Fatalf("total debt: got %d, want 50", stats.TotalDebt)
	}
	// maxBorrow = 100*100*100/110 - 50 = 9040
	if stats.MaxBorrow != 9040 {
		t.Errorf("max borrow: got %d, want 9040", stats.MaxBorrow)
	}
	// health = 10000*100*100 / (50*105) = 19047
	if stats.Health != 19047 {
		t.Errorf("health: got %d, want 19047", stats.Health)
	}
	// locked = ceil(50*110/(100*100)) = 1, so 99 stays withdrawable
	if stats.MaxWithdraw != 99 {
		t.Errorf("max withdraw: got %d, want 99", stats.MaxWithdraw)
	}
}

func TestCompute_PriceUnavailable(t *testing.T) {
	e := risk.NewEngine(360000)
	for _, price := range []int64{0, -5} {
		_, err := e.Compute(testAccount(100), testMarket(10), price, now)
		if !errors.Is(err, risk.ErrPriceUnavailable) {
			t.Errorf("price %d: got %v, want ErrPriceUnavailable", price, err)
		}
	}
}

func TestCompute_UnderCollateralizedGoesNegative(t *testing.T) {
	e := risk.NewEngine(360000)
	market := testMarket(10)
	market.Debts[0] = schema.Debt{
		Lender:    bob,
		Borrower:  alice,
		Timestamp: now,
		Qty:       500,
	}

	stats, err := e.Compute(testAccount(1, 0), market, 1, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.MaxBorrow >= 0 {
		t.Errorf("max borrow should be negative, got %d", stats.MaxBorrow)
	}
	if stats.MaxWithdraw >= 0 {
		t.Errorf("max withdraw should be negative, got %d", stats.MaxWithdraw)
	}
	if stats.Health >= 100 {
		t.Errorf("health should be below par, got %d", stats.Health)
	}
}

func TestTotalDebt_AccruesInterest(t *testing.T) {
	e := risk.NewEngine(360000)
	market := testMarket(10)
	market.Debts[7] = schema.Debt{
		Lender:       bob,
		Borrower:     alice,
		Timestamp:    now - 3600,
		InterestRate: 10,
		Qty:          20,
	}

	got := e.TotalDebt(testAccount(100, 7), market, now)
	if got != 21 {
		t.Errorf("accrued total debt: got %d, want 21", got)
	}
}

func TestTotalDebt_IgnoresVacatedSlot(t *testing.T) {
	e := risk.NewEngine(360000)
	market := testMarket(10)
	// Slot 3 was settled between the account read and the market read:
	// qty is zeroed but the rate and timestamp linger.
	market.Debts[3] = schema.Debt{
		Lender:       bob,
		Borrower:     alice,
		Timestamp:    now - 7200,
		InterestRate: 50,
		Qty:          0,
	}

	if got := e.TotalDebt(testAccount(100, 3), market, now); got != 0 {
		t.Errorf("total debt: got %d, want 0: settled slot must not accrue", got)
	}
	if rows := e.OpenDebts(testAccount(100, 3), market, now); len(rows) != 0 {
		t.Errorf("got %d debt rows, want 0: settled slot must not be listed", len(rows))
	}
}

// ============================================================================
// Test: Engine.OpenDebts
// ============================================================================

func TestOpenDebts_Roles(t *testing.T) {
	e := risk.NewEngine(360000)
	market := testMarket(10)
	market.Debts[1] = schema.Debt{Lender: bob, Borrower: alice, Timestamp: now, InterestRate: 5, Qty: 30}
	market.Debts[2] = schema.Debt{Lender: alice, Borrower: bob, Timestamp: now, InterestRate: 7, Qty: 40}

	rows := e.OpenDebts(testAccount(100, 1, 2), market, now)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Role != risk.RoleBorrower || rows[0].ID != 1 {
		t.Errorf("row 0: got %+v, want borrower role for slot 1", rows[0])
	}
	if rows[1].Role != risk.RoleLender || rows[1].ID != 2 {
		t.Errorf("row 1: got %+v, want lender role for slot 2", rows[1])
	}
	if rows[0].PrincipalRemaining != 30 {
		t.Errorf("row 0 principal: got %d, want 30", rows[0].PrincipalRemaining)
	}
}

func TestOpenDebts_SkipsForeignSlot(t *testing.T) {
	e := risk.NewEngine(360000)
	market := testMarket(10)
	// Slot 4 was reassigned between the account read and the market read and
	// no longer involves alice.
	market.Debts[4] = schema.Debt{Lender: bob, Borrower: bob, Timestamp: now, Qty: 10}

	rows := e.OpenDebts(testAccount(100, 4), market, now)
	if len(rows) != 0 {
		t.Errorf("got %d rows, want 0: slot no longer names the owner", len(rows))
	}
}
