// Package risk derives advisory solvency metrics for one margin account
// from its ledger snapshot. Nothing here is enforced locally: health below
// par renders a warning, the on-chain program decides liquidation.
package risk

import (
	"errors"
	"math/big"

	"MarginView/internal/accrual"
	"MarginView/internal/schema"
)

// ErrPriceUnavailable is returned when no usable oracle price is at hand.
// A zero or negative price must never be substituted: maxBorrow and health
// computed against price 0 are indistinguishable from a perfectly healthy
// account.
var ErrPriceUnavailable = errors.New("oracle price unavailable")

// Stats holds the three advisory numbers the account view shows.
// Health is a scaled ratio where >= 100 means adequately collateralized;
// MaxWithdraw and MaxBorrow are signed and may go negative on an
// under-collateralized account; presentation decides how to clamp.
type Stats struct {
	Health      int64 `json:"health"`
	MaxWithdraw int64 `json:"max_withdraw"`
	MaxBorrow   int64 `json:"max_borrow"`
	TotalDebt   int64 `json:"total_debt"`
}

// DebtRole distinguishes which side of a debt the account owner is on.
type DebtRole string

const (
	RoleBorrower DebtRole = "borrower"
	RoleLender   DebtRole = "lender"
)

// OpenDebt is one row of the account's open debt view.
type OpenDebt struct {
	ID                 uint16   `json:"id"`
	Role               DebtRole `json:"role"`
	PrincipalRemaining uint64   `json:"principal_remaining"`
	InterestRate       uint64   `json:"interest_rate"`
	LiquidatedAmount   uint64   `json:"liquidated_amount"`
	Since              int64    `json:"since"`
}

// Engine evaluates risk for accounts on one market. The interest divisor is
// carried here because it is protocol configuration, not a constant the
// math may bake in.
type Engine struct {
	interestDivisor int64
}

func NewEngine(interestDivisor int64) *Engine {
	if interestDivisor <= 0 {
		interestDivisor = accrual.DefaultDivisor
	}
	return &Engine{interestDivisor: interestDivisor}
}

// TotalDebt sums the outstanding balance of every open debt slot the
// account references, accrued to now.
func (e *Engine) TotalDebt(acct *schema.UserAccount, market *schema.Market, now int64) int64 {
	var total int64
	for _, slot := range acct.LiveDebts() {
		d := &market.Debts[int(slot)%schema.MarketDebtSlots]
		// A settled slot keeps its rate and timestamp; without this
		// check a torn read would accrue interest on zero principal.
		if d.IsEmpty() {
			continue
		}
		total += int64(accrual.RemainingDebt(d.Qty, d.InterestRate, d.Timestamp, d.LiquidQty, now, e.interestDivisor))
	}
	return total
}

// Compute derives health, max safe withdrawal and max safe additional
// borrow. All intermediate products run through 128-bit integers; floating
// point never touches a number that feeds a solvency comparison.
func (e *Engine) Compute(acct *schema.UserAccount, market *schema.Market, oraclePrice int64, now int64) (Stats, error) {
	if oraclePrice <= 0 {
		return Stats{}, ErrPriceUnavailable
	}

	totalDebt := e.TotalDebt(acct, market, now)
	ocp := int64(market.OverCollateralPercent)
	quote := new(big.Int).SetUint64(acct.QuoteTotal)
	price := big.NewInt(oraclePrice)

	// maxBorrow = 100 * quote * price / (100 + ocp) - totalDebt
	borrowable := new(big.Int).Mul(quote, price)
	borrowable.Mul(borrowable, big.NewInt(100))
	borrowable.Div(borrowable, big.NewInt(100+ocp))
	borrowable.Sub(borrowable, big.NewInt(totalDebt))
	maxBorrow := clampInt64(borrowable)

	if totalDebt < 1 {
		// Debt-free: there is nothing to be at risk against, and the
		// ratio below would degenerate. Full quote balance is withdrawable.
		return Stats{
			Health:      100,
			MaxWithdraw: clampUint64(acct.QuoteTotal),
			MaxBorrow:   maxBorrow,
			TotalDebt:   0,
		}, nil
	}

	// Collateral that must stay behind: ceil(totalDebt*(100+ocp) / (100*price)).
	// Rounding the liability term up keeps the advisory withdraw number from
	// overstating what is safe.
	locked := new(big.Int).Mul(big.NewInt(totalDebt), big.NewInt(100+ocp))
	denom := new(big.Int).Mul(big.NewInt(100), price)
	locked.Add(locked, new(big.Int).Sub(denom, big.NewInt(1)))
	locked.Div(locked, denom)
	withdraw := new(big.Int).Sub(quote, locked)

	// health = floor(10000 * quote * price / (totalDebt * (100 + ocp/2)))
	healthNum := new(big.Int).Mul(quote, price)
	healthNum.Mul(healthNum, big.NewInt(10000))
	healthDen := new(big.Int).Mul(big.NewInt(totalDebt), big.NewInt(100+ocp/2))
	healthNum.Div(healthNum, healthDen)

	return Stats{
		Health:      clampInt64(healthNum),
		MaxWithdraw: clampInt64(withdraw),
		MaxBorrow:   maxBorrow,
		TotalDebt:   totalDebt,
	}, nil
}

// OpenDebts projects the account's open debt slots into display rows,
// accrued to now. Slots the market no longer recognizes as involving this
// owner are skipped: the account and the debt table are updated by separate
// instructions and can be transiently out of sync.
func (e *Engine) OpenDebts(acct *schema.UserAccount, market *schema.Market, now int64) []OpenDebt {
	live := acct.LiveDebts()
	rows := make([]OpenDebt, 0, len(live))
	for _, slot := range live {
		d := &market.Debts[int(slot)%schema.MarketDebtSlots]
		if d.IsEmpty() {
			continue
		}
		var role DebtRole
		switch acct.Owner {
		case d.Borrower:
			role = RoleBorrower
		case d.Lender:
			role = RoleLender
		default:
			continue
		}
		rows = append(rows, OpenDebt{
			ID:                 slot,
			Role:               role,
			PrincipalRemaining: accrual.RemainingDebt(d.Qty, d.InterestRate, d.Timestamp, d.LiquidQty, now, e.interestDivisor),
			InterestRate:       d.InterestRate,
			LiquidatedAmount:   d.LiquidQty,
			Since:              d.Timestamp,
		})
	}
	return rows
}

func clampInt64(v *big.Int) int64 {
	if v.IsInt64() {
		return v.Int64()
	}
	if v.Sign() < 0 {
		return -1 << 63
	}
	return 1<<63 - 1
}

func clampUint64(v uint64) int64 {
	if v > 1<<63-1 {
		return 1<<63 - 1
	}
	return int64(v)
}
