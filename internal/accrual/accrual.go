// Package accrual computes the outstanding balance of a debt under the
// protocol's simple-interest model. It is pure: the ledger program settles
// interest authoritatively, this package only projects what a debt is worth
// at a given instant for display and advisory risk math.
package accrual

import "math/big"

// DefaultDivisor is the protocol's rate scaling constant: the interest rate
// field is percent per hour scaled by 100, so elapsed seconds * rate /
// (60*60*100) yields principal units. The encoding belongs to the external
// program; treat it as a wire contract to be confirmed against the program's
// fixed-point scheme, never as a local policy knob.
const DefaultDivisor = 60 * 60 * 100

// RemainingDebt returns the outstanding principal of d at unix time now:
// checkpointed qty plus interest accrued since the checkpoint, net of what
// liquidation already recovered.
//
// The interest term rounds UP. A truncating division would understate the
// borrower's liability by up to one unit; the ceiling bias is part of the
// protocol contract, not an implementation detail.
func RemainingDebt(qty uint64, interestRate uint64, timestamp int64, liquidQty uint64, now int64, divisor int64) uint64 {
	if divisor <= 0 {
		divisor = DefaultDivisor
	}

	elapsed := now - timestamp
	if elapsed < 0 {
		// Clock skew between the caller and the cluster. Accrual is
		// monotonic; never let skew run it backwards.
		elapsed = 0
	}

	// accrued = ceil(qty + elapsed*rate/divisor), in 128-bit space:
	// (qty*divisor + elapsed*rate + divisor-1) / divisor.
	num := new(big.Int).Mul(
		new(big.Int).SetUint64(qty),
		big.NewInt(divisor),
	)
	interest := new(big.Int).Mul(
		big.NewInt(elapsed),
		new(big.Int).SetUint64(interestRate),
	)
	num.Add(num, interest)
	num.Add(num, big.NewInt(divisor-1))
	num.Div(num, big.NewInt(divisor))

	// Net of partial liquidation. A stale read can briefly show liquidQty
	// ahead of the accrued balance; clamp to zero instead of going negative.
	accrued := num
	liq := new(big.Int).SetUint64(liquidQty)
	if accrued.Cmp(liq) <= 0 {
		return 0
	}
	accrued.Sub(accrued, liq)
	return accrued.Uint64()
}
