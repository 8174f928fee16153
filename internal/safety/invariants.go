// Package safety is the verification harness: pure checkers for the
// conservation, isolation, warmup-monotonicity, and principal-protection
// properties the core components must satisfy by construction. It is not
// runtime code; the property tests in this package drive bounded random
// instruction sequences through the real components and assert the
// checkers after every step.
//
// Unlike the core, the harness may iterate the whole account arena.
package safety

import (
	"fmt"

	"PerpCore/internal/amm"
	"PerpCore/internal/risk"
)

// TotalAccountValue sums capital + realized PnL + pending warmup over the
// entire arena.
func TotalAccountValue(e *risk.Engine) int64 {
	var total int64
	for i := 0; i < e.MaxAccounts(); i++ {
		acc, _ := e.Account(uint32(i))
		total += acc.Capital + acc.RealizedPnL + acc.Warmup.Pending()
	}
	return total
}

// SystemValue is the conserved quantity: account value plus the explicit
// sinks, with uncovered liquidation deficits added back (bad debt is value
// the system created to zero an account, tracked so the identity closes).
func SystemValue(e *risk.Engine) int64 {
	return TotalAccountValue(e) + e.FeePool + e.InsuranceFund - e.BadDebt
}

// CheckConservation verifies SystemValue tracks the net external flows
// (deposits minus withdrawal payouts) within the rounding tolerance
// accumulated by integer PnL settlement.
func CheckConservation(e *risk.Engine, netExternalFlows, tolerance int64) error {
	drift := SystemValue(e) - netExternalFlows
	if drift < -tolerance || drift > tolerance {
		return fmt.Errorf("conservation violated: system value %d, external flows %d, drift %d exceeds tolerance %d",
			SystemValue(e), netExternalFlows, drift, tolerance)
	}
	return nil
}

// SnapshotAccounts copies the full arena for isolation checks.
func SnapshotAccounts(e *risk.Engine) []risk.UserAccount {
	out := make([]risk.UserAccount, e.MaxAccounts())
	for i := range out {
		out[i], _ = e.Account(uint32(i))
	}
	return out
}

// CheckIsolation verifies that no account outside the touched set changed
// between two snapshots.
func CheckIsolation(before, after []risk.UserAccount, touched map[uint32]bool) error {
	if len(before) != len(after) {
		return fmt.Errorf("isolation check: snapshot length mismatch %d vs %d", len(before), len(after))
	}
	for i := range before {
		if touched[uint32(i)] {
			continue
		}
		if before[i] != after[i] {
			return fmt.Errorf("isolation violated: account %d changed by an operation addressed elsewhere", i)
		}
	}
	return nil
}

// CheckPrincipalProtection verifies an ADL haircut drew down capital only
// after exhausting the warmup bucket and any harvested gains.
func CheckPrincipalProtection(before, after risk.UserAccount) error {
	if after.Capital >= before.Capital {
		return nil
	}
	if after.Warmup.Pending() != 0 || after.RealizedPnL > 0 {
		return fmt.Errorf("principal protection violated: capital %d -> %d with %d warmup and %d realized remaining",
			before.Capital, after.Capital, after.Warmup.Pending(), after.RealizedPnL)
	}
	return nil
}

// CheckReserveProduct verifies a quote preserved the constant-product
// lower bound and left both reserves strictly positive.
func CheckReserveProduct(oldBase, oldQuote int64, q amm.QuoteResult) error {
	if q.NewReserveBase <= 0 || q.NewReserveQuote <= 0 {
		return fmt.Errorf("reserve positivity violated: (%d, %d)", q.NewReserveBase, q.NewReserveQuote)
	}
	if !amm.ProductNotBelow(q.NewReserveBase, q.NewReserveQuote, oldBase, oldQuote) {
		return fmt.Errorf("constant product decreased: (%d, %d) -> (%d, %d)",
			oldBase, oldQuote, q.NewReserveBase, q.NewReserveQuote)
	}
	return nil
}

// CheckWarmupMonotonic verifies the releasable warmup value never
// decreases over a strictly increasing slot sequence without realization
// events in between.
func CheckWarmupMonotonic(e *risk.Engine, idx uint32, slots []int64) error {
	var prev int64
	for i, slot := range slots {
		equity, err := e.ComputeEquity(idx, slot)
		if err != nil {
			return err
		}
		acc, _ := e.Account(idx)
		released := equity - acc.Capital - acc.RealizedPnL
		if i > 0 && released < prev {
			return fmt.Errorf("warmup release not monotonic: %d at slot %d after %d", released, slot, prev)
		}
		prev = released
	}
	return nil
}
