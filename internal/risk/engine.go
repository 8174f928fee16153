// Package risk holds the per-account financial ledgers and enforces the
// venue's safety rules: margin gating, PnL warmup, funding settlement,
// liquidation, and ADL haircuts.
//
// Accounts live in a fixed-capacity arena addressed by integer index.
// Every mutating operation validates all preconditions before the first
// write; on error the arena is byte-for-byte unchanged.
package risk

import (
	"errors"

	"PerpCore/internal/fpmath"
	"PerpCore/internal/slab"
)

var (
	ErrInsufficientMargin     = errors.New("risk: insufficient margin")
	ErrInsufficientCollateral = errors.New("risk: insufficient collateral")
	ErrAccountOutOfRange      = errors.New("risk: account index out of range")
	ErrInvalidAmount          = errors.New("risk: invalid amount")
	ErrNotLiquidatable        = errors.New("risk: account not liquidatable")
	ErrOverflow               = errors.New("risk: arithmetic overflow")
)

// Engine owns the account arena and the explicitly routed value sinks.
// FeePool collects trading and account fees; InsuranceFund collects ADL
// haircuts and covers liquidation deficits; BadDebt records deficits the
// fund could not cover. The sinks are pool aggregates shared by every
// account and are the only cross-account state an operation may touch.
type Engine struct {
	params   Params
	accounts []UserAccount

	FeePool       int64
	InsuranceFund int64
	BadDebt       int64
}

// NewEngine allocates the arena at its fixed capacity.
func NewEngine(params Params) (*Engine, error) {
	if err := Validate(params); err != nil {
		return nil, err
	}
	return &Engine{
		params:   params,
		accounts: make([]UserAccount, params.MaxAccounts),
	}, nil
}

// Params returns the immutable market parameters.
func (e *Engine) Params() Params {
	return e.params
}

// Account returns a copy of the account at idx for inspection.
func (e *Engine) Account(idx uint32) (UserAccount, error) {
	if int(idx) >= len(e.accounts) {
		return UserAccount{}, ErrAccountOutOfRange
	}
	return e.accounts[idx], nil
}

// MaxAccounts reports the arena capacity.
func (e *Engine) MaxAccounts() int {
	return len(e.accounts)
}

// Deposit credits capital. Always succeeds for a positive amount on a
// valid index; the first deposit moves the account out of Empty.
func (e *Engine) Deposit(idx uint32, amount int64) error {
	if int(idx) >= len(e.accounts) {
		return ErrAccountOutOfRange
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	acc := e.accounts[idx]
	capital, ok := fpmath.CheckedAdd(acc.Capital, amount)
	if !ok {
		return ErrOverflow
	}
	acc.Capital = capital
	if acc.State == AccountStateEmpty {
		acc.State = AccountStateFunded
	}

	e.accounts[idx] = acc
	return nil
}

// Withdraw debits capital after settling pending funding and harvesting
// released warmup PnL. The post-withdrawal equity must clear the
// initial-margin bound (stricter than maintenance: withdrawing reduces a
// safety buffer) and, for open positions, the risk-reduction threshold.
// AccountFeeBps of the amount is routed to the fee pool; the remainder
// leaves the system. On error nothing commits, the funding settlement
// included.
func (e *Engine) Withdraw(idx uint32, amount, markPrice, slot, fundingIndex int64) error {
	if int(idx) >= len(e.accounts) {
		return ErrAccountOutOfRange
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	acc := e.accounts[idx]
	if err := applyFundingTo(&acc, fundingIndex); err != nil {
		return err
	}

	// Explicit realization event: move released warmup into RealizedPnL.
	acc.RealizedPnL += acc.Warmup.Harvest(slot, e.params.WarmupPeriodSlots)

	available := acc.Capital + acc.RealizedPnL
	if amount > available {
		return ErrInsufficientCollateral
	}

	equityAfter := available - amount
	notional := fpmath.Notional(acc.PositionSize, markPrice)
	if equityAfter < fpmath.BpsOf(notional, e.params.InitialMarginBps) {
		return ErrInsufficientMargin
	}
	if !acc.IsFlat() && equityAfter < e.params.RiskReductionThreshold {
		return ErrInsufficientMargin
	}

	// Draw harvested gains before principal.
	remaining := amount
	if acc.RealizedPnL > 0 {
		take := remaining
		if take > acc.RealizedPnL {
			take = acc.RealizedPnL
		}
		acc.RealizedPnL -= take
		remaining -= take
	}
	acc.Capital -= remaining

	e.FeePool += fpmath.BpsOf(amount, e.params.AccountFeeBps)

	if acc.IsFlat() && acc.Capital == 0 && acc.RealizedPnL == 0 && acc.Warmup.Pending() == 0 {
		acc.State = AccountStateEmpty
	}

	e.accounts[idx] = acc
	return nil
}

// SettleFill consumes one fill receipt, updating both the maker and the
// taker ledger. Entry prices update by volume-weighted averaging; the
// realized PnL of any closed portion settles into capital immediately
// when negative and into the warmup bucket when positive. The taker pays
// TradingFeeBps of the fill notional into the fee pool.
func (e *Engine) SettleFill(receipt slab.FillReceipt) error {
	if int(receipt.Taker) >= len(e.accounts) || int(receipt.Maker) >= len(e.accounts) {
		return ErrAccountOutOfRange
	}
	if receipt.Size <= 0 || receipt.Price <= 0 {
		return ErrInvalidAmount
	}

	takerDelta := receipt.Size
	if receipt.Side == slab.SideAsk {
		takerDelta = -receipt.Size
	}

	fee := fpmath.BpsOf(fpmath.Notional(receipt.Size, receipt.Price), e.params.TradingFeeBps)

	if receipt.Taker == receipt.Maker {
		// Self-match: position deltas cancel; only the fee applies.
		acc := e.accounts[receipt.Taker]
		applyPositionDelta(&acc, takerDelta, receipt.Price, receipt.Slot, e.params.WarmupPeriodSlots)
		applyPositionDelta(&acc, -takerDelta, receipt.Price, receipt.Slot, e.params.WarmupPeriodSlots)
		acc.Capital -= fee
		e.accounts[receipt.Taker] = acc
		e.FeePool += fee
		return nil
	}

	taker := e.accounts[receipt.Taker]
	maker := e.accounts[receipt.Maker]

	applyPositionDelta(&taker, takerDelta, receipt.Price, receipt.Slot, e.params.WarmupPeriodSlots)
	applyPositionDelta(&maker, -takerDelta, receipt.Price, receipt.Slot, e.params.WarmupPeriodSlots)
	taker.Capital -= fee

	e.accounts[receipt.Taker] = taker
	e.accounts[receipt.Maker] = maker
	e.FeePool += fee
	return nil
}

// applyPositionDelta mutates a working copy of an account for a signed
// size delta at the given price, handling open, increase, partial close,
// full close, and flip.
func applyPositionDelta(acc *UserAccount, delta, price, slot, warmupPeriod int64) {
	if delta == 0 {
		return
	}

	oldSize := acc.PositionSize

	switch {
	case oldSize == 0 || (oldSize > 0) == (delta > 0):
		// Open or increase: VWAP the entry price over absolute sizes.
		acc.EntryPrice = fpmath.AvgEntryPrice(abs(oldSize), acc.EntryPrice, abs(delta), price)
		acc.PositionSize = oldSize + delta

	default:
		closeQty := abs(delta)
		if closeQty > abs(oldSize) {
			closeQty = abs(oldSize)
		}
		settlePnL(acc, fpmath.RealizedPnL(acc.SideSign(), price, acc.EntryPrice, closeQty), slot)

		acc.PositionSize = oldSize + delta
		if acc.PositionSize == 0 {
			acc.EntryPrice = 0
		} else if (acc.PositionSize > 0) != (oldSize > 0) {
			// Flip: the residual opens fresh at the fill price.
			acc.EntryPrice = price
		}
	}

	if acc.PositionSize != 0 {
		acc.State = AccountStatePositionOpen
	} else if acc.State == AccountStatePositionOpen {
		acc.State = AccountStateFunded
	}
}

// settlePnL recognizes a realized PnL delta: losses hit capital at once,
// gains enter the warmup bucket time-gated at the fill slot.
func settlePnL(acc *UserAccount, pnl, slot int64) {
	if pnl < 0 {
		acc.Capital += pnl
	} else if pnl > 0 {
		acc.Warmup.Add(pnl, slot)
	}
}

// ApplyFunding applies a funding payment to one account: positive delta
// debits (the account pays), negative credits.
func (e *Engine) ApplyFunding(idx uint32, fundingDelta int64) error {
	if int(idx) >= len(e.accounts) {
		return ErrAccountOutOfRange
	}
	capital, ok := fpmath.CheckedSub(e.accounts[idx].Capital, fundingDelta)
	if !ok {
		return ErrOverflow
	}
	e.accounts[idx].Capital = capital
	return nil
}

// SyncFunding settles the account against the pool's cumulative funding
// index: payment = (index - checkpoint) * position. Longs pay a rising
// index, shorts receive it.
func (e *Engine) SyncFunding(idx uint32, fundingIndex int64) error {
	if int(idx) >= len(e.accounts) {
		return ErrAccountOutOfRange
	}
	acc := e.accounts[idx]
	if err := applyFundingTo(&acc, fundingIndex); err != nil {
		return err
	}
	e.accounts[idx] = acc
	return nil
}

// applyFundingTo settles pending funding on a working copy, so callers
// can fold the settlement into their own compute-then-commit.
func applyFundingTo(acc *UserAccount, fundingIndex int64) error {
	delta, ok := fpmath.CheckedSub(fundingIndex, acc.FundingIndex)
	if !ok {
		return ErrOverflow
	}
	payment := fpmath.FundingPayment(delta, acc.PositionSize)
	capital, ok := fpmath.CheckedSub(acc.Capital, payment)
	if !ok {
		return ErrOverflow
	}
	acc.Capital = capital
	acc.FundingIndex = fundingIndex
	return nil
}

// ComputeEquity returns capital + realized PnL + the released portion of
// the warmup bucket at the given slot. Read-only.
func (e *Engine) ComputeEquity(idx uint32, slot int64) (int64, error) {
	if int(idx) >= len(e.accounts) {
		return 0, ErrAccountOutOfRange
	}
	acc := &e.accounts[idx]
	return acc.Capital + acc.RealizedPnL + acc.Warmup.Releasable(slot, e.params.WarmupPeriodSlots), nil
}

// fundingAdjustedAccount returns a copy of the account with pending
// funding against fundingIndex settled, without committing anything.
func (e *Engine) fundingAdjustedAccount(idx uint32, fundingIndex int64) (UserAccount, error) {
	if int(idx) >= len(e.accounts) {
		return UserAccount{}, ErrAccountOutOfRange
	}
	acc := e.accounts[idx]
	if err := applyFundingTo(&acc, fundingIndex); err != nil {
		return UserAccount{}, err
	}
	return acc, nil
}

// equityOf is ComputeEquity over a working copy.
func (e *Engine) equityOf(acc *UserAccount, slot int64) int64 {
	return acc.Capital + acc.RealizedPnL + acc.Warmup.Releasable(slot, e.params.WarmupPeriodSlots)
}

// IsLiquidatable reports whether funding-adjusted equity has fallen below
// the maintenance bound for the position notional at markPrice. Read-only.
func (e *Engine) IsLiquidatable(idx uint32, markPrice, slot, fundingIndex int64) (bool, error) {
	acc, err := e.fundingAdjustedAccount(idx, fundingIndex)
	if err != nil {
		return false, err
	}
	if acc.IsFlat() {
		return false, nil
	}
	required := fpmath.BpsOf(fpmath.Notional(acc.PositionSize, markPrice), e.params.MaintenanceMarginBps)
	return e.equityOf(&acc, slot) < required, nil
}

// CanIncreaseExposure reports whether the account may grow its position:
// funding-adjusted equity must clear both the initial-margin bound on
// current notional and the risk-reduction threshold. Read-only.
func (e *Engine) CanIncreaseExposure(idx uint32, markPrice, slot, fundingIndex int64) (bool, error) {
	acc, err := e.fundingAdjustedAccount(idx, fundingIndex)
	if err != nil {
		return false, err
	}
	equity := e.equityOf(&acc, slot)
	if equity < e.params.RiskReductionThreshold {
		return false, nil
	}
	required := fpmath.BpsOf(fpmath.Notional(acc.PositionSize, markPrice), e.params.InitialMarginBps)
	return equity >= required, nil
}

// Liquidate force-closes the full position at markPrice after settling
// pending funding. The account must be below maintenance margin. A
// resulting deficit is absorbed by the account's own unharvested warmup
// gains first, then the insurance fund; whatever the fund cannot absorb
// is recorded as bad debt. On error nothing commits.
func (e *Engine) Liquidate(idx uint32, markPrice, slot, fundingIndex int64) error {
	acc, err := e.fundingAdjustedAccount(idx, fundingIndex)
	if err != nil {
		return err
	}
	if acc.IsFlat() {
		return ErrNotLiquidatable
	}
	required := fpmath.BpsOf(fpmath.Notional(acc.PositionSize, markPrice), e.params.MaintenanceMarginBps)
	if e.equityOf(&acc, slot) >= required {
		return ErrNotLiquidatable
	}

	acc.State = AccountStateLiquidating

	closeQty := abs(acc.PositionSize)
	settlePnL(&acc, fpmath.RealizedPnL(acc.SideSign(), markPrice, acc.EntryPrice, closeQty), slot)
	acc.PositionSize = 0
	acc.EntryPrice = 0

	// The debtor's own unharvested gains absorb the deficit before any
	// shared funds do; only then the insurance fund, with the rest
	// recorded as bad debt so conservation stays explicit.
	if value := acc.Capital + acc.RealizedPnL; value < 0 {
		deficit := -value
		drained := acc.Warmup.Drain(deficit)
		acc.Capital += drained
		deficit -= drained
		if deficit > 0 {
			covered, remaining := coverage(e.InsuranceFund, deficit)
			e.InsuranceFund -= covered
			e.BadDebt += remaining
			acc.Capital += deficit
		}
	}

	if acc.Capital == 0 && acc.RealizedPnL == 0 && acc.Warmup.Pending() == 0 {
		acc.State = AccountStateEmpty
	} else {
		acc.State = AccountStateFunded
	}

	e.accounts[idx] = acc
	return nil
}

// coverage returns how much of a deficit the fund absorbs and what remains.
func coverage(fundBalance, deficit int64) (covered, remaining int64) {
	if fundBalance >= deficit {
		return deficit, 0
	}
	if fundBalance < 0 {
		return 0, deficit
	}
	return fundBalance, deficit - fundBalance
}

// ApplyADL applies an auto-deleveraging haircut of haircutBps against the
// account's recoverable value. Unharvested warmup PnL is seized first,
// then harvested gains, and principal only once both are exhausted. The
// seized value credits the insurance fund.
func (e *Engine) ApplyADL(idx uint32, haircutBps int64) error {
	if int(idx) >= len(e.accounts) {
		return ErrAccountOutOfRange
	}
	if haircutBps <= 0 || haircutBps > fpmath.BpsDenom {
		return ErrInvalidAmount
	}

	acc := e.accounts[idx]

	base := acc.Warmup.Pending()
	if acc.RealizedPnL > 0 {
		base += acc.RealizedPnL
	}
	if acc.Capital > 0 {
		base += acc.Capital
	}
	target := fpmath.BpsOf(base, haircutBps)
	if target == 0 {
		return nil
	}

	seized := acc.Warmup.Drain(target)
	if seized < target && acc.RealizedPnL > 0 {
		take := target - seized
		if take > acc.RealizedPnL {
			take = acc.RealizedPnL
		}
		acc.RealizedPnL -= take
		seized += take
	}
	if seized < target && acc.Capital > 0 {
		take := target - seized
		if take > acc.Capital {
			take = acc.Capital
		}
		acc.Capital -= take
		seized += take
	}

	e.InsuranceFund += seized
	e.accounts[idx] = acc
	return nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
