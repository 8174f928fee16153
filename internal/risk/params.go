package risk

import "fmt"

// Params defines the per-market risk configuration. Set once at
// initialization, immutable thereafter. All *_Bps fields are basis
// points (scale 10,000); threshold values use the shared money scale.
type Params struct {
	WarmupPeriodSlots      int64
	MaintenanceMarginBps   int64
	InitialMarginBps       int64
	TradingFeeBps          int64
	MaxAccounts            int
	AccountFeeBps          int64
	RiskReductionThreshold int64
}

// Validate checks parameter ranges: mm > 0, im > mm, im < 10_000,
// fees within [0, 10_000), warmup period positive, at least one account.
func Validate(p Params) error {
	if p.MaintenanceMarginBps <= 0 {
		return fmt.Errorf("maintenance_margin_bps must be > 0, got %d", p.MaintenanceMarginBps)
	}
	if p.InitialMarginBps <= p.MaintenanceMarginBps {
		return fmt.Errorf("initial_margin_bps (%d) must be > maintenance_margin_bps (%d)",
			p.InitialMarginBps, p.MaintenanceMarginBps)
	}
	if p.InitialMarginBps >= 10_000 {
		return fmt.Errorf("initial_margin_bps must be < 10_000, got %d", p.InitialMarginBps)
	}
	if p.TradingFeeBps < 0 || p.TradingFeeBps >= 10_000 {
		return fmt.Errorf("trading_fee_bps out of range: %d", p.TradingFeeBps)
	}
	if p.AccountFeeBps < 0 || p.AccountFeeBps >= 10_000 {
		return fmt.Errorf("account_fee_bps out of range: %d", p.AccountFeeBps)
	}
	if p.WarmupPeriodSlots <= 0 {
		return fmt.Errorf("warmup_period_slots must be > 0, got %d", p.WarmupPeriodSlots)
	}
	if p.MaxAccounts <= 0 {
		return fmt.Errorf("max_accounts must be > 0, got %d", p.MaxAccounts)
	}
	if p.RiskReductionThreshold < 0 {
		return fmt.Errorf("risk_reduction_threshold must be >= 0, got %d", p.RiskReductionThreshold)
	}
	return nil
}
