// Command perpcore replays a scripted instruction sequence through the
// deterministic core and prints the resulting state-hash chain tip.
// Running it twice always prints the same hash; it exists to demonstrate
// and eyeball replay determinism, not to serve traffic.
package main

import (
	"encoding/hex"
	"os"

	"github.com/google/uuid"

	"PerpCore/internal/instr"
	"PerpCore/internal/observability"
	"PerpCore/internal/risk"
	"PerpCore/internal/slab"
)

func main() {
	logger := observability.NewLogger("perpcore")
	metrics := observability.NewMetrics()
	core := instr.NewCore(logger, metrics)

	lpOwner := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	script := []instr.Instruction{
		instr.Initialize{
			LPOwner: lpOwner,
			Params: risk.Params{
				WarmupPeriodSlots:      100,
				MaintenanceMarginBps:   500,
				InitialMarginBps:       1_000,
				TradingFeeBps:          10,
				MaxAccounts:            16,
				AccountFeeBps:          5,
				RiskReductionThreshold: 1_000_000,
			},
			BookCapacity: 64,
			ReserveBase:  1_000_000_000_000,
			ReserveQuote: 2_000_000_000_000,
		},
		instr.Deposit{Account: 0, Amount: 500_000_000},
		instr.Deposit{Account: 1, Amount: 500_000_000},
		instr.PlaceOrder{Owner: 0, Side: slab.SideAsk, Price: 2_000_000, Size: 50_000_000},
		instr.CommitFill{Taker: 1, Side: slab.SideBid, LimitPrice: 2_100_000, Size: 30_000_000, Slot: 10},
		instr.UpdateFunding{Rate: 25, ElapsedSlots: 8},
		instr.PlaceOrder{Owner: 0, Side: slab.SideBid, Price: 1_950_000, Size: 20_000_000},
		instr.CommitFill{Taker: 1, Side: slab.SideAsk, LimitPrice: 1_900_000, Size: 10_000_000, Slot: 40},
		instr.Withdraw{Account: 1, Amount: 100_000_000, Slot: 120},
		instr.HaltTrading{Authority: lpOwner},
		instr.ResumeTrading{Authority: lpOwner},
	}

	for i, ins := range script {
		result, err := core.Apply(ins)
		if err != nil {
			logger.Error().Int("step", i).Err(err).Msg("replay step failed")
			os.Exit(1)
		}
		logger.Info().
			Int("step", i).
			Str("instruction", ins.Kind().String()).
			Int64("sequence", result.Sequence).
			Msg("step applied")
	}

	tip := core.StateHash()
	logger.Info().
		Str("state_hash", hex.EncodeToString(tip[:])).
		Int64("sequence", core.Sequence()).
		Int64("fee_pool", core.Engine().FeePool).
		Msg("replay complete")
}
