package instr

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"PerpCore/internal/amm"
	"PerpCore/internal/observability"
	"PerpCore/internal/risk"
	"PerpCore/internal/slab"
)

var (
	ErrNotInitialized     = errors.New("instr: market not initialized")
	ErrAlreadyInitialized = errors.New("instr: market already initialized")
	ErrUnknownInstruction = errors.New("instr: unknown instruction")
)

// Result carries the value output of a successfully applied instruction.
type Result struct {
	Sequence     int64
	StateHash    [32]byte
	OrderID      uint64             // PlaceOrder
	Receipts     []slab.FillReceipt // CommitFill
	FundingDelta int64              // UpdateFunding
}

// Core applies instructions synchronously, one at a time, against the
// slab and risk engine. Identical (state, instruction) pairs always
// produce identical resulting state, result value, and state hash.
type Core struct {
	slab   *slab.Slab
	engine *risk.Engine

	hasher   *StateHasher
	sequence int64
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewCore creates an uninitialized core. metrics may be nil.
func NewCore(logger zerolog.Logger, metrics *observability.Metrics) *Core {
	return &Core{
		hasher:  NewStateHasher(),
		logger:  logger,
		metrics: metrics,
	}
}

// Initialized reports whether an Initialize instruction has been applied.
func (c *Core) Initialized() bool {
	return c.slab != nil
}

// Slab exposes the order book for inspection.
func (c *Core) Slab() *slab.Slab {
	return c.slab
}

// Engine exposes the risk engine for inspection.
func (c *Core) Engine() *risk.Engine {
	return c.engine
}

// Sequence returns the number of applied instructions.
func (c *Core) Sequence() int64 {
	return c.sequence
}

// StateHash returns the current hash-chain tip.
func (c *Core) StateHash() [32]byte {
	return c.hasher.PrevHash()
}

// Apply dispatches one instruction. On error no hash is chained and the
// core state is byte-for-byte unchanged: handlers evaluate every gate on
// working copies and commit, funding settlement included, only once the
// whole instruction is known to land.
func (c *Core) Apply(ins Instruction) (Result, error) {
	start := time.Now()
	kind := ins.Kind().String()

	result, touched, err := c.dispatch(ins)
	if err != nil {
		if c.metrics != nil {
			c.metrics.InstructionsRejected.WithLabelValues(kind, reason(err)).Inc()
		}
		c.logger.Warn().Str("instruction", kind).Err(err).Msg("instruction rejected")
		return Result{}, fmt.Errorf("%s: %w", kind, err)
	}

	result.Sequence = c.sequence
	result.StateHash = c.hasher.ComputeHash(c.sequence, c.stateDigest(touched))
	c.sequence++

	if c.metrics != nil {
		c.metrics.InstructionsApplied.WithLabelValues(kind).Inc()
		c.metrics.InstructionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.FeePoolBalance.Set(float64(c.engine.FeePool))
		c.metrics.InsuranceFundBalance.Set(float64(c.engine.InsuranceFund))
	}
	c.logger.Debug().
		Str("instruction", kind).
		Int64("sequence", result.Sequence).
		Hex("state_hash", result.StateHash[:]).
		Msg("instruction applied")

	return result, nil
}

// dispatch routes one instruction to its handler and reports which
// account indices it touched (for the state digest).
func (c *Core) dispatch(ins Instruction) (Result, []uint32, error) {
	if !c.Initialized() {
		if init, ok := ins.(Initialize); ok {
			return Result{}, nil, c.handleInitialize(init)
		}
		return Result{}, nil, ErrNotInitialized
	}

	switch v := ins.(type) {
	case Initialize:
		return Result{}, nil, ErrAlreadyInitialized

	case PlaceOrder:
		// Owner must be a valid arena index so later fills settle cleanly.
		if _, err := c.engine.Account(v.Owner); err != nil {
			return Result{}, nil, err
		}
		id, err := c.slab.PlaceOrder(v.Owner, v.Side, v.Price, v.Size)
		if err != nil {
			return Result{}, nil, err
		}
		return Result{OrderID: id}, nil, nil

	case CancelOrder:
		return Result{}, nil, c.slab.CancelOrder(v.OrderID, v.Owner)

	case CommitFill:
		return c.handleCommitFill(v)

	case UpdateFunding:
		delta, err := c.slab.UpdateFunding(v.Rate, v.ElapsedSlots)
		if err != nil {
			return Result{}, nil, err
		}
		return Result{FundingDelta: delta}, nil, nil

	case HaltTrading:
		return Result{}, nil, c.slab.HaltTrading(v.Authority)

	case ResumeTrading:
		return Result{}, nil, c.slab.ResumeTrading(v.Authority)

	case Deposit:
		return Result{}, []uint32{v.Account}, c.engine.Deposit(v.Account, v.Amount)

	case Withdraw:
		return c.handleWithdraw(v)

	case Liquidate:
		return c.handleLiquidate(v)

	case ApplyADL:
		err := c.engine.ApplyADL(v.Account, v.HaircutBps)
		if err != nil {
			return Result{}, nil, err
		}
		if c.metrics != nil {
			c.metrics.ADLHaircuts.Inc()
		}
		return Result{}, []uint32{v.Account}, nil

	default:
		return Result{}, nil, ErrUnknownInstruction
	}
}

func (c *Core) handleInitialize(v Initialize) error {
	engine, err := risk.NewEngine(v.Params)
	if err != nil {
		return err
	}
	book, err := slab.New(v.LPOwner, v.BookCapacity, v.ReserveBase, v.ReserveQuote)
	if err != nil {
		return err
	}
	c.engine = engine
	c.slab = book
	c.logger.Info().
		Str("lp_owner", v.LPOwner.String()).
		Int("book_capacity", v.BookCapacity).
		Int("max_accounts", v.Params.MaxAccounts).
		Msg("market initialized")
	return nil
}

func (c *Core) handleCommitFill(v CommitFill) (Result, []uint32, error) {
	acc, err := c.engine.Account(v.Taker)
	if err != nil {
		return Result{}, nil, err
	}

	markPrice, err := amm.SpotPrice(c.slab.Header.ReserveBase, c.slab.Header.ReserveQuote)
	if err != nil {
		return Result{}, nil, err
	}

	// Below the risk-reduction threshold only risk-reducing fills pass.
	// The gate evaluates funding-adjusted equity read-only; nothing has
	// committed yet if it rejects.
	takerDelta := v.Size
	if v.Side == slab.SideAsk {
		takerDelta = -v.Size
	}
	increasing := acc.PositionSize == 0 || (acc.PositionSize > 0) == (takerDelta > 0)
	if increasing {
		allowed, err := c.engine.CanIncreaseExposure(v.Taker, markPrice, v.Slot, c.slab.Header.FundingIndex)
		if err != nil {
			return Result{}, nil, err
		}
		if !allowed {
			return Result{}, nil, risk.ErrInsufficientMargin
		}
	}

	receipts, err := c.slab.CommitFill(v.Taker, v.Side, v.LimitPrice, v.Size, v.Slot)
	if err != nil {
		return Result{}, nil, err
	}

	// The instruction lands; settle the taker's pending funding before
	// consuming the receipts.
	if err := c.engine.SyncFunding(v.Taker, c.slab.Header.FundingIndex); err != nil {
		return Result{}, nil, err
	}

	touched := []uint32{v.Taker}
	for _, r := range receipts {
		if err := c.engine.SyncFunding(r.Maker, c.slab.Header.FundingIndex); err != nil {
			return Result{}, nil, err
		}
		if err := c.engine.SettleFill(r); err != nil {
			return Result{}, nil, err
		}
		touched = append(touched, r.Maker)
		if c.metrics != nil {
			c.metrics.FillsMatched.Inc()
			c.metrics.FillVolume.Add(float64(r.Size))
		}
	}

	return Result{Receipts: receipts}, touched, nil
}

func (c *Core) handleWithdraw(v Withdraw) (Result, []uint32, error) {
	markPrice, err := amm.SpotPrice(c.slab.Header.ReserveBase, c.slab.Header.ReserveQuote)
	if err != nil {
		return Result{}, nil, err
	}
	if err := c.engine.Withdraw(v.Account, v.Amount, markPrice, v.Slot, c.slab.Header.FundingIndex); err != nil {
		return Result{}, nil, err
	}
	return Result{}, []uint32{v.Account}, nil
}

func (c *Core) handleLiquidate(v Liquidate) (Result, []uint32, error) {
	markPrice, err := amm.SpotPrice(c.slab.Header.ReserveBase, c.slab.Header.ReserveQuote)
	if err != nil {
		return Result{}, nil, err
	}
	if err := c.engine.Liquidate(v.Account, markPrice, v.Slot, c.slab.Header.FundingIndex); err != nil {
		return Result{}, nil, err
	}
	if c.metrics != nil {
		c.metrics.LiquidationsApplied.Inc()
	}
	return Result{}, []uint32{v.Account}, nil
}

// stateDigest builds canonical bytes over the slab header, every resting
// order, the touched accounts, and the shared pool aggregates. Only
// accounts the instruction touched enter the digest; the hash chain still
// covers every account mutation because each instruction digests what it
// wrote. The book is bounded, so digesting it whole stays cheap.
func (c *Core) stateDigest(touched []uint32) []byte {
	orders := c.slab.Orders()
	digest := make([]byte, 0, 64+len(orders)*48+len(touched)*96)

	h := &c.slab.Header
	if h.Halted {
		digest = append(digest, 1)
	} else {
		digest = append(digest, 0)
	}
	digest = appendInt64LE(digest, h.ReserveBase)
	digest = appendInt64LE(digest, h.ReserveQuote)
	digest = appendInt64LE(digest, h.FundingIndex)

	digest = appendInt64LE(digest, int64(len(orders)))
	for _, o := range orders {
		digest = appendInt64LE(digest, int64(o.ID))
		digest = appendInt64LE(digest, int64(o.Owner))
		digest = append(digest, byte(o.Side))
		digest = appendInt64LE(digest, o.Price)
		digest = appendInt64LE(digest, o.Size)
		digest = appendInt64LE(digest, int64(o.Seq))
	}

	seen := make(map[uint32]bool, len(touched))
	ordered := make([]uint32, 0, len(touched))
	for _, idx := range touched {
		if !seen[idx] {
			seen[idx] = true
			ordered = append(ordered, idx)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	for _, idx := range ordered {
		acc, err := c.engine.Account(idx)
		if err != nil {
			continue
		}
		digest = appendInt64LE(digest, int64(idx))
		digest = append(digest, acc.CanonicalBytes()...)
	}

	digest = appendInt64LE(digest, c.engine.FeePool)
	digest = appendInt64LE(digest, c.engine.InsuranceFund)
	digest = appendInt64LE(digest, c.engine.BadDebt)

	return digest
}

// reason maps an error to a bounded metrics label.
func reason(err error) string {
	switch {
	case errors.Is(err, slab.ErrTradingHalted):
		return "halted"
	case errors.Is(err, slab.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, risk.ErrInsufficientMargin):
		return "insufficient_margin"
	case errors.Is(err, risk.ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, risk.ErrAccountOutOfRange):
		return "account_out_of_range"
	default:
		return "invalid"
	}
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
