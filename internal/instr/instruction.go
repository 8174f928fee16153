// Package instr is the instruction surface of the core: a tagged-variant
// dispatch over already-typed, already-authenticated arguments. The host
// owns byte-layout decoding and signer verification; each variant carries
// exactly the typed arguments its handler needs.
package instr

import (
	"github.com/google/uuid"

	"PerpCore/internal/risk"
	"PerpCore/internal/slab"
)

// Kind is the instruction discriminator byte. Values 0-7 are fixed wire
// values (4 is reserved for a non-core operation); the risk-engine
// instructions occupy the next free values.
type Kind byte

const (
	KindInitialize    Kind = 0
	KindCommitFill    Kind = 1
	KindPlaceOrder    Kind = 2
	KindCancelOrder   Kind = 3
	KindUpdateFunding Kind = 5
	KindHaltTrading   Kind = 6
	KindResumeTrading Kind = 7
	KindDeposit       Kind = 8
	KindWithdraw      Kind = 9
	KindLiquidate     Kind = 10
	KindApplyADL      Kind = 11
)

func (k Kind) String() string {
	switch k {
	case KindInitialize:
		return "Initialize"
	case KindCommitFill:
		return "CommitFill"
	case KindPlaceOrder:
		return "PlaceOrder"
	case KindCancelOrder:
		return "CancelOrder"
	case KindUpdateFunding:
		return "UpdateFunding"
	case KindHaltTrading:
		return "HaltTrading"
	case KindResumeTrading:
		return "ResumeTrading"
	case KindDeposit:
		return "Deposit"
	case KindWithdraw:
		return "Withdraw"
	case KindLiquidate:
		return "Liquidate"
	case KindApplyADL:
		return "ApplyADL"
	default:
		return "Unknown"
	}
}

// Instruction is one typed core instruction.
type Instruction interface {
	Kind() Kind
}

// Initialize configures the market: risk parameters, order-book capacity,
// LP authority, and initial AMM reserves. Valid exactly once.
type Initialize struct {
	LPOwner      uuid.UUID
	Params       risk.Params
	BookCapacity int
	ReserveBase  int64
	ReserveQuote int64
}

func (Initialize) Kind() Kind { return KindInitialize }

// CommitFill matches an aggressing order against the resting book and
// settles the resulting fill receipts into the risk engine.
type CommitFill struct {
	Taker      uint32
	Side       slab.Side
	LimitPrice int64
	Size       int64
	Slot       int64
}

func (CommitFill) Kind() Kind { return KindCommitFill }

// PlaceOrder rests a limit order on the book.
type PlaceOrder struct {
	Owner uint32
	Side  slab.Side
	Price int64
	Size  int64
}

func (PlaceOrder) Kind() Kind { return KindPlaceOrder }

// CancelOrder removes a resting order owned by the caller.
type CancelOrder struct {
	OrderID uint64
	Owner   uint32
}

func (CancelOrder) Kind() Kind { return KindCancelOrder }

// UpdateFunding accrues the pool-wide funding index. Accounts settle
// against the index lazily, on their next touch.
type UpdateFunding struct {
	Rate         int64
	ElapsedSlots int64
}

func (UpdateFunding) Kind() Kind { return KindUpdateFunding }

// HaltTrading freezes the order book. Authority must equal the LP owner.
type HaltTrading struct {
	Authority uuid.UUID
}

func (HaltTrading) Kind() Kind { return KindHaltTrading }

// ResumeTrading unfreezes the order book. Authority must equal the LP owner.
type ResumeTrading struct {
	Authority uuid.UUID
}

func (ResumeTrading) Kind() Kind { return KindResumeTrading }

// Deposit credits collateral to an account.
type Deposit struct {
	Account uint32
	Amount  int64
}

func (Deposit) Kind() Kind { return KindDeposit }

// Withdraw debits collateral, gated on initial margin.
type Withdraw struct {
	Account uint32
	Amount  int64
	Slot    int64
}

func (Withdraw) Kind() Kind { return KindWithdraw }

// Liquidate force-closes an account below maintenance margin at the
// current reference price.
type Liquidate struct {
	Account uint32
	Slot    int64
}

func (Liquidate) Kind() Kind { return KindLiquidate }

// ApplyADL applies an auto-deleveraging haircut to an account.
type ApplyADL struct {
	Account    uint32
	HaircutBps int64
}

func (ApplyADL) Kind() Kind { return KindApplyADL }
