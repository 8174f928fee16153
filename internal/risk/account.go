package risk

import "PerpCore/internal/fpmath"

// AccountState tracks the per-account lifecycle.
type AccountState int32

const (
	AccountStateEmpty AccountState = iota
	AccountStateFunded
	AccountStatePositionOpen
	AccountStateLiquidating
)

func (as AccountState) String() string {
	switch as {
	case AccountStateEmpty:
		return "Empty"
	case AccountStateFunded:
		return "Funded"
	case AccountStatePositionOpen:
		return "PositionOpen"
	case AccountStateLiquidating:
		return "Liquidating"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates account state transitions.
// Empty is both initial and terminal.
func (as AccountState) CanTransitionTo(next AccountState) bool {
	transitions := map[AccountState][]AccountState{
		AccountStateEmpty: {
			AccountStateFunded,
		},
		AccountStateFunded: {
			AccountStateEmpty,
			AccountStatePositionOpen,
		},
		AccountStatePositionOpen: {
			AccountStatePositionOpen, // position resized
			AccountStateFunded,
			AccountStateLiquidating,
		},
		AccountStateLiquidating: {
			AccountStateFunded,
			AccountStateEmpty,
		},
	}

	allowed, ok := transitions[as]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if next == a {
			return true
		}
	}
	return false
}

// WarmupRingCap bounds the warmup bucket so the reachable state space
// stays finite for the verification harness.
const WarmupRingCap = 8

// WarmupEntry is positive realized PnL pending time-gated release.
// Amount is the accrued value, Claimed the portion already harvested
// into RealizedPnL. Amount is reduced only by ADL haircuts.
type WarmupEntry struct {
	Amount      int64
	Claimed     int64
	AccrualSlot int64
}

// WarmupBucket is a bounded ring of warmup entries, oldest first.
type WarmupBucket struct {
	entries [WarmupRingCap]WarmupEntry
	head    int
	count   int
}

func (b *WarmupBucket) at(i int) *WarmupEntry {
	return &b.entries[(b.head+i)%WarmupRingCap]
}

// Add accrues positive PnL at the given slot. When the ring is full the
// amount merges into the newest entry, inheriting its later accrual slot
// so release is never accelerated.
func (b *WarmupBucket) Add(amount, slot int64) {
	if amount <= 0 {
		return
	}
	if b.count > 0 {
		newest := b.at(b.count - 1)
		if newest.AccrualSlot == slot || b.count == WarmupRingCap {
			newest.Amount += amount
			if newest.AccrualSlot < slot {
				newest.AccrualSlot = slot
			}
			return
		}
	}
	*b.at(b.count) = WarmupEntry{Amount: amount, AccrualSlot: slot}
	b.count++
}

// Pending returns the total unharvested value in the bucket.
func (b *WarmupBucket) Pending() int64 {
	var total int64
	for i := 0; i < b.count; i++ {
		e := b.at(i)
		total += e.Amount - e.Claimed
	}
	return total
}

// releasedOf computes the cumulative released portion of one entry at the
// given slot: linear in elapsed slots, zero at accrual, the full amount
// once elapsed >= period.
func releasedOf(e *WarmupEntry, slot, period int64) int64 {
	elapsed := slot - e.AccrualSlot
	if elapsed <= 0 {
		return 0
	}
	if elapsed >= period {
		return e.Amount
	}
	released, _ := fpmath.MulDiv(e.Amount, elapsed, period, fpmath.RoundDown)
	return released
}

// Releasable returns the harvestable (released but unclaimed) value at
// the given slot. Non-decreasing in slot between realization events.
func (b *WarmupBucket) Releasable(slot, period int64) int64 {
	var total int64
	for i := 0; i < b.count; i++ {
		e := b.at(i)
		if r := releasedOf(e, slot, period) - e.Claimed; r > 0 {
			total += r
		}
	}
	return total
}

// Harvest claims every released portion, removing fully drained entries.
// This is the explicit realization event that resets release accounting.
// Returns the harvested value.
func (b *WarmupBucket) Harvest(slot, period int64) int64 {
	var total int64
	for i := 0; i < b.count; i++ {
		e := b.at(i)
		if r := releasedOf(e, slot, period) - e.Claimed; r > 0 {
			e.Claimed += r
			total += r
		}
	}
	b.compact()
	return total
}

// Drain seizes up to amount of unharvested value, oldest entries first.
// Returns the value actually seized.
func (b *WarmupBucket) Drain(amount int64) int64 {
	var drained int64
	for i := 0; i < b.count && drained < amount; i++ {
		e := b.at(i)
		avail := e.Amount - e.Claimed
		if avail <= 0 {
			continue
		}
		take := amount - drained
		if take > avail {
			take = avail
		}
		e.Amount -= take
		drained += take
	}
	b.compact()
	return drained
}

// compact drops exhausted entries from the front of the ring.
func (b *WarmupBucket) compact() {
	for b.count > 0 {
		e := b.at(0)
		if e.Amount-e.Claimed > 0 {
			break
		}
		*e = WarmupEntry{}
		b.head = (b.head + 1) % WarmupRingCap
		b.count--
	}
	// Drop exhausted interior entries by rebuilding when any remain.
	live := 0
	for i := 0; i < b.count; i++ {
		if e := b.at(i); e.Amount-e.Claimed > 0 {
			live++
		}
	}
	if live == b.count {
		return
	}
	var rebuilt [WarmupRingCap]WarmupEntry
	n := 0
	for i := 0; i < b.count; i++ {
		if e := b.at(i); e.Amount-e.Claimed > 0 {
			rebuilt[n] = *e
			n++
		}
	}
	b.entries = rebuilt
	b.head = 0
	b.count = n
}

// Entries returns a copy of the live entries, oldest first.
func (b *WarmupBucket) Entries() []WarmupEntry {
	out := make([]WarmupEntry, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, *b.at(i))
	}
	return out
}

// UserAccount is one slot in the fixed-capacity account arena. Accounts
// are addressed only by stable integer index; an operation addressed to
// one index never touches another account's fields.
type UserAccount struct {
	State        AccountState
	Capital      int64 // money scale; principal plus recognized losses
	PositionSize int64 // signed: >0 long, <0 short
	EntryPrice   int64 // volume-weighted average entry
	RealizedPnL  int64 // harvested warmup gains
	Warmup       WarmupBucket
	FundingIndex int64 // funding-index checkpoint at last sync
}

// CanonicalBytes returns a deterministic serialization for state hashing.
func (a *UserAccount) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64+WarmupRingCap*24)

	buf = append(buf, byte(a.State))
	buf = appendInt64LE(buf, a.Capital)
	buf = appendInt64LE(buf, a.PositionSize)
	buf = appendInt64LE(buf, a.EntryPrice)
	buf = appendInt64LE(buf, a.RealizedPnL)
	buf = appendInt64LE(buf, a.FundingIndex)

	entries := a.Warmup.Entries()
	buf = append(buf, byte(len(entries)))
	for _, e := range entries {
		buf = appendInt64LE(buf, e.Amount)
		buf = appendInt64LE(buf, e.Claimed)
		buf = appendInt64LE(buf, e.AccrualSlot)
	}

	return buf
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

// SideSign returns +1 for long, -1 for short, 0 for flat.
func (a *UserAccount) SideSign() int64 {
	switch {
	case a.PositionSize > 0:
		return 1
	case a.PositionSize < 0:
		return -1
	default:
		return 0
	}
}

// IsFlat reports whether the account has no open exposure.
func (a *UserAccount) IsFlat() bool {
	return a.PositionSize == 0
}
