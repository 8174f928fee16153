package risk_test

import (
	"testing"

	"pgregory.net/rapid"

	"PerpCore/internal/risk"
)

const warmupPeriod = 100

func TestWarmup_NothingReleasedAtAccrual(t *testing.T) {
	var b risk.WarmupBucket
	b.Add(50_000, 10)

	if got := b.Releasable(10, warmupPeriod); got != 0 {
		t.Errorf("releasable at accrual slot: got %d, want 0", got)
	}
	if got := b.Pending(); got != 50_000 {
		t.Errorf("pending: got %d, want 50_000", got)
	}
}

func TestWarmup_LinearRelease(t *testing.T) {
	var b risk.WarmupBucket
	b.Add(50_000, 0)

	// Halfway through the period at most half is releasable.
	got := b.Releasable(50, warmupPeriod)
	if got != 25_000 {
		t.Errorf("releasable at half period: got %d, want 25_000", got)
	}
	if got > 25_000 {
		t.Errorf("released more than the elapsed fraction: %d", got)
	}
}

func TestWarmup_FullReleaseAtPeriod(t *testing.T) {
	var b risk.WarmupBucket
	b.Add(50_000, 0)

	for _, slot := range []int64{100, 150, 1_000_000} {
		if got := b.Releasable(slot, warmupPeriod); got != 50_000 {
			t.Errorf("releasable at slot %d: got %d, want 50_000", slot, got)
		}
	}
}

func TestWarmup_ReleaseMonotonic(t *testing.T) {
	var b risk.WarmupBucket
	b.Add(33_333, 5)
	b.Add(41_111, 40)

	prev := int64(-1)
	for slot := int64(0); slot <= 200; slot++ {
		got := b.Releasable(slot, warmupPeriod)
		if got < prev {
			t.Fatalf("releasable decreased at slot %d: %d -> %d", slot, prev, got)
		}
		prev = got
	}
}

func TestWarmup_HarvestNoDoubleRelease(t *testing.T) {
	var b risk.WarmupBucket
	b.Add(50_000, 0)

	first := b.Harvest(50, warmupPeriod)
	if first != 25_000 {
		t.Fatalf("first harvest: got %d, want 25_000", first)
	}

	// Harvesting again at the same slot yields nothing.
	if again := b.Harvest(50, warmupPeriod); again != 0 {
		t.Errorf("repeat harvest: got %d, want 0", again)
	}

	// The rest arrives once the period elapses; total never exceeds accrual.
	rest := b.Harvest(100, warmupPeriod)
	if first+rest != 50_000 {
		t.Errorf("total harvested: got %d, want 50_000", first+rest)
	}
	if b.Pending() != 0 {
		t.Errorf("pending after full harvest: got %d, want 0", b.Pending())
	}
}

func TestWarmup_DrainOldestFirst(t *testing.T) {
	var b risk.WarmupBucket
	b.Add(10_000, 0)
	b.Add(20_000, 10)

	if got := b.Drain(15_000); got != 15_000 {
		t.Fatalf("drained: got %d, want 15_000", got)
	}

	// The oldest entry is gone, the newer lost the overflow.
	entries := b.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(entries))
	}
	if entries[0].Amount != 15_000 || entries[0].AccrualSlot != 10 {
		t.Errorf("surviving entry: got %+v", entries[0])
	}

	// Draining more than remains seizes only what exists.
	if got := b.Drain(1_000_000); got != 15_000 {
		t.Errorf("over-drain: got %d, want 15_000", got)
	}
	if b.Pending() != 0 {
		t.Errorf("pending after drain: got %d", b.Pending())
	}
}

func TestWarmup_RingOverflowMergesIntoNewest(t *testing.T) {
	var b risk.WarmupBucket
	for i := int64(0); i < risk.WarmupRingCap; i++ {
		b.Add(1_000, i*10)
	}
	if len(b.Entries()) != risk.WarmupRingCap {
		t.Fatalf("ring not full: %d entries", len(b.Entries()))
	}

	// One more accrual merges into the newest entry instead of dropping.
	b.Add(5_000, 1_000)
	entries := b.Entries()
	if len(entries) != risk.WarmupRingCap {
		t.Fatalf("entries after overflow: got %d, want %d", len(entries), risk.WarmupRingCap)
	}
	newest := entries[len(entries)-1]
	if newest.Amount != 6_000 || newest.AccrualSlot != 1_000 {
		t.Errorf("newest entry: got %+v, want amount 6_000 at slot 1_000", newest)
	}
	if b.Pending() != int64(risk.WarmupRingCap-1)*1_000+6_000 {
		t.Errorf("pending: got %d", b.Pending())
	}
}

func TestWarmup_SameSlotAccrualsMerge(t *testing.T) {
	var b risk.WarmupBucket
	b.Add(1_000, 7)
	b.Add(2_000, 7)

	entries := b.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(entries))
	}
	if entries[0].Amount != 3_000 {
		t.Errorf("merged amount: got %d, want 3_000", entries[0].Amount)
	}
}

// Between realization events the releasable amount never decreases and
// the total harvested over any schedule never exceeds the total accrued.
func TestProperty_WarmupConservative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var b risk.WarmupBucket
		var accrued, harvested int64

		slot := int64(0)
		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			slot += rapid.Int64Range(0, 50).Draw(t, "advance")
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				amount := rapid.Int64Range(1, 100_000).Draw(t, "amount")
				b.Add(amount, slot)
				accrued += amount
			case 1:
				harvested += b.Harvest(slot, warmupPeriod)
			case 2:
				prev := b.Releasable(slot, warmupPeriod)
				later := b.Releasable(slot+rapid.Int64Range(0, 200).Draw(t, "lookahead"), warmupPeriod)
				if later < prev {
					t.Fatalf("releasable decreased with time: %d -> %d", prev, later)
				}
			}
		}

		if harvested > accrued {
			t.Fatalf("harvested %d exceeds accrued %d", harvested, accrued)
		}
		if harvested+b.Pending() > accrued {
			t.Fatalf("harvested %d + pending %d exceeds accrued %d",
				harvested, b.Pending(), accrued)
		}
	})
}
