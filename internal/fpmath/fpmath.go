package fpmath

import (
	"math"
	"math/big"
	"sync"
)

// All monetary quantities (capital, prices, sizes, PnL) share a single
// fixed-point scale. Basis-point parameters use BpsDenom.
const (
	Scale    int64 = 1_000_000
	BpsDenom int64 = 10_000
)

// RoundingMode selects how DivInt128 resolves a non-zero remainder.
type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown                         // Toward negative infinity
)

// int128Pool recycles big.Int scratch values for intermediate products.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// MulInt128 performs a * b in 128-bit space so no intermediate wraps.
// The caller must release the result with putInt128 via DivInt128.
func MulInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivInt128 performs numerator / denominator with the given rounding mode
// and releases numerator back to the pool. ok is false when the quotient
// does not fit in int64.
func DivInt128(numerator *big.Int, denominator int64, mode RoundingMode) (result int64, ok bool) {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	// Truncated division; remainder carries the sign of the numerator.
	quotient.QuoRem(numerator, denom, remainder)

	if !quotient.IsInt64() {
		putInt128(quotient)
		putInt128(remainder)
		putInt128(numerator)
		return 0, false
	}

	result = quotient.Int64()
	rem := remainder.Int64()

	switch mode {
	case RoundDown:
		// Truncation rounds toward zero; push negative results down.
		if rem != 0 && (numerator.Sign() < 0) != (denominator < 0) {
			result--
		}
	case RoundHalfEven:
		absRem := rem
		if absRem < 0 {
			absRem = -absRem
		}
		absDenom := denominator
		if absDenom < 0 {
			absDenom = -absDenom
		}
		twice := absRem * 2
		roundAway := false
		if twice > absDenom {
			roundAway = true
		} else if twice == absDenom && result%2 != 0 {
			roundAway = true
		}
		if roundAway {
			if (numerator.Sign() < 0) != (denominator < 0) {
				result--
			} else {
				result++
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)
	putInt128(numerator)

	return result, true
}

// MulDiv computes a * b / denom without intermediate overflow.
// ok is false when the result does not fit in int64.
func MulDiv(a, b, denom int64, mode RoundingMode) (int64, bool) {
	if denom == 0 {
		return 0, false
	}
	return DivInt128(MulInt128(a, b), denom, mode)
}

// CheckedAdd returns a + b, failing instead of wrapping.
func CheckedAdd(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

// CheckedSub returns a - b, failing instead of wrapping.
func CheckedSub(a, b int64) (int64, bool) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, false
	}
	return a - b, true
}

// AvgEntryPrice computes the volume-weighted entry price after adding
// fillQty at fillPrice to an existing position of oldSize at oldEntry.
// Sizes are absolute quantities.
func AvgEntryPrice(oldSize, oldEntry, fillQty, fillPrice int64) int64 {
	if oldSize == 0 {
		return fillPrice
	}

	term1 := MulInt128(oldSize, oldEntry)
	term2 := getInt128()
	term2.Mul(big.NewInt(fillQty), big.NewInt(fillPrice))
	term1.Add(term1, term2)
	putInt128(term2)

	result, _ := DivInt128(term1, oldSize+fillQty, RoundHalfEven)
	return result
}

// RealizedPnL computes the profit for closing closeQty of a position
// entered at entryPrice and exited at exitPrice.
// sideSign is +1 for long, -1 for short.
func RealizedPnL(sideSign, exitPrice, entryPrice, closeQty int64) int64 {
	pnl, _ := MulDiv(sideSign*(exitPrice-entryPrice), closeQty, Scale, RoundHalfEven)
	return pnl
}

// Notional computes |size| * price at the shared scale.
func Notional(size, price int64) int64 {
	if size < 0 {
		size = -size
	}
	n, _ := MulDiv(size, price, Scale, RoundHalfEven)
	return n
}

// BpsOf applies a basis-point fraction to value, rounding down so the
// protected party never over-collects.
func BpsOf(value, bps int64) int64 {
	out, _ := MulDiv(value, bps, BpsDenom, RoundDown)
	return out
}

// FundingPayment computes the payment owed for a signed position over a
// funding-index advance. Positive result: the account pays (long position,
// rising index); negative: the account receives.
func FundingPayment(indexDelta, positionSize int64) int64 {
	payment, _ := MulDiv(indexDelta, positionSize, Scale, RoundHalfEven)
	return payment
}
