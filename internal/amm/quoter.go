// Package amm prices swaps against a constant-product (x*y=k) pool.
// Quoting is pure: the caller owns the reserves and applies the returned
// pair atomically, or discards it.
package amm

import (
	"errors"
	"math/big"

	"PerpCore/internal/fpmath"
)

var (
	ErrInvalidReserves       = errors.New("amm: reserves must be positive")
	ErrInvalidAmount         = errors.New("amm: amount must be positive")
	ErrInsufficientLiquidity = errors.New("amm: insufficient liquidity")
	ErrOverflow              = errors.New("amm: arithmetic overflow")
)

// QuoteResult is the outcome of a quote. NewReserveBase * NewReserveQuote
// is never below the pre-trade product (output rounds down, in favor of
// the pool).
type QuoteResult struct {
	AmountOut       int64
	NewReserveBase  int64
	NewReserveQuote int64
}

// QuoteBuy swaps amountIn of base into the pool and quotes the quote-asset
// output: out = floor(reserveQuote * amountIn / (reserveBase + amountIn)).
func QuoteBuy(reserveBase, reserveQuote, amountIn int64) (QuoteResult, error) {
	out, newIn, err := quote(reserveBase, reserveQuote, amountIn)
	if err != nil {
		return QuoteResult{}, err
	}
	return QuoteResult{
		AmountOut:       out,
		NewReserveBase:  newIn,
		NewReserveQuote: reserveQuote - out,
	}, nil
}

// QuoteSell swaps amountIn of quote into the pool and quotes the base-asset
// output: out = floor(reserveBase * amountIn / (reserveQuote + amountIn)).
func QuoteSell(reserveBase, reserveQuote, amountIn int64) (QuoteResult, error) {
	out, newIn, err := quote(reserveQuote, reserveBase, amountIn)
	if err != nil {
		return QuoteResult{}, err
	}
	return QuoteResult{
		AmountOut:       out,
		NewReserveBase:  reserveBase - out,
		NewReserveQuote: newIn,
	}, nil
}

// quote computes the constant-product output against (reserveIn, reserveOut).
// Returns the output amount and the grown input reserve.
func quote(reserveIn, reserveOut, amountIn int64) (amountOut, newReserveIn int64, err error) {
	if reserveIn <= 0 || reserveOut <= 0 {
		return 0, 0, ErrInvalidReserves
	}
	if amountIn <= 0 {
		return 0, 0, ErrInvalidAmount
	}

	newReserveIn, ok := fpmath.CheckedAdd(reserveIn, amountIn)
	if !ok {
		return 0, 0, ErrOverflow
	}

	// floor(reserveOut * amountIn / newReserveIn), exact in 128-bit space.
	amountOut, ok = fpmath.MulDiv(reserveOut, amountIn, newReserveIn, fpmath.RoundDown)
	if !ok {
		return 0, 0, ErrOverflow
	}

	// A quote must leave the consumed reserve strictly positive and
	// produce a non-zero output.
	if amountOut <= 0 || amountOut >= reserveOut {
		return 0, 0, ErrInsufficientLiquidity
	}

	return amountOut, newReserveIn, nil
}

// SpotPrice returns the quote-per-base marginal price at the shared
// fixed-point scale. Used as the reference (mark) price for margin checks.
func SpotPrice(reserveBase, reserveQuote int64) (int64, error) {
	if reserveBase <= 0 || reserveQuote <= 0 {
		return 0, ErrInvalidReserves
	}
	price, ok := fpmath.MulDiv(reserveQuote, fpmath.Scale, reserveBase, fpmath.RoundDown)
	if !ok {
		return 0, ErrOverflow
	}
	return price, nil
}

// ProductNotBelow reports whether a*b >= c*d without overflow, for
// verifying the constant-product invariant across a quote.
func ProductNotBelow(a, b, c, d int64) bool {
	left := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	right := new(big.Int).Mul(big.NewInt(c), big.NewInt(d))
	return left.Cmp(right) >= 0
}
