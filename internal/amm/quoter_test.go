package amm_test

import (
	"errors"
	"math"
	"testing"

	"pgregory.net/rapid"

	"PerpCore/internal/amm"
)

func TestQuoteBuy_ReferenceValues(t *testing.T) {
	q, err := amm.QuoteBuy(1_000_000, 2_000_000, 10_000)
	if err != nil {
		t.Fatalf("QuoteBuy failed: %v", err)
	}

	// floor(2_000_000 * 10_000 / 1_010_000) = 19_801
	if q.AmountOut != 19_801 {
		t.Errorf("amount out: got %d, want 19_801", q.AmountOut)
	}
	if q.NewReserveBase != 1_010_000 {
		t.Errorf("new base: got %d, want 1_010_000", q.NewReserveBase)
	}
	if q.NewReserveQuote != 1_980_199 {
		t.Errorf("new quote: got %d, want 1_980_199", q.NewReserveQuote)
	}
	if !amm.ProductNotBelow(q.NewReserveBase, q.NewReserveQuote, 1_000_000, 2_000_000) {
		t.Error("constant product decreased")
	}
}

func TestQuoteSell_Symmetric(t *testing.T) {
	q, err := amm.QuoteSell(2_000_000, 1_000_000, 10_000)
	if err != nil {
		t.Fatalf("QuoteSell failed: %v", err)
	}
	if q.AmountOut != 19_801 {
		t.Errorf("amount out: got %d, want 19_801", q.AmountOut)
	}
	if q.NewReserveQuote != 1_010_000 {
		t.Errorf("new quote: got %d, want 1_010_000", q.NewReserveQuote)
	}
	if q.NewReserveBase != 1_980_199 {
		t.Errorf("new base: got %d, want 1_980_199", q.NewReserveBase)
	}
}

func TestQuoteBuy_InvalidReserves(t *testing.T) {
	for _, rs := range [][2]int64{{0, 1000}, {1000, 0}, {-1, 1000}, {1000, -1}} {
		_, err := amm.QuoteBuy(rs[0], rs[1], 100)
		if !errors.Is(err, amm.ErrInvalidReserves) {
			t.Errorf("reserves (%d, %d): got %v, want ErrInvalidReserves", rs[0], rs[1], err)
		}
	}
}

func TestQuoteBuy_InvalidAmount(t *testing.T) {
	for _, in := range []int64{0, -5} {
		_, err := amm.QuoteBuy(1_000_000, 2_000_000, in)
		if !errors.Is(err, amm.ErrInvalidAmount) {
			t.Errorf("amount %d: got %v, want ErrInvalidAmount", in, err)
		}
	}
}

func TestQuoteBuy_InsufficientLiquidity(t *testing.T) {
	// Tiny pool against a huge trade: output would drain the quote reserve.
	_, err := amm.QuoteBuy(10, 10, 1_000_000)
	if !errors.Is(err, amm.ErrInsufficientLiquidity) {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}

	// Dust input whose floored output is zero.
	_, err = amm.QuoteBuy(1_000_000_000, 10, 1)
	if !errors.Is(err, amm.ErrInsufficientLiquidity) {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}
}

func TestQuoteBuy_Overflow(t *testing.T) {
	_, err := amm.QuoteBuy(math.MaxInt64, 2_000_000, math.MaxInt64)
	if !errors.Is(err, amm.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestSpotPrice(t *testing.T) {
	price, err := amm.SpotPrice(1_000_000_000_000, 2_000_000_000_000)
	if err != nil {
		t.Fatalf("SpotPrice failed: %v", err)
	}
	if price != 2_000_000 {
		t.Errorf("got %d, want 2_000_000", price)
	}
}

// For all valid inputs: QuoteBuy either fails with a defined error or
// returns a positive output with the post-trade product never below the
// pre-trade product and both reserves strictly positive.
func TestProperty_QuoteBuyPreservesProduct(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := rapid.Int64Range(1, 1_000_000_000_000).Draw(t, "base")
		quote := rapid.Int64Range(1, 1_000_000_000_000).Draw(t, "quote")
		amountIn := rapid.Int64Range(1, 1_000_000_000_000).Draw(t, "amountIn")

		q, err := amm.QuoteBuy(base, quote, amountIn)
		if err != nil {
			switch {
			case errors.Is(err, amm.ErrInvalidReserves),
				errors.Is(err, amm.ErrInvalidAmount),
				errors.Is(err, amm.ErrInsufficientLiquidity),
				errors.Is(err, amm.ErrOverflow):
				return
			default:
				t.Fatalf("undefined error: %v", err)
			}
		}

		if q.AmountOut <= 0 {
			t.Fatalf("non-positive output %d", q.AmountOut)
		}
		if q.NewReserveBase <= 0 || q.NewReserveQuote <= 0 {
			t.Fatalf("reserve positivity violated: (%d, %d)", q.NewReserveBase, q.NewReserveQuote)
		}
		if !amm.ProductNotBelow(q.NewReserveBase, q.NewReserveQuote, base, quote) {
			t.Fatalf("product decreased: (%d, %d) -> (%d, %d)",
				base, quote, q.NewReserveBase, q.NewReserveQuote)
		}
	})
}

// QuoteSell mirrors QuoteBuy with the reserve roles swapped.
func TestProperty_QuoteSellMirrorsQuoteBuy(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := rapid.Int64Range(1, 1_000_000_000).Draw(t, "base")
		quote := rapid.Int64Range(1, 1_000_000_000).Draw(t, "quote")
		amountIn := rapid.Int64Range(1, 1_000_000_000).Draw(t, "amountIn")

		sell, sellErr := amm.QuoteSell(base, quote, amountIn)
		buy, buyErr := amm.QuoteBuy(quote, base, amountIn)

		if (sellErr == nil) != (buyErr == nil) {
			t.Fatalf("asymmetric errors: sell=%v buy=%v", sellErr, buyErr)
		}
		if sellErr != nil {
			return
		}
		if sell.AmountOut != buy.AmountOut {
			t.Fatalf("asymmetric outputs: sell=%d buy=%d", sell.AmountOut, buy.AmountOut)
		}
	})
}
