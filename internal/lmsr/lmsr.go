// Package lmsr holds client-side helpers for multi-outcome (LMSR) markets.
// Curve evaluation belongs to the ledger; these functions only work on
// prices and reserves that were already fetched from it.
package lmsr

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/fixedpoint"
)

const (
	// StrategyName identifies quotes produced through this engine.
	StrategyName = "lmsr"
	// DefaultSumToleranceBps is the rounding slack allowed on a price vector.
	DefaultSumToleranceBps = 10
)

// ValidatePriceSum checks that prices (in bps) sum to 10000 within tolBps.
func ValidatePriceSum(prices []int64, tolBps int64) error {
	if len(prices) == 0 {
		return fmt.Errorf("lmsr: %w", domain.ErrEmptyPriceVector)
	}
	var sum int64
	for i, p := range prices {
		if p < 0 || p > fixedpoint.BpsDenominator {
			return fmt.Errorf("lmsr: %w: outcome %d priced at %d bps", domain.ErrPriceSumOutOfRange, i, p)
		}
		sum += p
	}
	diff := sum - fixedpoint.BpsDenominator
	if diff < 0 {
		diff = -diff
	}
	if diff > tolBps {
		return fmt.Errorf("lmsr: %w: sum %d bps, tolerance %d", domain.ErrPriceSumOutOfRange, sum, tolBps)
	}
	return nil
}

// FavoriteOutcome returns the index of the highest price. Ties go to the
// lowest index.
func FavoriteOutcome(prices []int64) (int, error) {
	return pick(prices, func(a, b int64) bool { return a > b })
}

// UnderdogOutcome returns the index of the lowest price. Ties go to the
// lowest index.
func UnderdogOutcome(prices []int64) (int, error) {
	return pick(prices, func(a, b int64) bool { return a < b })
}

func pick(prices []int64, better func(a, b int64) bool) (int, error) {
	if len(prices) == 0 {
		return 0, fmt.Errorf("lmsr: %w", domain.ErrEmptyPriceVector)
	}
	best := 0
	for i := 1; i < len(prices); i++ {
		if better(prices[i], prices[best]) {
			best = i
		}
	}
	return best, nil
}

// ImpliedOdds returns 1 / (priceBps / 10000), +Inf for a zero price.
func ImpliedOdds(priceBps int64) float64 {
	if priceBps <= 0 {
		return math.Inf(1)
	}
	return float64(fixedpoint.BpsDenominator) / float64(priceBps)
}

// PriceImpact returns |after - before| / before * 100, 0 when before is 0.
func PriceImpact(before, after int64) float64 {
	if before == 0 {
		return 0
	}
	d := after - before
	if d < 0 {
		d = -d
	}
	return float64(d) / float64(before) * 100
}

// MinAmountOut applies a slippage tolerance to an LMSR quote. It shares
// fixedpoint.ApplySlippageTolerance's contract.
func MinAmountOut(expected *big.Int, slippageBps int64) (*big.Int, error) {
	return fixedpoint.ApplySlippageTolerance(expected, slippageBps)
}

// Probabilities converts a bps price vector to fractions in [0, 1].
func Probabilities(prices []int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(prices))
	denom := decimal.NewFromInt(fixedpoint.BpsDenominator)
	for i, p := range prices {
		out[i] = decimal.NewFromInt(p).Div(denom)
	}
	return out
}

// LiquidityDepth returns the shallowest reserve, the amount the thinnest
// outcome can absorb before its price runs away.
func LiquidityDepth(reserves domain.Reserves) *big.Int {
	var depth *big.Int
	for _, r := range reserves.Amounts {
		if r == nil {
			return new(big.Int)
		}
		if depth == nil || r.Cmp(depth) < 0 {
			depth = r
		}
	}
	if depth == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(depth)
}

// EstimateOut is what amountIn gets at the current spot price with no curve
// movement: amountIn * 10000 / priceBps outcome tokens for a buy, and
// amountIn * priceBps / 10000 collateral for a sell. Ledger quotes are
// compared against it to derive price impact.
func EstimateOut(amountIn *big.Int, priceBps int64, dir domain.Direction) *big.Int {
	if amountIn == nil || priceBps <= 0 {
		return new(big.Int)
	}
	if dir == domain.DirectionSell {
		return fixedpoint.MulBps(amountIn, priceBps)
	}
	out := new(big.Int).Mul(amountIn, big.NewInt(fixedpoint.BpsDenominator))
	return out.Quo(out, big.NewInt(priceBps))
}
