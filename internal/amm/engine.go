// Package amm implements constant-product pricing for two-outcome markets.
//
// Reserves are always passed as (rOut, rOther): the reserve of the outcome
// being priced and the reserve of the opposite outcome. Every function is
// pure and safe for concurrent use.
package amm

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/fixedpoint"
)

// StrategyName identifies quotes produced by this engine.
const StrategyName = "constant_product"

// Price returns the marginal price of the rOut outcome scaled by WAD:
// rOther * 1e18 / (rOut + rOther). It is 0 when either reserve is empty.
func Price(rOut, rOther *big.Int) *big.Int {
	if empty(rOut) || empty(rOther) {
		return new(big.Int)
	}
	num := new(big.Int).Mul(rOther, fixedpoint.WAD)
	return num.Quo(num, new(big.Int).Add(rOut, rOther))
}

// QuoteAmountOut returns floor(amountIn * rOther / (rOut + amountIn)).
// Empty reserves quote zero; callers must treat that as "no liquidity".
func QuoteAmountOut(amountIn, rOut, rOther *big.Int) *big.Int {
	if empty(rOut) || empty(rOther) || amountIn == nil || amountIn.Sign() <= 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(amountIn, rOther)
	return num.Quo(num, new(big.Int).Add(rOut, amountIn))
}

// QuoteAmountIn is the inverse of QuoteAmountOut:
// floor(amountOut * rOut / (rOther - amountOut)). It never overshoots the
// input that produced amountOut.
func QuoteAmountIn(amountOut, rOut, rOther *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() < 0 {
		return nil, fmt.Errorf("amm: quote in: %w: negative output", domain.ErrInvalidAmount)
	}
	if empty(rOther) || amountOut.Cmp(rOther) >= 0 {
		return nil, fmt.Errorf("amm: quote in: %w: want %s of %s available",
			domain.ErrInsufficientLiquidity, amountOut, orZero(rOther))
	}
	num := new(big.Int).Mul(amountOut, orZero(rOut))
	return num.Quo(num, new(big.Int).Sub(rOther, amountOut)), nil
}

// SpotOut is the output a zero-size trade would get at the marginal rate,
// amountIn * rOther / rOut. It is the reference for price impact.
func SpotOut(amountIn, rOut, rOther *big.Int) *big.Int {
	if empty(rOut) || empty(rOther) || amountIn == nil {
		return new(big.Int)
	}
	num := new(big.Int).Mul(amountIn, rOther)
	return num.Quo(num, rOut)
}

// Request describes a trade to be quoted against a binary pool.
type Request struct {
	MarketID  uint64
	OutcomeID uint8
	Direction domain.Direction
	AmountIn  *big.Int
	Reserves  domain.Reserves
	Tier      domain.FeeTier
}

// Quote prices req. A buy spends collateral on outcome tokens: the fee is
// taken from the input first and AmountOut is what the remaining input buys.
// A sell returns outcome tokens to the pool with the reserve roles swapped:
// the fee is taken from the collateral proceeds, so AmountOut is net of it.
// The fee is always reported in its own field. A pool with an empty side
// yields domain.ErrNoLiquidity; a zero output for a positive input yields a
// quote with AmountOut == 0 and the caller decides.
func Quote(req Request) (domain.TradeQuote, error) {
	if !req.Direction.Valid() {
		return domain.TradeQuote{}, fmt.Errorf("amm: quote: unknown direction %q", req.Direction)
	}
	if req.OutcomeID >= domain.BinaryOutcomes {
		return domain.TradeQuote{}, fmt.Errorf("amm: quote: %w: outcome %d", domain.ErrInvalidOutcome, req.OutcomeID)
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return domain.TradeQuote{}, fmt.Errorf("amm: quote: %w: amount must be positive", domain.ErrInvalidAmount)
	}

	yes, no := req.Reserves.Binary()
	if yes.Sign() == 0 || no.Sign() == 0 {
		return domain.TradeQuote{}, fmt.Errorf("amm: quote market %d: %w", req.MarketID, domain.ErrNoLiquidity)
	}
	rOut, rOther := yes, no
	if req.OutcomeID == 1 {
		rOut, rOther = no, yes
	}

	var out, fee *big.Int
	var impact float64
	if req.Direction == domain.DirectionSell {
		gross := QuoteAmountOut(req.AmountIn, rOther, rOut)
		fee = fixedpoint.MulBps(gross, req.Tier.FeeBps)
		out = new(big.Int).Sub(gross, fee)
		impact = fixedpoint.PercentageOf(gross, SpotOut(req.AmountIn, rOther, rOut))
	} else {
		fee = fixedpoint.MulBps(req.AmountIn, req.Tier.FeeBps)
		net := new(big.Int).Sub(req.AmountIn, fee)
		out = QuoteAmountOut(net, rOut, rOther)
		impact = fixedpoint.PercentageOf(out, SpotOut(net, rOut, rOther))
	}

	return domain.TradeQuote{
		MarketID:           req.MarketID,
		OutcomeID:          req.OutcomeID,
		Direction:          req.Direction,
		AmountIn:           new(big.Int).Set(req.AmountIn),
		AmountOut:          out,
		Fee:                fee,
		FeeBps:             req.Tier.FeeBps,
		PriceImpactPercent: impact,
		Strategy:           StrategyName,
	}, nil
}

func empty(v *big.Int) bool { return v == nil || v.Sign() <= 0 }

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
