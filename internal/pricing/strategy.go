// Package pricing selects the pricing engine for a market. The set of
// strategies is closed: markets of any other shape are rejected up front.
package pricing

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/marketmirror/internal/amm"
	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/fixedpoint"
	"github.com/alanyoungcy/marketmirror/internal/lmsr"
)

// Input is a quote request for a specific market.
type Input struct {
	Market    domain.Market
	OutcomeID uint8
	Direction domain.Direction
	AmountIn  *big.Int
	Tier      domain.FeeTier
}

// Strategy prices trades for one kind of market. Only this package can
// implement it.
type Strategy interface {
	Name() string
	Quote(ctx context.Context, ledger domain.LedgerReader, in Input) (domain.TradeQuote, error)
	strategy()
}

// ForMarket picks the strategy for m by its outcome count.
func ForMarket(m domain.Market) (Strategy, error) {
	switch {
	case m.OutcomeCount == domain.BinaryOutcomes:
		return ConstantProduct{}, nil
	case m.OutcomeCount >= domain.MinMultiOutcomes && m.OutcomeCount <= domain.MaxMultiOutcomes:
		return Lmsr{SumToleranceBps: lmsr.DefaultSumToleranceBps}, nil
	default:
		return nil, fmt.Errorf("pricing: market %d with %d outcomes: %w", m.ID, m.OutcomeCount, domain.ErrUnsupportedMarketType)
	}
}

// ConstantProduct prices binary markets locally from reserves.
type ConstantProduct struct{}

func (ConstantProduct) strategy() {}

// Name implements Strategy.
func (ConstantProduct) Name() string { return amm.StrategyName }

// Quote implements Strategy.
func (ConstantProduct) Quote(ctx context.Context, ledger domain.LedgerReader, in Input) (domain.TradeQuote, error) {
	reserves, err := ledger.GetReserves(ctx, in.Market.ID)
	if err != nil {
		return domain.TradeQuote{}, fmt.Errorf("pricing: reserves for market %d: %w", in.Market.ID, err)
	}
	return amm.Quote(amm.Request{
		MarketID:  in.Market.ID,
		OutcomeID: in.OutcomeID,
		Direction: in.Direction,
		AmountIn:  in.AmountIn,
		Reserves:  reserves,
		Tier:      in.Tier,
	})
}

// Lmsr prices multi-outcome markets through the ledger's curve and checks
// the fetched price vector for sanity.
type Lmsr struct {
	SumToleranceBps int64
}

func (Lmsr) strategy() {}

// Name implements Strategy.
func (Lmsr) Name() string { return lmsr.StrategyName }

// Quote implements Strategy.
func (l Lmsr) Quote(ctx context.Context, ledger domain.LedgerReader, in Input) (domain.TradeQuote, error) {
	id := in.Market.ID
	if !in.Direction.Valid() {
		return domain.TradeQuote{}, fmt.Errorf("pricing: lmsr quote: unknown direction %q", in.Direction)
	}
	if int(in.OutcomeID) >= in.Market.OutcomeCount {
		return domain.TradeQuote{}, fmt.Errorf("pricing: lmsr quote market %d: %w: outcome %d", id, domain.ErrInvalidOutcome, in.OutcomeID)
	}
	if in.AmountIn == nil || in.AmountIn.Sign() <= 0 {
		return domain.TradeQuote{}, fmt.Errorf("pricing: lmsr quote: %w: amount must be positive", domain.ErrInvalidAmount)
	}

	reserves, err := ledger.GetReserves(ctx, id)
	if err != nil {
		return domain.TradeQuote{}, fmt.Errorf("pricing: reserves for market %d: %w", id, err)
	}
	if !reserves.HasLiquidity() || lmsr.LiquidityDepth(reserves).Sign() == 0 {
		return domain.TradeQuote{}, fmt.Errorf("pricing: lmsr quote market %d: %w", id, domain.ErrNoLiquidity)
	}

	prices, err := ledger.GetPrices(ctx, id)
	if err != nil {
		return domain.TradeQuote{}, fmt.Errorf("pricing: prices for market %d: %w", id, err)
	}
	if err := lmsr.ValidatePriceSum(prices, l.SumToleranceBps); err != nil {
		return domain.TradeQuote{}, fmt.Errorf("pricing: market %d: %w", id, err)
	}
	if int(in.OutcomeID) >= len(prices) {
		return domain.TradeQuote{}, fmt.Errorf("pricing: market %d: %w: %d prices for outcome %d", id, domain.ErrInvalidOutcome, len(prices), in.OutcomeID)
	}

	fee := fixedpoint.MulBps(in.AmountIn, in.Tier.FeeBps)
	net := new(big.Int).Sub(in.AmountIn, fee)
	out, err := ledger.QuoteMulti(ctx, id, in.OutcomeID, net, in.Direction)
	if err != nil {
		return domain.TradeQuote{}, fmt.Errorf("pricing: lmsr quote market %d: %w", id, err)
	}
	spot := lmsr.EstimateOut(net, prices[in.OutcomeID], in.Direction)

	return domain.TradeQuote{
		MarketID:           id,
		OutcomeID:          in.OutcomeID,
		Direction:          in.Direction,
		AmountIn:           new(big.Int).Set(in.AmountIn),
		AmountOut:          out,
		Fee:                fee,
		FeeBps:             in.Tier.FeeBps,
		PriceImpactPercent: fixedpoint.PercentageOf(out, spot),
		Strategy:           lmsr.StrategyName,
	}, nil
}
