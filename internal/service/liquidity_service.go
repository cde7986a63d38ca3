package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketmirror/internal/amm"
	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// LiquidityService reports liquidity-provider positions.
type LiquidityService struct {
	ledger domain.LedgerReader
	logger *slog.Logger
}

// NewLiquidityService creates a LiquidityService.
func NewLiquidityService(ledger domain.LedgerReader, logger *slog.Logger) *LiquidityService {
	return &LiquidityService{
		ledger: ledger,
		logger: logger.With(slog.String("component", "liquidity_service")),
	}
}

// Position returns owner's stake in the market pool. If the ledger cannot
// report the LP supply of a binary pool, a geometric-mean estimate from the
// reserves is used and the position is flagged SupplyApproximate. A supply
// the ledger reports as zero yields a zero share and value.
func (l *LiquidityService) Position(ctx context.Context, marketID uint64, owner common.Address) (domain.LPPosition, error) {
	reserves, err := l.ledger.GetReserves(ctx, marketID)
	if err != nil {
		return domain.LPPosition{}, fmt.Errorf("service: lp position: reserves %d: %w", marketID, err)
	}
	balance, err := l.ledger.GetLPBalance(ctx, marketID, owner)
	if err != nil {
		return domain.LPPosition{}, fmt.Errorf("service: lp position: balance of %s: %w", owner.Hex(), err)
	}

	pos := domain.LPPosition{MarketID: marketID, Owner: owner, LPTokens: balance}
	supply, err := l.ledger.GetLPSupply(ctx, marketID)
	if err != nil || supply == nil {
		if err == nil {
			err = errors.New("empty supply response")
		}
		// The estimate only models two-sided pools.
		if len(reserves.Amounts) != domain.BinaryOutcomes {
			return domain.LPPosition{}, fmt.Errorf("service: lp position: supply %d: %w", marketID, err)
		}
		l.logger.DebugContext(ctx, "lp supply unavailable, estimating from reserves",
			slog.Uint64("market_id", marketID),
			slog.String("reason", err.Error()),
		)
		yes, no := reserves.Binary()
		supply = amm.EstimateLPSupply(yes, no)
		pos.SupplyApproximate = true
	}

	pos.TotalSupply = supply
	pos.SharePercent = amm.LPShare(balance, supply)
	pos.Value = amm.LPValue(balance, supply, reserves.Total(), nil)
	return pos, nil
}
