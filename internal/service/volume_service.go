package service

import (
	"cmp"
	"context"
	"log/slog"
	"math/big"
	"slices"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// VolumeService derives traded volume from the ledger's trade event log.
type VolumeService struct {
	events domain.TradeEventSource
	logger *slog.Logger
}

// NewVolumeService creates a VolumeService.
func NewVolumeService(events domain.TradeEventSource, logger *slog.Logger) *VolumeService {
	return &VolumeService{
		events: events,
		logger: logger.With(slog.String("component", "volume_service")),
	}
}

// Volume folds every trade since fromBlock. When the event source fails the
// report is zero and marked Approximate instead of returning an error.
func (v *VolumeService) Volume(ctx context.Context, marketID, fromBlock uint64) domain.VolumeReport {
	events, err := v.events.TradeEvents(ctx, marketID, fromBlock)
	if err != nil {
		v.logger.WarnContext(ctx, "trade events unavailable, reporting approximate volume",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
		r := emptyReport(marketID)
		r.Approximate = true
		return r
	}
	return FoldVolume(marketID, events)
}

// FoldVolume accumulates events in ledger order. Volume is counted in
// collateral: the input of a buy and the output of a sell. Events for other
// markets are ignored.
func FoldVolume(marketID uint64, events []domain.TradeEvent) domain.VolumeReport {
	ordered := slices.Clone(events)
	slices.SortStableFunc(ordered, func(a, b domain.TradeEvent) int {
		if c := cmp.Compare(a.BlockNumber, b.BlockNumber); c != 0 {
			return c
		}
		return cmp.Compare(a.LogIndex, b.LogIndex)
	})

	r := emptyReport(marketID)
	for _, e := range ordered {
		if e.MarketID != marketID {
			continue
		}
		collateral := e.AmountIn
		if e.Direction == domain.DirectionSell {
			collateral = e.AmountOut
		}
		if collateral != nil {
			r.Volume.Add(r.Volume, collateral)
		}
		if e.Fee != nil {
			r.Fees.Add(r.Fees, e.Fee)
		}
		r.TradeCount++
		r.LastBlock = e.BlockNumber
	}
	return r
}

func emptyReport(marketID uint64) domain.VolumeReport {
	return domain.VolumeReport{MarketID: marketID, Volume: new(big.Int), Fees: new(big.Int)}
}
