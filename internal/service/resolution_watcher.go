package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/resolution"
)

// ResolutionWatcher polls a fixed set of markets, announces state changes
// and, when enabled, finalizes undisputed proposals whose window passed.
type ResolutionWatcher struct {
	svc          *ResolutionService
	markets      []uint64
	autoFinalize bool
	pollDur      time.Duration
	alerts       domain.Alerter
	logger       *slog.Logger

	seen map[uint64]domain.ResolutionState
}

// NewResolutionWatcher creates a watcher. pollInterval defaults to one
// minute.
func NewResolutionWatcher(
	svc *ResolutionService,
	markets []uint64,
	autoFinalize bool,
	pollInterval time.Duration,
	alerts domain.Alerter,
	logger *slog.Logger,
) *ResolutionWatcher {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &ResolutionWatcher{
		svc:          svc,
		markets:      markets,
		autoFinalize: autoFinalize,
		pollDur:      pollInterval,
		alerts:       alerts,
		logger:       logger.With(slog.String("component", "resolution_watcher")),
		seen:         make(map[uint64]domain.ResolutionState),
	}
}

// Run checks every market immediately and then once per interval until ctx
// ends. Call in a goroutine.
func (w *ResolutionWatcher) Run(ctx context.Context) error {
	w.Tick(ctx)
	ticker := time.NewTicker(w.pollDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one pass over the watched markets.
func (w *ResolutionWatcher) Tick(ctx context.Context) {
	for _, id := range w.markets {
		if ctx.Err() != nil {
			return
		}
		if err := w.check(ctx, id); err != nil {
			w.logger.ErrorContext(ctx, "resolution watch failed",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
			if w.alerts == nil {
				continue
			}
			if nerr := w.alerts.Notify(ctx, domain.EventWatchError,
				fmt.Sprintf("Watch failed for market %d", id), err.Error()); nerr != nil {
				w.logger.WarnContext(ctx, "watch alert failed",
					slog.Uint64("market_id", id),
					slog.String("error", nerr.Error()),
				)
			}
		}
	}
}

func (w *ResolutionWatcher) check(ctx context.Context, marketID uint64) error {
	view, err := w.svc.Actions(ctx, marketID, common.Address{})
	if err != nil {
		return err
	}
	if view.Resolution == nil {
		return nil
	}

	rec := *view.Resolution
	prev, known := w.seen[marketID]
	w.seen[marketID] = rec.State
	if known && prev != rec.State {
		w.logger.InfoContext(ctx, "resolution state changed",
			slog.Uint64("market_id", marketID),
			slog.String("from", prev.String()),
			slog.String("to", rec.State.String()),
		)
		w.svc.Announce(ctx, "", rec, common.Hash{})
	}

	if !w.autoFinalize || !allowed(view.Statuses, resolution.ActionFinalize) {
		return nil
	}
	receipt, err := w.svc.Finalize(ctx, marketID)
	if err != nil {
		// Someone else finalized or disputed between read and submit.
		if errors.Is(err, domain.ErrInvalidStateTransition) {
			return nil
		}
		return err
	}
	w.seen[marketID] = domain.ResolutionFinalized
	w.logger.InfoContext(ctx, "auto-finalized resolution",
		slog.Uint64("market_id", marketID),
		slog.String("tx", receipt.TxHash.Hex()),
	)
	return nil
}

func allowed(statuses []resolution.ActionStatus, a resolution.Action) bool {
	for _, s := range statuses {
		if s.Action == a {
			return s.Allowed
		}
	}
	return false
}
