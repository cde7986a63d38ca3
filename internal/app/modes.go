package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketmirror/internal/server"
	"github.com/alanyoungcy/marketmirror/internal/server/handler"
	"github.com/alanyoungcy/marketmirror/internal/server/ws"
	"github.com/alanyoungcy/marketmirror/internal/service"
	"github.com/alanyoungcy/marketmirror/internal/trade"
)

// services are the domain services shared by every mode.
type services struct {
	trades     *trade.Coordinator
	resolution *service.ResolutionService
	volume     *service.VolumeService
	liquidity  *service.LiquidityService
}

func (a *App) buildServices(deps *Dependencies) services {
	rdeps := service.ResolutionDeps{
		Ledger:   deps.Ledger,
		Store:    deps.Resolutions,
		Audit:    deps.Audit,
		Bus:      deps.SignalBus,
		Alerts:   deps.Notifier,
		Metadata: deps.Metadata,
	}
	if deps.Resolver != nil {
		rdeps.Resolver = deps.Resolver
	}

	var signer common.Address
	if common.IsHexAddress(a.cfg.Resolver.OracleSigner) {
		signer = common.HexToAddress(a.cfg.Resolver.OracleSigner)
	}

	return services{
		trades: trade.NewCoordinator(
			deps.Ledger, deps.Executions, deps.SignalBus, deps.Notifier,
			trade.Config{DeviationAlertPercent: a.cfg.Trade.DeviationAlertPercent},
			a.logger,
		),
		resolution: service.NewResolutionService(rdeps, service.ResolutionConfig{
			Domain:        a.cfg.Chain.OracleDomain(),
			OracleSigner:  signer,
			MinConfidence: a.cfg.Resolver.MinConfidence,
		}, a.logger),
		// Event scans need the raw chain adapter; the cached ledger only
		// exposes the domain.Ledger surface.
		volume:    service.NewVolumeService(deps.Chain, a.logger),
		liquidity: service.NewLiquidityService(deps.Ledger, a.logger),
	}
}

// ServerMode serves the HTTP API and, when a signal bus is configured, the
// WebSocket event stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, a.buildServices(deps))
	return g.Wait()
}

// WatchMode polls the configured markets' resolution records, announcing
// transitions and finalizing eligible proposals when enabled.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode",
		slog.Int("markets", len(a.cfg.Watch.Markets)),
		slog.Bool("auto_finalize", a.cfg.Watch.AutoFinalize),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startWatcher(ctx, g, deps, a.buildServices(deps))
	return g.Wait()
}

// FullMode runs the API and the resolution watcher together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startServer(ctx, g, deps, svcs)
	a.startWatcher(ctx, g, deps, svcs)
	return g.Wait()
}

func (a *App) startWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs services) {
	watcher := service.NewResolutionWatcher(
		svcs.resolution,
		a.cfg.Watch.Markets,
		a.cfg.Watch.AutoFinalize,
		a.cfg.Watch.PollInterval.Duration,
		deps.Notifier,
		a.logger,
	)
	g.Go(func() error {
		return ignoreCanceled(watcher.Run(ctx))
	})
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs services) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Markets: handler.NewMarketHandler(
			deps.Ledger, deps.Metadata, svcs.volume, svcs.liquidity, a.logger,
		),
		Trades:     handler.NewTradeHandler(svcs.trades, deps.Executions, a.cfg.Trade.DefaultSlippageBps, a.logger),
		Resolution: handler.NewResolutionHandler(svcs.resolution, a.logger),
	}
	if deps.Audit != nil {
		handlers.Audit = handler.NewAuditHandler(deps.Audit, a.logger)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return ignoreCanceled(hub.Run(ctx))
		})
	} else {
		a.logger.InfoContext(ctx, "redis disabled; websocket stream not served")
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: %w", err)
		}
		return nil
	})
}

// ignoreCanceled treats a context cancellation as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
