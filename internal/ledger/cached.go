// Package ledger holds ledger decorators that sit between the evm adapter and
// the services.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// Cached serves slow-moving protocol parameters (fee tiers, minimum bond,
// dispute window) from a ParamCache and forwards everything else to the
// wrapped ledger. Reserves, prices and resolution records always go to the
// ledger.
type Cached struct {
	domain.Ledger
	cache  domain.ParamCache
	logger *slog.Logger
}

// NewCached wraps inner. A nil cache disables caching.
func NewCached(inner domain.Ledger, cache domain.ParamCache, logger *slog.Logger) *Cached {
	return &Cached{
		Ledger: inner,
		cache:  cache,
		logger: logger.With(slog.String("component", "cached_ledger")),
	}
}

// GetFeeTiers returns the cached fee schedule, loading it on a miss.
func (c *Cached) GetFeeTiers(ctx context.Context) ([]domain.FeeTier, error) {
	return readThrough(ctx, c, "fee_tiers",
		c.cacheGetFeeTiers, c.Ledger.GetFeeTiers, c.cacheSetFeeTiers)
}

// GetMinBond returns the cached minimum bond, loading it on a miss.
func (c *Cached) GetMinBond(ctx context.Context) (*big.Int, error) {
	return readThrough(ctx, c, "min_bond",
		c.cacheGetMinBond, c.Ledger.GetMinBond, c.cacheSetMinBond)
}

// GetDisputeWindow returns the cached dispute window, loading it on a miss.
func (c *Cached) GetDisputeWindow(ctx context.Context) (time.Duration, error) {
	return readThrough(ctx, c, "dispute_window",
		c.cacheGetDisputeWindow, c.Ledger.GetDisputeWindow, c.cacheSetDisputeWindow)
}

// readThrough treats any cache failure as a miss and never fails a read
// because the cache is down.
func readThrough[T any](
	ctx context.Context,
	c *Cached,
	name string,
	get func(context.Context) (T, error),
	load func(context.Context) (T, error),
	set func(context.Context, T) error,
) (T, error) {
	if c.cache != nil {
		v, err := get(ctx)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.WarnContext(ctx, "param cache read failed",
				slog.String("param", name),
				slog.String("error", err.Error()),
			)
		}
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	if c.cache != nil {
		if err := set(ctx, v); err != nil {
			c.logger.WarnContext(ctx, "param cache write failed",
				slog.String("param", name),
				slog.String("error", err.Error()),
			)
		}
	}
	return v, nil
}

func (c *Cached) cacheGetFeeTiers(ctx context.Context) ([]domain.FeeTier, error) {
	return c.cache.GetFeeTiers(ctx)
}

func (c *Cached) cacheSetFeeTiers(ctx context.Context, v []domain.FeeTier) error {
	return c.cache.SetFeeTiers(ctx, v)
}

func (c *Cached) cacheGetMinBond(ctx context.Context) (*big.Int, error) {
	return c.cache.GetMinBond(ctx)
}

func (c *Cached) cacheSetMinBond(ctx context.Context, v *big.Int) error {
	return c.cache.SetMinBond(ctx, v)
}

func (c *Cached) cacheGetDisputeWindow(ctx context.Context) (time.Duration, error) {
	return c.cache.GetDisputeWindow(ctx)
}

func (c *Cached) cacheSetDisputeWindow(ctx context.Context, v time.Duration) error {
	return c.cache.SetDisputeWindow(ctx, v)
}

var _ domain.Ledger = (*Cached)(nil)
