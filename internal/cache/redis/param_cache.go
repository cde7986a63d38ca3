package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// ParamCache implements domain.ParamCache. Values expire after ttl so a
// governance change on the ledger is picked up without a restart.
type ParamCache struct {
	rdb *redis.Client
	key func(string) string
	ttl time.Duration
}

// NewParamCache creates a ParamCache backed by the given Client.
func NewParamCache(c *Client, ttl time.Duration) *ParamCache {
	return &ParamCache{rdb: c.Underlying(), key: c.Key, ttl: ttl}
}

type cachedTier struct {
	MinBalance  string `json:"min_balance"`
	FeeBps      int64  `json:"fee_bps"`
	ProtocolBps int64  `json:"protocol_bps"`
}

// GetFeeTiers returns domain.ErrNotFound on a cache miss.
func (pc *ParamCache) GetFeeTiers(ctx context.Context) ([]domain.FeeTier, error) {
	raw, err := pc.get(ctx, "params:fee_tiers")
	if err != nil {
		return nil, err
	}
	var cached []cachedTier
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, fmt.Errorf("redis: decode fee tiers: %w", err)
	}
	tiers := make([]domain.FeeTier, len(cached))
	for i, c := range cached {
		minBal, ok := new(big.Int).SetString(c.MinBalance, 10)
		if !ok {
			return nil, fmt.Errorf("redis: decode fee tiers: bad balance %q", c.MinBalance)
		}
		tiers[i] = domain.FeeTier{MinBalance: minBal, FeeBps: c.FeeBps, ProtocolBps: c.ProtocolBps}
	}
	return tiers, nil
}

// SetFeeTiers stores the fee schedule.
func (pc *ParamCache) SetFeeTiers(ctx context.Context, tiers []domain.FeeTier) error {
	cached := make([]cachedTier, len(tiers))
	for i, t := range tiers {
		minBal := "0"
		if t.MinBalance != nil {
			minBal = t.MinBalance.String()
		}
		cached[i] = cachedTier{MinBalance: minBal, FeeBps: t.FeeBps, ProtocolBps: t.ProtocolBps}
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("redis: encode fee tiers: %w", err)
	}
	return pc.set(ctx, "params:fee_tiers", string(data))
}

// GetMinBond returns domain.ErrNotFound on a cache miss.
func (pc *ParamCache) GetMinBond(ctx context.Context) (*big.Int, error) {
	raw, err := pc.get(ctx, "params:min_bond")
	if err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("redis: decode min bond %q", raw)
	}
	return v, nil
}

// SetMinBond stores the minimum bond.
func (pc *ParamCache) SetMinBond(ctx context.Context, bond *big.Int) error {
	return pc.set(ctx, "params:min_bond", bond.String())
}

// GetDisputeWindow returns domain.ErrNotFound on a cache miss.
func (pc *ParamCache) GetDisputeWindow(ctx context.Context) (time.Duration, error) {
	raw, err := pc.get(ctx, "params:dispute_window")
	if err != nil {
		return 0, err
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: decode dispute window: %w", err)
	}
	return time.Duration(secs) * time.Second, nil
}

// SetDisputeWindow stores the dispute window with second precision.
func (pc *ParamCache) SetDisputeWindow(ctx context.Context, window time.Duration) error {
	return pc.set(ctx, "params:dispute_window", strconv.FormatInt(int64(window/time.Second), 10))
}

func (pc *ParamCache) get(ctx context.Context, name string) (string, error) {
	raw, err := pc.rdb.Get(ctx, pc.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: get %s: %w", name, err)
	}
	return raw, nil
}

func (pc *ParamCache) set(ctx context.Context, name, value string) error {
	if err := pc.rdb.Set(ctx, pc.key(name), value, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", name, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ParamCache = (*ParamCache)(nil)
