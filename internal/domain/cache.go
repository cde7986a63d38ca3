package domain

import (
	"context"
	"math/big"
	"time"
)

// ParamCache caches slow-moving protocol parameters. Reserves, prices and
// resolution records are never cached.
type ParamCache interface {
	GetFeeTiers(ctx context.Context) ([]FeeTier, error)
	SetFeeTiers(ctx context.Context, tiers []FeeTier) error
	GetMinBond(ctx context.Context) (*big.Int, error)
	SetMinBond(ctx context.Context, bond *big.Int) error
	GetDisputeWindow(ctx context.Context) (time.Duration, error)
	SetDisputeWindow(ctx context.Context, window time.Duration) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel names.
const (
	ChannelTrades      = "trades"
	ChannelResolutions = "resolutions"
)
