package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeExecutionStore persists reconciled trade executions.
type TradeExecutionStore interface {
	Insert(ctx context.Context, exec TradeExecution) error
	GetByID(ctx context.Context, id string) (TradeExecution, error)
	ListByMarket(ctx context.Context, marketID uint64, opts ListOpts) ([]TradeExecution, error)
}

// ResolutionStore keeps the latest mirrored resolution record per market
// plus a history of observed transitions.
type ResolutionStore interface {
	Upsert(ctx context.Context, rec Resolution) error
	Get(ctx context.Context, marketID uint64) (Resolution, error)
	History(ctx context.Context, marketID uint64) ([]ResolutionSnapshot, error)
}

// ResolutionSnapshot is one observed state of a resolution record.
type ResolutionSnapshot struct {
	Resolution
	ObservedAt time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
