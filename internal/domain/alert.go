package domain

import "context"

// Alert event types routed through the notifier.
const (
	EventTradeDeviation = "trade_deviation"
	EventResolution     = "resolution"
	EventWatchError     = "watch_error"
)

// Alerter delivers operator notifications for an event type.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}
