package domain

import "time"

// EventLevel is the severity of a telemetry event as shown on the dashboard.
type EventLevel string

const (
	EventInfo    EventLevel = "info"
	EventWarning EventLevel = "warning"
	EventError   EventLevel = "error"
	EventSuccess EventLevel = "success"
)

// Event kinds name what happened, independent of severity. Notification
// routing filters on them.
const (
	EventKindOpportunity    = "opportunity"
	EventKindTradeSubmitted = "trade_submitted"
	EventKindTradeConfirmed = "trade_confirmed"
	EventKindTradeReverted  = "trade_reverted"
	EventKindTradeFailed    = "trade_failed"
	EventKindTradeAborted   = "trade_aborted"
	EventKindBreakerOpen    = "breaker_open"
	EventKindBreakerHalf    = "breaker_half_open"
	EventKindBreakerClosed  = "breaker_closed"
	EventKindVenueDown      = "venue_down"
	EventKindVenueRecovered = "venue_recovered"
	EventKindReconcile      = "reconcile_unresolved"
	EventKindControl        = "control"
)

// LogEvent is one entry of the append-only, timestamp-ordered telemetry
// stream. The stream is a visibility window for the dashboard, not the
// ledger: clearing it discards nothing durable.
type LogEvent struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Level     EventLevel `json:"type"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}
