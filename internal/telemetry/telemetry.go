// Package telemetry fans structured events out to the durable dashboard
// stream, the live pub/sub channel, and the process log. Components report
// what happened; where it goes is decided here.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/theatom/atombot/internal/domain"
)

// Config holds the stream and channel names.
type Config struct {
	Stream  string
	Channel string
}

// Telemetry is the log sink behind the dashboard. Emit is safe for
// concurrent use; delivery to the bus is best-effort and never blocks the
// caller beyond the bus round trip.
type Telemetry struct {
	bus    domain.EventBus
	cfg    Config
	logger *slog.Logger
}

// New creates a Telemetry sink writing to the given bus.
func New(bus domain.EventBus, cfg Config, logger *slog.Logger) *Telemetry {
	return &Telemetry{
		bus:    bus,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "telemetry")),
	}
}

// Emit appends one event to the stream, publishes it for live subscribers,
// and mirrors it to the process log. A bus failure is logged but does not
// propagate: telemetry must never fail a trade.
func (t *Telemetry) Emit(ctx context.Context, kind string, level domain.EventLevel, message string) domain.LogEvent {
	ev := domain.LogEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	t.log(ctx, ev)

	payload, err := json.Marshal(ev)
	if err != nil {
		t.logger.ErrorContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return ev
	}

	if err := t.bus.StreamAppend(ctx, t.cfg.Stream, payload); err != nil {
		t.logger.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
	}
	if err := t.bus.Publish(ctx, t.cfg.Channel, payload); err != nil {
		t.logger.WarnContext(ctx, "publish failed", slog.String("error", err.Error()))
	}
	return ev
}

// Recent returns up to limit events, most recent first.
func (t *Telemetry) Recent(ctx context.Context, limit int) ([]domain.LogEvent, error) {
	msgs, err := t.bus.StreamRecent(ctx, t.cfg.Stream, limit)
	if err != nil {
		return nil, err
	}

	events := make([]domain.LogEvent, 0, len(msgs))
	for _, m := range msgs {
		var ev domain.LogEvent
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			// Skip entries written by incompatible versions rather than
			// failing the whole read.
			t.logger.DebugContext(ctx, "skipping undecodable event",
				slog.String("stream_id", m.ID),
			)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Clear truncates the visible event window. The ledger is unaffected.
func (t *Telemetry) Clear(ctx context.Context) error {
	if err := t.bus.StreamClear(ctx, t.cfg.Stream); err != nil {
		return err
	}
	t.logger.InfoContext(ctx, "event stream cleared")
	return nil
}

// Subscribe returns a channel of raw event payloads for live tailing.
func (t *Telemetry) Subscribe(ctx context.Context) (<-chan []byte, error) {
	return t.bus.Subscribe(ctx, t.cfg.Channel)
}

// log mirrors an event to the process logger at the matching slog level.
func (t *Telemetry) log(ctx context.Context, ev domain.LogEvent) {
	attrs := []any{
		slog.String("event_id", ev.ID),
		slog.String("event_kind", ev.Kind),
		slog.String("event_level", string(ev.Level)),
	}
	switch ev.Level {
	case domain.EventWarning:
		t.logger.WarnContext(ctx, ev.Message, attrs...)
	case domain.EventError:
		t.logger.ErrorContext(ctx, ev.Message, attrs...)
	default:
		t.logger.InfoContext(ctx, ev.Message, attrs...)
	}
}
