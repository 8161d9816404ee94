package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/theatom/atombot/internal/domain"
)

// EventStream is the live event source the relay tails. *telemetry.Telemetry
// satisfies it.
type EventStream interface {
	Subscribe(ctx context.Context) (<-chan []byte, error)
}

// Relay tails the telemetry stream and hands each event to the notifier,
// which applies the configured kind filter. Running it as its own goroutine
// keeps alert delivery latency out of the trading path.
type Relay struct {
	stream   EventStream
	notifier *Notifier
	logger   *slog.Logger
}

// NewRelay builds a Relay forwarding events from stream to notifier.
func NewRelay(stream EventStream, notifier *Notifier, logger *slog.Logger) *Relay {
	return &Relay{
		stream:   stream,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_relay")),
	}
}

// Run forwards events until ctx is cancelled or the stream closes.
func (r *Relay) Run(ctx context.Context) error {
	events, err := r.stream.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("notify: subscribe to event stream: %w", err)
	}
	r.logger.InfoContext(ctx, "relay started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-events:
			if !ok {
				r.logger.InfoContext(ctx, "event stream closed")
				return nil
			}
			r.forward(ctx, payload)
		}
	}
}

// forward decodes one event payload and pushes it through the notifier.
// Malformed payloads and delivery failures are logged, never fatal.
func (r *Relay) forward(ctx context.Context, payload []byte) {
	var ev domain.LogEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.logger.WarnContext(ctx, "dropping malformed event payload",
			slog.String("error", err.Error()),
		)
		return
	}
	if err := r.notifier.Notify(ctx, ev.Kind, title(ev), ev.Message); err != nil {
		r.logger.ErrorContext(ctx, "alert delivery failed",
			slog.String("kind", ev.Kind),
			slog.String("error", err.Error()),
		)
	}
}

// title renders the alert headline from the event severity and kind.
func title(ev domain.LogEvent) string {
	var label string
	switch ev.Level {
	case domain.EventSuccess:
		label = "OK"
	case domain.EventWarning:
		label = "WARN"
	case domain.EventError:
		label = "ALERT"
	default:
		label = "INFO"
	}
	return fmt.Sprintf("atombot %s: %s", label, ev.Kind)
}
