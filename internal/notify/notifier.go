// Package notify pushes operator alerts to external channels. Senders
// (Telegram, Discord) receive every event whose kind is on the configured
// allow-list; the relay feeds them from the live telemetry stream so alerting
// needs no hooks inside the trading path.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one delivery channel for operator alerts.
type Sender interface {
	// Send delivers one alert with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs (e.g. "telegram").
	Name() string
}

// Notifier fans alerts out to all registered senders, filtered by event kind.
// An empty kind list means every event is forwarded.
type Notifier struct {
	senders []Sender
	kinds   map[string]bool // event kinds that reach the senders
	logger  *slog.Logger
}

// NewNotifier builds a Notifier delivering to senders. Only events whose kind
// appears in kinds pass the filter; an empty slice disables filtering.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		allowed[strings.TrimSpace(k)] = true
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured. Callers can skip the
// relay entirely when it returns false.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify forwards the alert to every sender if kind passes the filter.
func (n *Notifier) Notify(ctx context.Context, kind, title, message string) error {
	if len(n.kinds) > 0 && !n.kinds[kind] {
		n.logger.DebugContext(ctx, "event kind filtered out",
			slog.String("kind", kind),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll forwards the alert to every sender, bypassing the kind filter.
// Startup and shutdown announcements use it.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to each sender in turn. One failing channel never blocks
// the others; failures are collected into a single combined error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert delivered",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
