package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/theatom/atombot/internal/domain"
)

// ScanControl pauses and resumes opportunity scanning. Pausing never touches
// attempts already in flight; they settle on their own.
type ScanControl interface {
	Pause()
	Resume()
	Paused() bool
}

// ControlHandler serves the start/stop endpoints. Actions are recorded in the
// audit log; an audit write failure is logged but never undoes the action.
type ControlHandler struct {
	scan   ScanControl
	audit  domain.AuditStore
	events EventSink
	logger *slog.Logger
}

// EventSink publishes operator-visible events.
type EventSink interface {
	Emit(ctx context.Context, kind string, level domain.EventLevel, message string) domain.LogEvent
}

// NewControlHandler builds a ControlHandler over the given scanner control.
func NewControlHandler(scan ScanControl, audit domain.AuditStore, events EventSink, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{scan: scan, audit: audit, events: events, logger: logger}
}

// Start resumes opportunity scanning.
// POST /api/system/start
func (h *ControlHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.scan.Resume()
	h.record(r, "control.start", "scanning resumed via API")
	writeJSON(w, http.StatusOK, map[string]string{"bot_status": "running"})
}

// Stop pauses opportunity scanning. In-flight attempts keep running until
// they reach a terminal state.
// POST /api/system/stop
func (h *ControlHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.scan.Pause()
	h.record(r, "control.stop", "scanning paused via API")
	writeJSON(w, http.StatusOK, map[string]string{"bot_status": "stopped"})
}

func (h *ControlHandler) record(r *http.Request, action, message string) {
	ctx := r.Context()
	h.events.Emit(ctx, domain.EventKindControl, domain.EventInfo, message)
	if err := h.audit.Log(ctx, action, map[string]any{
		"remote_addr": r.RemoteAddr,
	}); err != nil {
		h.logger.WarnContext(ctx, "handler: audit write failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}
