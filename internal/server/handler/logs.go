package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/theatom/atombot/internal/domain"
)

// EventSource exposes the telemetry event window.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]domain.LogEvent, error)
	Clear(ctx context.Context) error
}

// LogHandler serves the dashboard event log.
type LogHandler struct {
	events EventSource
	logger *slog.Logger
}

// NewLogHandler builds a LogHandler over the given event source.
func NewLogHandler(events EventSource, logger *slog.Logger) *LogHandler {
	return &LogHandler{events: events, logger: logger}
}

type listLogsResponse struct {
	Logs []domain.LogEvent `json:"logs"`
}

// List returns recent events, newest first.
// GET /api/logs?limit=100
func (h *LogHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100, 500)

	events, err := h.events.Recent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list logs failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	if events == nil {
		events = []domain.LogEvent{}
	}

	writeJSON(w, http.StatusOK, listLogsResponse{Logs: events})
}

// Clear truncates the visible event window. The trade ledger and audit log
// are untouched.
// POST /api/logs/clear
func (h *LogHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.events.Clear(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: clear logs failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to clear logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
