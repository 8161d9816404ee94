package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/theatom/atombot/internal/domain"
)

// pingTimeout bounds each dependency check so one hung backend cannot stall
// the whole probe.
const pingTimeout = 2 * time.Second

// Pinger reports reachability of one backing dependency.
type Pinger func(ctx context.Context) error

// VenueHealthSource reports per-venue quote freshness.
type VenueHealthSource interface {
	Health() []domain.VenueHealth
}

// HealthHandler serves the dependency and feed health probe.
type HealthHandler struct {
	deps   map[string]Pinger
	feed   VenueHealthSource
	logger *slog.Logger
}

// NewHealthHandler builds a HealthHandler checking the named dependencies.
// feed may be nil in server-only mode.
func NewHealthHandler(deps map[string]Pinger, feed VenueHealthSource, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, feed: feed, logger: logger}
}

type healthResponse struct {
	Status    string               `json:"status"` // ok | degraded
	Timestamp string               `json:"timestamp"`
	Deps      map[string]string    `json:"deps"`
	Venues    []domain.VenueHealth `json:"venues,omitempty"`
}

// Check pings every dependency and reports per-venue feed freshness. It
// answers 503 when any dependency is unreachable so load balancers and
// monitors see the degradation.
// GET /api/health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	deps := make(map[string]string, len(h.deps))

	for name, ping := range h.deps {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		err := ping(ctx)
		cancel()
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: dependency unhealthy",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	resp := healthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Deps:      deps,
	}
	if h.feed != nil {
		resp.Venues = h.feed.Health()
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
