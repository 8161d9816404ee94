package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theatom/atombot/internal/domain"
)

type fakeVenueHealth struct {
	venues []domain.VenueHealth
}

func (f *fakeVenueHealth) Health() []domain.VenueHealth { return f.venues }

func TestHealthHandler_AllHealthy(t *testing.T) {
	deps := map[string]Pinger{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return nil },
	}
	feed := &fakeVenueHealth{venues: []domain.VenueHealth{{
		Venue:      "uniswap_v2",
		Connected:  true,
		LastUpdate: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Status:     "healthy",
	}}}
	h := NewHealthHandler(deps, feed, testLogger())

	rec := httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Deps["postgres"])
	assert.Equal(t, "ok", resp.Deps["redis"])
	require.Len(t, resp.Venues, 1)
	assert.Equal(t, "uniswap_v2", resp.Venues[0].Venue)
}

func TestHealthHandler_UnreachableDependencyIs503(t *testing.T) {
	deps := map[string]Pinger{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: connection refused") },
	}
	h := NewHealthHandler(deps, nil, testLogger())

	rec := httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Deps["postgres"])
	assert.Contains(t, resp.Deps["redis"], "connection refused")
	assert.Empty(t, resp.Venues, "no feed in server-only mode")
}

func TestHealthHandler_PingRunsUnderTimeout(t *testing.T) {
	deps := map[string]Pinger{
		"postgres": func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			assert.True(t, ok, "each ping carries its own deadline")
			return nil
		},
	}
	h := NewHealthHandler(deps, nil, testLogger())

	rec := httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
