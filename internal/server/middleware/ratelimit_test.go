package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (l *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allowed, l.err
}

func (l *fakeLimiter) Wait(context.Context, string) error { return nil }

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	limiter := &fakeLimiter{allowed: true}
	h := RateLimit(limiter, 10, time.Second)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.RemoteAddr = "203.0.113.7:54321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"api:203.0.113.7"}, limiter.keys, "keyed by client IP without the port")
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	limiter := &fakeLimiter{allowed: false}
	h := RateLimit(limiter, 10, time.Second)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())
}

func TestRateLimit_FailsOpenOnLimiterError(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis: connection refused")}
	h := RateLimit(limiter, 10, time.Second)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "a broken limiter must not take the API down")
}

func TestClientIP(t *testing.T) {
	base := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.7:54321"
		return req
	}

	t.Run("socket peer", func(t *testing.T) {
		assert.Equal(t, "203.0.113.7", clientIP(base()))
	})

	t.Run("x-forwarded-for wins", func(t *testing.T) {
		req := base()
		req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
		assert.Equal(t, "198.51.100.4", clientIP(req))
	})

	t.Run("x-real-ip fallback", func(t *testing.T) {
		req := base()
		req.Header.Set("X-Real-IP", "198.51.100.9")
		assert.Equal(t, "198.51.100.9", clientIP(req))
	})

	t.Run("garbage forwarded header falls through", func(t *testing.T) {
		req := base()
		req.Header.Set("X-Forwarded-For", "not-an-ip")
		assert.Equal(t, "203.0.113.7", clientIP(req), "spoofed junk must not become a limiter key")
	})

	t.Run("unparseable remote addr passes through", func(t *testing.T) {
		req := base()
		req.RemoteAddr = "bogus"
		assert.Equal(t, "bogus", clientIP(req))
	})
}
