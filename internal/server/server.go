// Package server exposes the dashboard HTTP + WebSocket API. It is a
// read-mostly surface: every trading decision happens in the bot; the only
// mutations offered here are pausing the scanner and clearing the visible
// event window.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/theatom/atombot/internal/domain"
	"github.com/theatom/atombot/internal/server/handler"
	"github.com/theatom/atombot/internal/server/middleware"
	"github.com/theatom/atombot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	RateLimit   int           // requests per window per client IP; 0 disables
	RateWindow  time.Duration // sliding window for RateLimit
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Status        *handler.StatusHandler
	Trades        *handler.TradeHandler
	Opportunities *handler.OpportunityHandler
	Logs          *handler.LogHandler
	Control       *handler.ControlHandler
	Health        *handler.HealthHandler
}

// Server is the dashboard API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain. Handler
// fields may be nil when the backing subsystem is not running (a server-only
// process has no engine to pause), in which case their routes are simply not
// registered. limiter may be nil (or cfg.RateLimit zero) to run without rate
// limiting; wsHub may be nil to run without the live event socket.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health first: probes must work even when the rest is degraded.
	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.Check)
	}

	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}

	if handlers.Trades != nil {
		mux.HandleFunc("GET /api/trades", handlers.Trades.List)
		mux.HandleFunc("GET /api/trades/{id}", handlers.Trades.Get)
	}

	if handlers.Opportunities != nil {
		mux.HandleFunc("GET /api/opportunities", handlers.Opportunities.List)
	}

	if handlers.Logs != nil {
		mux.HandleFunc("GET /api/logs", handlers.Logs.List)
		mux.HandleFunc("POST /api/logs/clear", handlers.Logs.Clear)
	}

	if handlers.Control != nil {
		mux.HandleFunc("POST /api/system/start", handlers.Control.Start)
		mux.HandleFunc("POST /api/system/stop", handlers.Control.Stop)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Middleware chain, innermost first.
	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start listens for HTTP requests and blocks until the server fails or is
// shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
