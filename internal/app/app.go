// Package app provides the top-level application lifecycle for the
// arbitrage bot. It wires together all dependencies (stores, caches, the
// chain connection, blob storage, telemetry, and notifications) and starts
// the goroutines the configured operating mode needs.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/theatom/atombot/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	closeOnce sync.Once
	closers   []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the
// goroutines the operating mode needs, and blocks until the context is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	// Resolve the mode before anything is dialed, so a bad MODE value
	// fails instantly instead of after connecting to every backend.
	mode, err := a.modeFunc()
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return mode(ctx, deps)
}

// modeFunc maps the configured operating mode to its entry point.
func (a *App) modeFunc() (func(context.Context, *Dependencies) error, error) {
	switch strings.ToLower(a.cfg.Mode) {
	case "bot":
		return a.BotMode, nil
	case "server":
		return a.ServerMode, nil
	case "all":
		return a.AllMode, nil
	default:
		return nil, fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. Repeat
// calls are no-ops.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down application")
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
	})
}
