// Package app owns the daemon lifecycle: it wires every dependency (stores,
// caches, oracle, chain access, venue, notifications, telemetry) and runs the
// operating mode selected in the configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/rebalancerbot/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// the cleanup functions run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the selected operating mode, and blocks
// until the context is cancelled or the mode finishes.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting rebalancer",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "monitor":
		return a.MonitorMode(ctx, deps)
	case "observe":
		return a.ObserveMode(ctx, deps)
	case "once":
		return a.OnceMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down rebalancer")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
