// Package server exposes the admin HTTP API: portfolio and asset
// management, the rebalance audit trail, and a WebSocket stream of cycle
// events.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/rebalancerbot/internal/server/handler"
	"github.com/alanyoungcy/rebalancerbot/internal/server/middleware"
	"github.com/alanyoungcy/rebalancerbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateRPS     float64
	RateBurst   int
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Portfolios *handler.PortfolioHandler
	Assets     *handler.AssetHandler
}

// Server is the admin HTTP and WebSocket API.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	logger     *slog.Logger
}

// New registers all routes and builds the middleware chain. The WebSocket
// hub may be nil, in which case the /ws endpoint is not registered.
func New(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	// Health check, no auth required.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/portfolios", handlers.Portfolios.ListPortfolios)
	mux.HandleFunc("POST /api/portfolios", handlers.Portfolios.CreatePortfolio)
	mux.HandleFunc("GET /api/portfolios/{id}", handlers.Portfolios.GetPortfolio)
	mux.HandleFunc("PUT /api/portfolios/{id}/targets", handlers.Portfolios.UpdateTargets)
	mux.HandleFunc("PUT /api/portfolios/{id}/active", handlers.Portfolios.SetActive)
	mux.HandleFunc("GET /api/portfolios/{id}/jobs", handlers.Portfolios.ListJobs)

	mux.HandleFunc("GET /api/assets", handlers.Assets.ListAssets)
	mux.HandleFunc("POST /api/assets", handlers.Assets.RegisterAsset)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 20
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 40
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.RateLimit(rps, burst)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		hub:    hub,
		logger: logger,
	}
}

// Run serves requests (and drives the WebSocket hub, when present) until
// ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	if s.hub != nil {
		go func() { _ = s.hub.Run(ctx) }()
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
