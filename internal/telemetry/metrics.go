// Package telemetry exposes Prometheus metrics for the monitoring loop.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument the rebalancer records.
type Metrics struct {
	CyclesTotal      *prometheus.CounterVec
	SwapsTotal       *prometheus.CounterVec
	ChainReadErrors  prometheus.Counter
	PlanSwapCount    prometheus.Histogram
	ConfirmWaitSecs  prometheus.Histogram
	PortfolioValue   *prometheus.GaugeVec
	MaxDeviationSeen *prometheus.GaugeVec
}

// New registers all metrics on the given registerer and returns the bundle.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rebalancer_cycles_total",
			Help: "Monitoring cycles by terminal state.",
		}, []string{"state"}),
		SwapsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rebalancer_swaps_total",
			Help: "Executed swaps by outcome.",
		}, []string{"outcome"}),
		ChainReadErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "rebalancer_chain_read_errors_total",
			Help: "Per-asset balance or price read failures degraded to zero.",
		}),
		PlanSwapCount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rebalancer_plan_swap_count",
			Help:    "Number of swaps per non-empty plan.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		ConfirmWaitSecs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rebalancer_confirm_wait_seconds",
			Help:    "Time spent waiting for transaction confirmations.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9),
		}),
		PortfolioValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rebalancer_portfolio_value_usd",
			Help: "Last observed total portfolio value.",
		}, []string{"portfolio"}),
		MaxDeviationSeen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rebalancer_max_deviation",
			Help: "Largest absolute deviation observed in the last cycle.",
		}, []string{"portfolio"}),
	}
}

// Server serves the /metrics endpoint.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a metrics HTTP server bound to addr.
func NewServer(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger.With(slog.String("component", "telemetry")),
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info("metrics server listening", slog.String("addr", s.srv.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
