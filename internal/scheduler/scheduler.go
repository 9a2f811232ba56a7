// Package scheduler runs the recurring monitoring loop: one ticker per
// active portfolio, guarded by a distributed lock so at most one cycle per
// portfolio is in flight across all instances.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
	"github.com/alanyoungcy/rebalancerbot/internal/rebalance"
)

// CycleRunner runs one monitoring cycle for a portfolio. Satisfied by the
// rebalance orchestrator.
type CycleRunner interface {
	RunMonitoringCycle(ctx context.Context, portfolioID string) (rebalance.CycleResult, error)
}

// Config carries the scheduler's timing knobs.
type Config struct {
	// PortfolioRefresh is how often the active portfolio set is re-read.
	PortfolioRefresh time.Duration
	// LockTTL bounds how long a crashed instance can hold a cycle lock.
	LockTTL time.Duration
	// DefaultInterval is used for portfolios without an interval of their own.
	DefaultInterval time.Duration
}

// Scheduler discovers active portfolios and drives their cycle loops.
type Scheduler struct {
	portfolios domain.PortfolioStore
	runner     CycleRunner
	locks      domain.LockManager
	cfg        Config
	logger     *slog.Logger

	mu    sync.Mutex
	loops map[string]context.CancelFunc
}

// New creates a scheduler.
func New(portfolios domain.PortfolioStore, runner CycleRunner, locks domain.LockManager, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.PortfolioRefresh <= 0 {
		cfg.PortfolioRefresh = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = time.Hour
	}
	return &Scheduler{
		portfolios: portfolios,
		runner:     runner,
		locks:      locks,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "scheduler")),
		loops:      make(map[string]context.CancelFunc),
	}
}

// Run blocks until ctx is cancelled, keeping one ticker loop alive per
// active portfolio. Portfolios created, disabled, or re-enabled while
// running are picked up on the next refresh.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer s.stopAll()

		if err := s.refresh(ctx, g); err != nil {
			s.logger.Warn("initial portfolio refresh failed", slog.Any("error", err))
		}

		ticker := time.NewTicker(s.cfg.PortfolioRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := s.refresh(ctx, g); err != nil {
					s.logger.Warn("portfolio refresh failed", slog.Any("error", err))
				}
			}
		}
	})

	return g.Wait()
}

// refresh reconciles the running loops with the current active set.
func (s *Scheduler) refresh(ctx context.Context, g *errgroup.Group) error {
	portfolios, err := s.portfolios.ListActive(ctx, domain.ListOpts{Limit: 1000})
	if err != nil {
		return err
	}

	active := make(map[string]domain.Portfolio, len(portfolios))
	for _, p := range portfolios {
		active[p.ID] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, cancel := range s.loops {
		if _, ok := active[id]; !ok {
			s.logger.Info("portfolio left the active set, stopping loop", slog.String("portfolio_id", id))
			cancel()
			delete(s.loops, id)
		}
	}

	for id, p := range active {
		if _, ok := s.loops[id]; ok {
			continue
		}
		loopCtx, cancel := context.WithCancel(ctx)
		s.loops[id] = cancel
		portfolio := p
		g.Go(func() error {
			s.runLoop(loopCtx, portfolio)
			return nil
		})
	}
	return nil
}

// runLoop ticks one portfolio at its configured interval.
func (s *Scheduler) runLoop(ctx context.Context, p domain.Portfolio) {
	interval := p.Interval
	if interval <= 0 {
		interval = s.cfg.DefaultInterval
	}

	s.logger.Info("portfolio loop started",
		slog.String("portfolio_id", p.ID),
		slog.String("name", p.Name),
		slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First cycle fires immediately so a fresh portfolio does not wait a
	// full interval before its first observation.
	s.tick(ctx, p.ID)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("portfolio loop stopped", slog.String("portfolio_id", p.ID))
			return
		case <-ticker.C:
			s.tick(ctx, p.ID)
		}
	}
}

// tick runs one lock-guarded cycle. A held lock means another instance (or
// a still-running previous tick) owns this portfolio right now.
func (s *Scheduler) tick(ctx context.Context, portfolioID string) {
	unlock, err := s.locks.Acquire(ctx, "rebalance:lock:"+portfolioID, s.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		s.logger.Debug("cycle already in flight, skipping tick", slog.String("portfolio_id", portfolioID))
		return
	}
	if err != nil {
		s.logger.Warn("lock acquire failed", slog.String("portfolio_id", portfolioID), slog.Any("error", err))
		return
	}
	defer unlock()

	if _, err := s.runner.RunMonitoringCycle(ctx, portfolioID); err != nil {
		s.logger.Error("cycle failed",
			slog.String("portfolio_id", portfolioID),
			slog.Any("error", err))
	}
}

func (s *Scheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.loops {
		cancel()
		delete(s.loops, id)
	}
}
