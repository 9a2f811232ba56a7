package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
	"github.com/alanyoungcy/rebalancerbot/internal/rebalance"
	"github.com/alanyoungcy/rebalancerbot/internal/scheduler"
	"github.com/alanyoungcy/rebalancerbot/internal/server"
	"github.com/alanyoungcy/rebalancerbot/internal/server/handler"
	"github.com/alanyoungcy/rebalancerbot/internal/server/ws"
	"github.com/alanyoungcy/rebalancerbot/internal/telemetry"
)

// MonitorMode runs the full monitoring loop: per-portfolio tickers that
// observe, plan, and execute until the context is cancelled.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	return a.runLoop(ctx, deps, false)
}

// ObserveMode runs the same loop but stops every cycle after planning; it
// never touches the venue or the wallet.
func (a *App) ObserveMode(ctx context.Context, deps *Dependencies) error {
	return a.runLoop(ctx, deps, true)
}

// OnceMode runs a single monitoring cycle for every active portfolio and
// exits. Useful for cron-driven deployments and smoke tests.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	orch, err := a.startCore(ctx, deps, false)
	if err != nil {
		return err
	}
	defer deps.Oracle.Stop()

	portfolios, err := deps.PortfolioStore.ListActive(ctx, domain.ListOpts{Limit: 1000})
	if err != nil {
		return fmt.Errorf("app: list active portfolios: %w", err)
	}

	var failures int
	for _, p := range portfolios {
		result, err := orch.RunMonitoringCycle(ctx, p.ID)
		if err != nil {
			failures++
			a.logger.ErrorContext(ctx, "cycle failed",
				slog.String("portfolio_id", p.ID),
				slog.Any("error", err))
			continue
		}
		a.logger.InfoContext(ctx, "cycle done",
			slog.String("portfolio_id", p.ID),
			slog.String("state", string(result.State)))
	}

	if failures > 0 {
		return fmt.Errorf("app: %d of %d cycles failed", failures, len(portfolios))
	}
	return nil
}

// runLoop drives the scheduler plus the optional metrics endpoint.
func (a *App) runLoop(ctx context.Context, deps *Dependencies, dryRun bool) error {
	orch, err := a.startCore(ctx, deps, dryRun)
	if err != nil {
		return err
	}
	defer deps.Oracle.Stop()

	sched := scheduler.New(deps.PortfolioStore, orch, deps.LockManager, scheduler.Config{
		PortfolioRefresh: a.cfg.Scheduler.PortfolioRefresh.Duration,
		LockTTL:          a.cfg.Scheduler.LockTTL.Duration,
	}, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })

	if deps.Registry != nil {
		srv := telemetry.NewServer(a.cfg.Telemetry.Addr, deps.Registry, a.logger)
		g.Go(func() error { return srv.Run(ctx) })
	}

	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.CycleBus, a.cfg.Mode, a.logger)
		admin := server.New(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateRPS:     a.cfg.Server.RateRPS,
			RateBurst:   a.cfg.Server.RateBurst,
		}, server.Handlers{
			Health:     handler.NewHealthHandler(a.logger),
			Portfolios: handler.NewPortfolioHandler(deps.Portfolios, a.logger),
			Assets:     handler.NewAssetHandler(deps.Portfolios, deps.AssetStore, a.logger),
		}, hub, a.logger)
		g.Go(func() error { return admin.Run(ctx) })
	}

	return g.Wait()
}

// startCore registers oracle feeds, starts the price stream, and assembles
// the cycle orchestrator.
func (a *App) startCore(ctx context.Context, deps *Dependencies, dryRun bool) (*rebalance.Orchestrator, error) {
	if err := registerFeeds(ctx, deps); err != nil {
		return nil, err
	}
	if err := deps.Oracle.Start(ctx); err != nil {
		return nil, fmt.Errorf("app: start oracle: %w", err)
	}

	aggregator := rebalance.NewAggregator(
		deps.PortfolioStore, deps.AllocationStore, deps.AssetStore,
		deps.Chain, deps.Oracle, deps.Metrics, a.logger)
	calculator := rebalance.NewCalculator(
		deps.PortfolioStore, deps.AllocationStore, deps.AssetStore,
		deps.Oracle, a.logger)
	planner := rebalance.NewPlanner(rebalance.PlanConfig{
		SlippageBps:  a.cfg.Rebalance.SlippageBps,
		DustFloorUSD: a.cfg.Rebalance.DustFloorUSD,
		Damping:      a.cfg.Rebalance.Damping,
	}, a.logger)
	executor := rebalance.NewExecutor(
		deps.Venue, deps.Chain, deps.JobStore, deps.AssetStore,
		rebalance.ExecConfig{
			DustFloorUSD:   a.cfg.Rebalance.DustFloorUSD,
			ConfirmTimeout: a.cfg.Rebalance.ConfirmTimeout.Duration,
			ConfirmPoll:    a.cfg.Rebalance.ConfirmPoll.Duration,
		}, deps.Metrics, a.logger)
	if deps.Archiver != nil {
		executor.SetArchiver(deps.Archiver)
	}
	if deps.Wallet.Address != "" {
		executor.SetSigner(deps.Wallet.Address)
	}

	return rebalance.NewOrchestrator(
		deps.PortfolioStore, aggregator, calculator, planner, executor,
		deps.CycleBus, deps.Notifier, deps.Metrics, dryRun, a.logger), nil
}
