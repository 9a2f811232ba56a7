package rebalance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
	"github.com/alanyoungcy/rebalancerbot/internal/telemetry"
)

// CycleState is the terminal state of one monitoring cycle.
type CycleState string

const (
	StateSkipped        CycleState = "skipped"
	StateNoActionNeeded CycleState = "no_action_needed"
	// StatePlanned marks a dry-run cycle whose non-empty plan was suppressed
	// before execution, so it is never confused with a balanced portfolio.
	StatePlanned   CycleState = "planned"
	StateCompleted CycleState = "completed"
	StateFailed    CycleState = "failed"
)

// CycleResult summarizes one orchestrated cycle.
type CycleResult struct {
	PortfolioID   string     `json:"portfolio_id"`
	State         CycleState `json:"state"`
	TotalValueUSD float64    `json:"total_value_usd"`
	MaxDeviation  float64    `json:"max_deviation"`
	SwapsPlanned  int        `json:"swaps_planned"`
	TxHashes      []string   `json:"tx_hashes,omitempty"`
	Error         string     `json:"error,omitempty"`
	Disabled      bool       `json:"disabled,omitempty"`
	DryRun        bool       `json:"dry_run,omitempty"`
}

// Alerter pushes operator notifications. Satisfied by the notify package.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Orchestrator drives one full monitoring cycle per tick per portfolio:
// observe, decide, plan, execute. Each tick recomputes from live balances;
// no state is carried between ticks.
type Orchestrator struct {
	portfolios domain.PortfolioStore
	aggregator *Aggregator
	calculator *Calculator
	planner    *Planner
	executor   *Executor
	bus        domain.EventBus
	alerter    Alerter
	metrics    *telemetry.Metrics
	dryRun     bool
	logger     *slog.Logger
}

// NewOrchestrator wires the cycle state machine. bus and alerter may be nil;
// dryRun stops cycles after planning so observe-only deployments never touch
// the venue.
func NewOrchestrator(
	portfolios domain.PortfolioStore,
	aggregator *Aggregator,
	calculator *Calculator,
	planner *Planner,
	executor *Executor,
	bus domain.EventBus,
	alerter Alerter,
	metrics *telemetry.Metrics,
	dryRun bool,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		portfolios: portfolios,
		aggregator: aggregator,
		calculator: calculator,
		planner:    planner,
		executor:   executor,
		bus:        bus,
		alerter:    alerter,
		metrics:    metrics,
		dryRun:     dryRun,
		logger:     logger.With(slog.String("component", "orchestrator")),
	}
}

// RunMonitoringCycle executes one cycle for the portfolio. A missing or
// inactive portfolio is a no-op, not an error; execution failures are
// reflected in the result and returned so callers can log them, and fatal
// resource failures additionally disable the portfolio.
func (o *Orchestrator) RunMonitoringCycle(ctx context.Context, portfolioID string) (CycleResult, error) {
	result := CycleResult{PortfolioID: portfolioID, State: StateSkipped, DryRun: o.dryRun}

	portfolio, err := o.portfolios.GetByID(ctx, portfolioID)
	if errors.Is(err, domain.ErrNotFound) {
		o.logger.Warn("portfolio gone, skipping cycle", slog.String("portfolio_id", portfolioID))
		return o.finish(ctx, result, nil)
	}
	if err != nil {
		result.State = StateFailed
		result.Error = err.Error()
		return o.finish(ctx, result, fmt.Errorf("rebalance: load portfolio: %w", err))
	}
	if !portfolio.IsActive {
		o.logger.Debug("portfolio inactive, skipping cycle", slog.String("portfolio_id", portfolioID))
		return o.finish(ctx, result, nil)
	}

	// Observing.
	totalUSD, _, err := o.aggregator.RefreshBalances(ctx, portfolioID)
	if err != nil {
		result.State = StateFailed
		result.Error = err.Error()
		return o.finish(ctx, result, err)
	}
	result.TotalValueUSD = totalUSD

	deviations, err := o.calculator.CalculateDeviations(ctx, portfolioID)
	if err != nil {
		result.State = StateFailed
		result.Error = err.Error()
		return o.finish(ctx, result, err)
	}
	result.MaxDeviation = domain.MaxDeviation(deviations)
	if o.metrics != nil {
		o.metrics.MaxDeviationSeen.WithLabelValues(portfolioID).Set(result.MaxDeviation)
	}

	// Planning.
	plan := o.planner.Plan(portfolioID, portfolio.Policy, deviations, totalUSD)
	result.SwapsPlanned = len(plan.Swaps)
	if plan.Empty() {
		result.State = StateNoActionNeeded
		return o.finish(ctx, result, nil)
	}
	if o.metrics != nil {
		o.metrics.PlanSwapCount.Observe(float64(len(plan.Swaps)))
	}

	if o.dryRun {
		o.logger.Info("dry run, plan not executed",
			slog.String("portfolio_id", portfolioID),
			slog.Int("swaps", len(plan.Swaps)))
		result.State = StatePlanned
		return o.finish(ctx, result, nil)
	}

	// Executing.
	txHashes, execErr := o.executor.Execute(ctx, plan, portfolio)
	result.TxHashes = txHashes
	if execErr != nil {
		result.State = StateFailed
		result.Error = execErr.Error()
		if domain.IsFatalResource(execErr) {
			result.Disabled = true
			o.disable(ctx, portfolio, execErr)
		}
		o.alert(ctx, "cycle_failed", "Rebalance cycle failed",
			fmt.Sprintf("portfolio %s: %v", portfolioID, execErr))
		return o.finish(ctx, result, execErr)
	}

	// Completed: refresh the observation and stamp the rebalance.
	if _, _, err := o.aggregator.RefreshBalances(ctx, portfolioID); err != nil {
		o.logger.Warn("post-rebalance refresh failed", slog.Any("error", err))
	}
	if err := o.portfolios.MarkRebalanced(ctx, portfolioID, time.Now().UTC()); err != nil {
		o.logger.Warn("failed to stamp rebalance time", slog.Any("error", err))
	}

	result.State = StateCompleted
	return o.finish(ctx, result, nil)
}

func (o *Orchestrator) disable(ctx context.Context, portfolio domain.Portfolio, cause error) {
	o.logger.Error("fatal resource failure, disabling portfolio",
		slog.String("portfolio_id", portfolio.ID),
		slog.Any("error", cause))
	if err := o.portfolios.SetActive(ctx, portfolio.ID, false); err != nil {
		o.logger.Error("failed to disable portfolio", slog.Any("error", err))
	}
	o.alert(ctx, "portfolio_disabled", "Portfolio disabled",
		fmt.Sprintf("portfolio %s (%s) disabled after fatal failure: %v", portfolio.ID, portfolio.Name, cause))
}

// finish records metrics, publishes the cycle event, and passes err through.
func (o *Orchestrator) finish(ctx context.Context, result CycleResult, err error) (CycleResult, error) {
	if o.metrics != nil {
		o.metrics.CyclesTotal.WithLabelValues(string(result.State)).Inc()
	}
	if o.bus != nil {
		payload, marshalErr := json.Marshal(result)
		if marshalErr == nil {
			if pubErr := o.bus.Publish(ctx, domain.CycleEventsChannel, payload); pubErr != nil {
				o.logger.Warn("failed to publish cycle event", slog.Any("error", pubErr))
			}
		}
	}
	o.logger.Info("cycle finished",
		slog.String("portfolio_id", result.PortfolioID),
		slog.String("state", string(result.State)),
		slog.Int("swaps_planned", result.SwapsPlanned),
		slog.Int("swaps_confirmed", len(result.TxHashes)))
	return result, err
}

func (o *Orchestrator) alert(ctx context.Context, event, title, message string) {
	if o.alerter == nil {
		return
	}
	if err := o.alerter.Notify(ctx, event, title, message); err != nil {
		o.logger.Warn("notification failed", slog.String("event", event), slog.Any("error", err))
	}
}
