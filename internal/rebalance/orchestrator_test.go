package rebalance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

// cycleFixture wires a full orchestrator against in-memory stores and fakes.
type cycleFixture struct {
	portfolios *memPortfolioStore
	allocs     *memAllocationStore
	jobs       *memJobStore
	venue      *fakeVenue
	bus        *fakeBus
	alerter    *fakeAlerter
	orch       *Orchestrator
}

// newCycleFixture builds a two-asset portfolio (WETH/USDC, 50/50 target) with
// the given current balances. WETH trades at $2000, USDC at $1.
func newCycleFixture(t *testing.T, policy domain.RebalancePolicy, wethBalance, usdcBalance float64) *cycleFixture {
	t.Helper()

	assets := newMemAssetStore(
		domain.Asset{ID: "asset-WETH", Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18, IsActive: true},
		domain.Asset{ID: "asset-USDC", Symbol: "USDC", Address: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", Decimals: 6, IsActive: true},
	)
	portfolios := newMemPortfolioStore(domain.Portfolio{
		ID:           "pf-1",
		OwnerAddress: "0xowner",
		Name:         "main",
		IsActive:     true,
		Policy:       policy,
		Threshold:    0.05,
		Interval:     time.Hour,
	})
	allocs := newMemAllocationStore(
		domain.Allocation{ID: "alloc-weth", PortfolioID: "pf-1", AssetID: "asset-WETH", TargetPercentage: 0.5},
		domain.Allocation{ID: "alloc-usdc", PortfolioID: "pf-1", AssetID: "asset-USDC", TargetPercentage: 0.5},
	)

	oracle := &fakeOracle{prices: map[string]float64{"WETH": 2000, "USDC": 1}}
	chain := &fakeChain{balances: map[string]domain.TokenBalance{
		"0x4200000000000000000000000000000000000006": {Raw: "0", Formatted: wethBalance},
		"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913": {Raw: "0", Formatted: usdcBalance},
	}}

	jobs := newMemJobStore()
	venue := newFakeVenue()
	bus := &fakeBus{}
	alerter := &fakeAlerter{}
	logger := discardLogger()

	aggregator := NewAggregator(portfolios, allocs, assets, chain, oracle, nil, logger)
	calculator := NewCalculator(portfolios, allocs, assets, oracle, logger)
	planner := NewPlanner(PlanConfig{SlippageBps: 50, DustFloorUSD: 0.01, Damping: 1.0}, logger)
	executor := NewExecutor(venue, &fakeConfirmer{}, jobs, assets, ExecConfig{
		DustFloorUSD:   0.01,
		ConfirmTimeout: time.Second,
		ConfirmPoll:    time.Millisecond,
	}, nil, logger)

	return &cycleFixture{
		portfolios: portfolios,
		allocs:     allocs,
		jobs:       jobs,
		venue:      venue,
		bus:        bus,
		alerter:    alerter,
		orch:       NewOrchestrator(portfolios, aggregator, calculator, planner, executor, bus, alerter, nil, false, logger),
	}
}

func TestCycleNoActionWhenBalanced(t *testing.T) {
	// 0.25 WETH ($500) + 500 USDC: exactly on 50/50 target.
	f := newCycleFixture(t, domain.PolicyThreshold, 0.25, 500)

	result, err := f.orch.RunMonitoringCycle(context.Background(), "pf-1")
	require.NoError(t, err)
	assert.Equal(t, StateNoActionNeeded, result.State)
	assert.InDelta(t, 1000, result.TotalValueUSD, 1e-9)
	assert.Empty(t, f.venue.executed)

	// Observation was persisted even though nothing traded.
	p, err := f.portfolios.GetByID(context.Background(), "pf-1")
	require.NoError(t, err)
	require.NotNil(t, p.LastObservedAt)
	assert.Nil(t, p.LastRebalanceAt)
}

func TestCycleCompletesAndStampsRebalance(t *testing.T) {
	// 0.3 WETH ($600) + 400 USDC: 60/40 against a 50/50 target, 5% threshold.
	f := newCycleFixture(t, domain.PolicyThreshold, 0.3, 400)

	result, err := f.orch.RunMonitoringCycle(context.Background(), "pf-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 1, result.SwapsPlanned)
	require.Len(t, result.TxHashes, 1)

	p, err := f.portfolios.GetByID(context.Background(), "pf-1")
	require.NoError(t, err)
	require.NotNil(t, p.LastRebalanceAt)

	job, ok := f.jobs.single()
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)

	// Every cycle publishes exactly one terminal event on the shared channel.
	assert.Len(t, f.bus.payloads, 1)
	assert.Equal(t, []string{domain.CycleEventsChannel}, f.bus.channels)
}

func TestCycleSkipsMissingPortfolio(t *testing.T) {
	f := newCycleFixture(t, domain.PolicyThreshold, 0.25, 500)

	result, err := f.orch.RunMonitoringCycle(context.Background(), "pf-does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, result.State)
}

func TestCycleSkipsInactivePortfolio(t *testing.T) {
	f := newCycleFixture(t, domain.PolicyThreshold, 0.3, 400)
	require.NoError(t, f.portfolios.SetActive(context.Background(), "pf-1", false))

	result, err := f.orch.RunMonitoringCycle(context.Background(), "pf-1")
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, result.State)
	assert.Empty(t, f.venue.executed)
}

func TestCycleFailureIsNotFatalByDefault(t *testing.T) {
	f := newCycleFixture(t, domain.PolicyThreshold, 0.3, 400)
	f.venue.failAtIndex = 0
	f.venue.failErr = errors.New("execution reverted: slippage")

	result, err := f.orch.RunMonitoringCycle(context.Background(), "pf-1")
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.False(t, result.Disabled)

	// Portfolio stays active so the next tick retries from scratch.
	p, getErr := f.portfolios.GetByID(context.Background(), "pf-1")
	require.NoError(t, getErr)
	assert.True(t, p.IsActive)
	assert.Contains(t, f.alerter.events, "cycle_failed")
}

func TestCycleFatalResourceFailureDisablesPortfolio(t *testing.T) {
	f := newCycleFixture(t, domain.PolicyThreshold, 0.3, 400)
	f.venue.failAtIndex = 0
	f.venue.failErr = errors.New("insufficient funds for gas * price + value")

	result, err := f.orch.RunMonitoringCycle(context.Background(), "pf-1")
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.True(t, result.Disabled)

	p, getErr := f.portfolios.GetByID(context.Background(), "pf-1")
	require.NoError(t, getErr)
	assert.False(t, p.IsActive)
	assert.Contains(t, f.alerter.events, "portfolio_disabled")
	assert.Contains(t, f.alerter.events, "cycle_failed")
}

func TestCycleDryRunNeverExecutes(t *testing.T) {
	f := newCycleFixture(t, domain.PolicyThreshold, 0.3, 400)
	f.orch.dryRun = true

	result, err := f.orch.RunMonitoringCycle(context.Background(), "pf-1")
	require.NoError(t, err)
	assert.Equal(t, StatePlanned, result.State)
	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.SwapsPlanned)
	assert.Empty(t, f.venue.executed)

	if _, ok := f.jobs.single(); ok {
		t.Fatal("dry run must not create a job")
	}
}

func TestCycleDryRunBalancedReportsNoAction(t *testing.T) {
	f := newCycleFixture(t, domain.PolicyThreshold, 0.25, 500)
	f.orch.dryRun = true

	result, err := f.orch.RunMonitoringCycle(context.Background(), "pf-1")
	require.NoError(t, err)

	// A balanced portfolio stays no_action_needed; only a suppressed plan
	// reports planned.
	assert.Equal(t, StateNoActionNeeded, result.State)
	assert.True(t, result.DryRun)
	assert.Zero(t, result.SwapsPlanned)
}

func TestCycleStrictPeriodicCorrectsSmallDrift(t *testing.T) {
	// 51/49 drift sits inside the 5% threshold but strict mode still trades.
	f := newCycleFixture(t, domain.PolicyStrictPeriodic, 0.255, 490)

	result, err := f.orch.RunMonitoringCycle(context.Background(), "pf-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 1, result.SwapsPlanned)
}
