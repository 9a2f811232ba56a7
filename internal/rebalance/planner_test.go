package rebalance

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

func testPlanner(t *testing.T) *Planner {
	t.Helper()
	return NewPlanner(PlanConfig{SlippageBps: 50, DustFloorUSD: 0.01, Damping: 1.0}, discardLogger())
}

func dev(symbol string, target, current, total, price float64, threshold float64) domain.DeviationResult {
	d := domain.DeviationResult{
		AssetID:           "asset-" + symbol,
		Symbol:            symbol,
		Decimals:          18,
		PriceUSD:          price,
		TargetPercentage:  target,
		CurrentPercentage: current,
		CurrentValueUSD:   total * current,
		TargetValueUSD:    total * target,
	}
	d.Deviation = math.Abs(current - target)
	d.NeedsRebalance = d.Deviation > threshold
	return d
}

func TestPlanBalancedPortfolioIsEmpty(t *testing.T) {
	p := testPlanner(t)
	devs := []domain.DeviationResult{
		dev("WETH", 0.5, 0.5, 1000, 2000, 0.05),
		dev("USDC", 0.5, 0.5, 1000, 1, 0.05),
	}

	plan := p.Plan("pf-1", domain.PolicyThreshold, devs, 1000)
	assert.True(t, plan.Empty())
}

func TestPlanDeviationAtThresholdDoesNotTrigger(t *testing.T) {
	p := testPlanner(t)
	// Exactly 5% off with a 5% threshold: strictly-greater means no action.
	devs := []domain.DeviationResult{
		dev("WETH", 0.50, 0.55, 1000, 2000, 0.05),
		dev("USDC", 0.50, 0.45, 1000, 1, 0.05),
	}

	plan := p.Plan("pf-1", domain.PolicyThreshold, devs, 1000)
	assert.True(t, plan.Empty())
}

func TestPlanSingleThresholdBreach(t *testing.T) {
	p := testPlanner(t)
	devs := []domain.DeviationResult{
		dev("WETH", 0.50, 0.56, 1000, 2000, 0.05),
		dev("USDC", 0.50, 0.44, 1000, 1, 0.05),
	}

	plan := p.Plan("pf-1", domain.PolicyThreshold, devs, 1000)
	require.Len(t, plan.Swaps, 1)

	op := plan.Swaps[0]
	assert.Equal(t, "WETH", op.FromSymbol)
	assert.Equal(t, "USDC", op.ToSymbol)
	assert.InDelta(t, 60.0, op.AmountUSD, 1e-9)
	assert.InDelta(t, 0.03, op.AmountTokens, 1e-9) // $60 at $2000
	assert.InDelta(t, 60.0*(1-0.005), op.MinAmountOut, 1e-9)
}

func TestPlanThreeWayStrictPeriodic(t *testing.T) {
	p := testPlanner(t)
	// Targets 50/30/20 on $1000, current 60/20/20. USDC sits exactly on
	// target and must not appear in the plan.
	devs := []domain.DeviationResult{
		dev("WBTC", 0.50, 0.60, 1000, 60000, 0),
		dev("WETH", 0.30, 0.20, 1000, 2000, 0),
		dev("USDC", 0.20, 0.20, 1000, 1, 0),
	}

	plan := p.Plan("pf-1", domain.PolicyStrictPeriodic, devs, 1000)
	require.Len(t, plan.Swaps, 1)

	op := plan.Swaps[0]
	assert.Equal(t, "WBTC", op.FromSymbol)
	assert.Equal(t, "WETH", op.ToSymbol)
	assert.InDelta(t, 100.0, op.AmountUSD, 1e-9)
	assert.InDelta(t, 200.0, op.Priority, 1e-9)
}

func TestPlanStrictPeriodicTradesBelowThreshold(t *testing.T) {
	p := testPlanner(t)
	// 1% drift, threshold 5%: threshold policy skips, strict trades.
	devs := []domain.DeviationResult{
		dev("WETH", 0.50, 0.51, 1000, 2000, 0.05),
		dev("USDC", 0.50, 0.49, 1000, 1, 0.05),
	}

	assert.True(t, p.Plan("pf-1", domain.PolicyThreshold, devs, 1000).Empty())
	assert.Len(t, p.Plan("pf-1", domain.PolicyStrictPeriodic, devs, 1000).Swaps, 1)
}

func TestPlanZeroTotalValue(t *testing.T) {
	p := testPlanner(t)
	devs := []domain.DeviationResult{
		dev("WETH", 0.5, 0, 0, 2000, 0.05),
		dev("USDC", 0.5, 0, 0, 1, 0.05),
	}

	assert.True(t, p.Plan("pf-1", domain.PolicyStrictPeriodic, devs, 0).Empty())
}

func TestPlanSingleAssetNeverTrades(t *testing.T) {
	p := testPlanner(t)
	devs := []domain.DeviationResult{dev("WETH", 1.0, 1.0, 1000, 2000, 0.05)}

	assert.True(t, p.Plan("pf-1", domain.PolicyStrictPeriodic, devs, 1000).Empty())
}

func TestPlanSkipsAssetsWithoutPrice(t *testing.T) {
	p := testPlanner(t)
	devs := []domain.DeviationResult{
		dev("WETH", 0.50, 0.60, 1000, 0, 0), // no usable price
		dev("USDC", 0.50, 0.40, 1000, 1, 0),
	}

	assert.True(t, p.Plan("pf-1", domain.PolicyStrictPeriodic, devs, 1000).Empty())
}

func TestPlanDampingHalvesTradeSize(t *testing.T) {
	p := NewPlanner(PlanConfig{SlippageBps: 50, DustFloorUSD: 0.01, Damping: 0.5}, discardLogger())
	devs := []domain.DeviationResult{
		dev("WETH", 0.50, 0.60, 1000, 2000, 0),
		dev("USDC", 0.50, 0.40, 1000, 1, 0),
	}

	plan := p.Plan("pf-1", domain.PolicyStrictPeriodic, devs, 1000)
	require.Len(t, plan.Swaps, 1)
	assert.InDelta(t, 50.0, plan.Swaps[0].AmountUSD, 1e-9)
}

func TestPlanFloorsTokenAmount(t *testing.T) {
	p := testPlanner(t)
	devs := []domain.DeviationResult{
		dev("WBTC", 0.50, 0.60, 1000, 30000, 0),
		dev("USDC", 0.50, 0.40, 1000, 1, 0),
	}
	devs[0].Decimals = 2 // coarse precision forces visible flooring

	// $100 / $30000 = 0.00333... floors to zero tokens at 2 decimals, so
	// the swap is suppressed rather than emitted with nothing to move.
	plan := p.Plan("pf-1", domain.PolicyStrictPeriodic, devs, 1000)
	assert.True(t, plan.Empty())

	devs[0].Decimals = 8
	plan = p.Plan("pf-1", domain.PolicyStrictPeriodic, devs, 1000)
	require.Len(t, plan.Swaps, 1)
	assert.InDelta(t, 0.00333333, plan.Swaps[0].AmountTokens, 1e-8)
}

func TestPlanDeterministicTieBreak(t *testing.T) {
	p := testPlanner(t)
	// Two equal surpluses: lexically smaller symbol must be consumed first.
	devs := []domain.DeviationResult{
		dev("WETH", 0.25, 0.35, 1000, 2000, 0),
		dev("AAVE", 0.25, 0.35, 1000, 100, 0),
		dev("USDC", 0.50, 0.30, 1000, 1, 0),
	}

	plan := p.Plan("pf-1", domain.PolicyStrictPeriodic, devs, 1000)
	require.Len(t, plan.Swaps, 2)
	assert.Equal(t, "AAVE", plan.Swaps[0].FromSymbol)
	assert.Equal(t, "WETH", plan.Swaps[1].FromSymbol)
}

func TestPlanSwapCountBound(t *testing.T) {
	p := testPlanner(t)
	devs := []domain.DeviationResult{
		dev("WBTC", 0.10, 0.40, 1000, 60000, 0),
		dev("WETH", 0.20, 0.30, 1000, 2000, 0),
		dev("USDC", 0.40, 0.20, 1000, 1, 0),
		dev("DAI", 0.30, 0.10, 1000, 1, 0),
	}

	plan := p.Plan("pf-1", domain.PolicyStrictPeriodic, devs, 1000)
	// |surplus| + |deficit| - 1 = 2 + 2 - 1
	assert.LessOrEqual(t, len(plan.Swaps), 3)
	assert.GreaterOrEqual(t, len(plan.Swaps), 1)
}

// TestPlanConservationProperty checks, over random portfolios, that the plan
// never sells more than any asset's surplus nor buys more than its deficit,
// and that total sell volume matches total buy volume.
func TestPlanConservationProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	planner := NewPlanner(PlanConfig{SlippageBps: 50, DustFloorUSD: 0.01, Damping: 1.0}, discardLogger())
	symbols := []string{"AAVE", "DAI", "USDC", "WBTC", "WETH"}
	prices := map[string]float64{"AAVE": 100, "DAI": 1, "USDC": 1, "WBTC": 60000, "WETH": 2000}

	properties.Property("plan conserves value", prop.ForAll(
		func(weights []float64, currents []float64) bool {
			if len(weights) != len(symbols) || len(currents) != len(symbols) {
				return true
			}
			targets := normalize(weights)
			actuals := normalize(currents)
			if targets == nil || actuals == nil {
				return true
			}

			const total = 10000.0
			devs := make([]domain.DeviationResult, len(symbols))
			for i, sym := range symbols {
				devs[i] = dev(sym, targets[i], actuals[i], total, prices[sym], 0)
			}

			plan := planner.Plan("pf-prop", domain.PolicyStrictPeriodic, devs, total)

			soldBy := map[string]float64{}
			boughtBy := map[string]float64{}
			var sold, bought float64
			for _, op := range plan.Swaps {
				if op.AmountUSD < 0.01 {
					return false // dust exclusion violated
				}
				soldBy[op.FromSymbol] += op.AmountUSD
				boughtBy[op.ToSymbol] += op.AmountUSD
				sold += op.AmountUSD
				bought += op.AmountUSD
			}

			const tol = 1e-6
			for i, sym := range symbols {
				gap := devs[i].TargetValueUSD - devs[i].CurrentValueUSD
				if soldBy[sym] > math.Max(0, -gap)+tol {
					return false
				}
				if boughtBy[sym] > math.Max(0, gap)+tol {
					return false
				}
			}
			return math.Abs(sold-bought) < tol
		},
		gen.SliceOfN(len(symbols), gen.Float64Range(0.01, 1)),
		gen.SliceOfN(len(symbols), gen.Float64Range(0, 1)),
	))

	properties.TestingRun(t)
}

func normalize(weights []float64) []float64 {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return nil
	}
	out := make([]float64, len(weights))
	for i, w := range weights {
		out[i] = w / sum
	}
	return out
}
