package rebalance

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

// gapEpsilon is the USD tolerance under which an asset's gap counts as zero
// and the asset sits out of the plan.
const gapEpsilon = 1e-6

// PlanConfig carries the planner's tunable constants.
type PlanConfig struct {
	// SlippageBps shrinks the expected output into the minimum-out floor.
	SlippageBps float64
	// DustFloorUSD is the smallest trade worth emitting.
	DustFloorUSD float64
	// Damping scales every gap before matching. 1.0 corrects fully in one
	// cycle; lower values spread the correction over several cycles.
	Damping float64
}

// Planner converts deviation results into an ordered set of swap operations
// using two-pointer surplus/deficit matching, greedy by largest gap.
type Planner struct {
	cfg    PlanConfig
	logger *slog.Logger
}

// NewPlanner creates a planner with the given constants. A zero or negative
// damping factor is treated as full correction.
func NewPlanner(cfg PlanConfig, logger *slog.Logger) *Planner {
	if cfg.Damping <= 0 {
		cfg.Damping = 1.0
	}
	return &Planner{cfg: cfg, logger: logger.With(slog.String("component", "planner"))}
}

type planEntry struct {
	assetID   string
	symbol    string
	decimals  int
	priceUSD  float64
	gapUSD    float64 // damped, signed: >0 deficit, <0 surplus
	remaining float64 // absolute USD still to trade
	fullGap   float64 // undamped absolute gap, feeds priority
}

// Plan builds a rebalance plan for one portfolio observation. Pure function
// of its inputs; an empty plan means no action is needed.
func (p *Planner) Plan(portfolioID string, policy domain.RebalancePolicy, deviations []domain.DeviationResult, totalValueUSD float64) domain.RebalancePlan {
	plan := domain.RebalancePlan{
		PortfolioID:   portfolioID,
		Policy:        policy,
		TotalValueUSD: totalValueUSD,
		MaxDeviation:  domain.MaxDeviation(deviations),
		CreatedAt:     time.Now().UTC(),
	}

	// Cannot rebalance nothing.
	if totalValueUSD <= domain.USDEpsilon {
		return plan
	}

	var surplus, deficit []*planEntry
	for _, dev := range deviations {
		if !p.participates(policy, dev) {
			continue
		}
		gap := (dev.TargetValueUSD - dev.CurrentValueUSD) * p.cfg.Damping
		if math.Abs(gap) <= gapEpsilon {
			continue
		}
		if dev.PriceUSD <= 0 {
			p.logger.Warn("no usable price, asset left out of plan",
				slog.String("symbol", dev.Symbol))
			continue
		}
		entry := &planEntry{
			assetID:   dev.AssetID,
			symbol:    dev.Symbol,
			decimals:  dev.Decimals,
			priceUSD:  dev.PriceUSD,
			gapUSD:    gap,
			remaining: math.Abs(gap),
			fullGap:   math.Abs(dev.TargetValueUSD - dev.CurrentValueUSD),
		}
		if gap < 0 {
			surplus = append(surplus, entry)
		} else {
			deficit = append(deficit, entry)
		}
	}

	sortByGap(surplus)
	sortByGap(deficit)

	// Largest surplus against largest deficit until one side runs out. A
	// leftover deficit stays unfilled; the planner never invents value.
	var si, di int
	for si < len(surplus) && di < len(deficit) {
		sell, buy := surplus[si], deficit[di]
		tradeUSD := math.Min(sell.remaining, buy.remaining)

		if op, ok := p.buildSwap(sell, buy, tradeUSD); ok {
			plan.Swaps = append(plan.Swaps, op)
		}

		sell.remaining -= tradeUSD
		buy.remaining -= tradeUSD
		if sell.remaining <= gapEpsilon {
			si++
		}
		if buy.remaining <= gapEpsilon {
			di++
		}
	}

	if len(plan.Swaps) > 0 {
		p.logger.Info("plan built",
			slog.String("portfolio_id", portfolioID),
			slog.String("policy", string(policy)),
			slog.Int("swaps", len(plan.Swaps)),
			slog.Float64("max_deviation", plan.MaxDeviation))
	}
	return plan
}

func (p *Planner) participates(policy domain.RebalancePolicy, dev domain.DeviationResult) bool {
	switch policy {
	case domain.PolicyStrictPeriodic:
		return dev.Deviation > 0
	default:
		return dev.NeedsRebalance
	}
}

func (p *Planner) buildSwap(sell, buy *planEntry, tradeUSD float64) (domain.SwapOperation, bool) {
	if tradeUSD < p.cfg.DustFloorUSD {
		return domain.SwapOperation{}, false
	}

	amountTokens := floorToDecimals(tradeUSD/sell.priceUSD, sell.decimals)
	if amountTokens <= 0 {
		return domain.SwapOperation{}, false
	}

	expectedOut := tradeUSD / buy.priceUSD
	minOut := expectedOut * (1 - p.cfg.SlippageBps/10000)

	return domain.SwapOperation{
		FromAssetID:  sell.assetID,
		ToAssetID:    buy.assetID,
		FromSymbol:   sell.symbol,
		ToSymbol:     buy.symbol,
		AmountUSD:    tradeUSD,
		AmountTokens: amountTokens,
		ExpectedOut:  expectedOut,
		MinAmountOut: minOut,
		Priority:     sell.fullGap + buy.fullGap,
	}, true
}

// sortByGap orders entries by remaining USD descending, symbol ascending on
// ties, so planning is deterministic for equal gaps.
func sortByGap(entries []*planEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].remaining != entries[j].remaining {
			return entries[i].remaining > entries[j].remaining
		}
		return entries[i].symbol < entries[j].symbol
	})
}

// floorToDecimals rounds down to the asset's decimal precision so a swap
// never tries to move more than is held.
func floorToDecimals(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Floor(v*scale) / scale
}
