// Package rebalance holds the decision core of the rebalancer: balance
// aggregation, deviation calculation, swap planning and sequential
// execution, tied together by the cycle orchestrator.
package rebalance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
	"github.com/alanyoungcy/rebalancerbot/internal/telemetry"
)

// AssetObservation is one asset's on-chain snapshot taken during a cycle.
type AssetObservation struct {
	AllocationID string
	AssetID      string
	Symbol       string
	Decimals     int
	BalanceRaw   string
	Balance      float64
	PriceUSD     float64
	ValueUSD     float64
	Degraded     bool
}

// Aggregator reads live balances and prices for every allocation of a
// portfolio and persists the observation. A failed read for one asset
// degrades that asset to zero value instead of failing the whole snapshot.
type Aggregator struct {
	portfolios  domain.PortfolioStore
	allocations domain.AllocationStore
	assets      domain.AssetStore
	chain       domain.ChainReader
	oracle      domain.PriceOracle
	metrics     *telemetry.Metrics
	logger      *slog.Logger
}

// NewAggregator wires the aggregator against its stores and chain access.
func NewAggregator(
	portfolios domain.PortfolioStore,
	allocations domain.AllocationStore,
	assets domain.AssetStore,
	chain domain.ChainReader,
	oracle domain.PriceOracle,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
) *Aggregator {
	return &Aggregator{
		portfolios:  portfolios,
		allocations: allocations,
		assets:      assets,
		chain:       chain,
		oracle:      oracle,
		metrics:     metrics,
		logger:      logger.With(slog.String("component", "aggregator")),
	}
}

// RefreshBalances snapshots every allocation of the portfolio and persists
// the per-asset balances, USD values and percentages plus the portfolio
// total. Individual read failures are logged and the asset is carried at
// zero value so one flaky RPC call cannot stall the whole portfolio.
func (a *Aggregator) RefreshBalances(ctx context.Context, portfolioID string) (float64, []AssetObservation, error) {
	portfolio, err := a.portfolios.GetByID(ctx, portfolioID)
	if err != nil {
		return 0, nil, fmt.Errorf("rebalance: load portfolio: %w", err)
	}

	allocations, err := a.allocations.ListByPortfolio(ctx, portfolioID)
	if err != nil {
		return 0, nil, fmt.Errorf("rebalance: list allocations: %w", err)
	}

	observations := make([]AssetObservation, 0, len(allocations))
	var totalUSD float64

	for _, alloc := range allocations {
		obs := a.observe(ctx, portfolio.OwnerAddress, alloc)
		totalUSD += obs.ValueUSD
		observations = append(observations, obs)
	}

	now := time.Now().UTC()
	for i := range observations {
		obs := &observations[i]
		percentage := 0.0
		if totalUSD > 0 {
			percentage = obs.ValueUSD / totalUSD
		}
		if err := a.allocations.UpdateObservation(ctx, obs.AllocationID, obs.BalanceRaw, obs.ValueUSD, percentage); err != nil {
			return 0, nil, fmt.Errorf("rebalance: persist allocation observation: %w", err)
		}
	}

	if err := a.portfolios.UpdateObservation(ctx, portfolioID, totalUSD, now); err != nil {
		return 0, nil, fmt.Errorf("rebalance: persist portfolio observation: %w", err)
	}

	if a.metrics != nil {
		a.metrics.PortfolioValue.WithLabelValues(portfolioID).Set(totalUSD)
	}

	a.logger.Info("balances refreshed",
		slog.String("portfolio_id", portfolioID),
		slog.Float64("total_value_usd", totalUSD),
		slog.Int("assets", len(observations)))

	return totalUSD, observations, nil
}

func (a *Aggregator) observe(ctx context.Context, owner string, alloc domain.Allocation) AssetObservation {
	asset, err := a.assets.GetByID(ctx, alloc.AssetID)
	if err != nil {
		a.degrade(alloc.AssetID, "", err)
		return AssetObservation{AllocationID: alloc.ID, AssetID: alloc.AssetID, BalanceRaw: "0", Degraded: true}
	}

	obs := AssetObservation{
		AllocationID: alloc.ID,
		AssetID:      asset.ID,
		Symbol:       asset.Symbol,
		Decimals:     asset.Decimals,
		BalanceRaw:   "0",
	}

	balance, err := a.chain.GetTokenBalance(ctx, owner, asset.Address, asset.Decimals)
	if err != nil {
		a.degrade(alloc.AssetID, asset.Symbol, &domain.ChainReadError{Symbol: asset.Symbol, Err: err})
		obs.Degraded = true
		return obs
	}
	obs.BalanceRaw = balance.Raw
	obs.Balance = balance.Formatted

	quote, err := a.oracle.GetPrice(ctx, asset.Symbol)
	if err != nil {
		a.degrade(alloc.AssetID, asset.Symbol, &domain.ChainReadError{Symbol: asset.Symbol, Err: err})
		obs.Degraded = true
		return obs
	}
	obs.PriceUSD = quote.Price
	obs.ValueUSD = obs.Balance * quote.Price
	return obs
}

func (a *Aggregator) degrade(assetID, symbol string, err error) {
	if a.metrics != nil {
		a.metrics.ChainReadErrors.Inc()
	}
	a.logger.Warn("asset read failed, carrying at zero value",
		slog.String("asset_id", assetID),
		slog.String("symbol", symbol),
		slog.Any("error", err))
}
