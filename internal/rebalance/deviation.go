package rebalance

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

// Calculator turns the persisted observation of a portfolio into per-asset
// deviation results. It only reads state the aggregator already wrote; the
// single oracle lookup per asset hits the warm price cache.
type Calculator struct {
	portfolios  domain.PortfolioStore
	allocations domain.AllocationStore
	assets      domain.AssetStore
	oracle      domain.PriceOracle
	logger      *slog.Logger
}

// NewCalculator wires the deviation calculator.
func NewCalculator(
	portfolios domain.PortfolioStore,
	allocations domain.AllocationStore,
	assets domain.AssetStore,
	oracle domain.PriceOracle,
	logger *slog.Logger,
) *Calculator {
	return &Calculator{
		portfolios:  portfolios,
		allocations: allocations,
		assets:      assets,
		oracle:      oracle,
		logger:      logger.With(slog.String("component", "deviation")),
	}
}

// CalculateDeviations computes |current - target| for every allocation of
// the portfolio. NeedsRebalance is set when the deviation strictly exceeds
// the portfolio threshold; a deviation exactly at the threshold does not
// trigger. Assets whose price cannot be resolved carry PriceUSD of zero and
// are excluded from planning later.
func (c *Calculator) CalculateDeviations(ctx context.Context, portfolioID string) ([]domain.DeviationResult, error) {
	portfolio, err := c.portfolios.GetByID(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("rebalance: load portfolio: %w", err)
	}

	allocations, err := c.allocations.ListByPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("rebalance: list allocations: %w", err)
	}

	results := make([]domain.DeviationResult, 0, len(allocations))
	for _, alloc := range allocations {
		asset, err := c.assets.GetByID(ctx, alloc.AssetID)
		if err != nil {
			return nil, fmt.Errorf("rebalance: load asset %s: %w", alloc.AssetID, err)
		}

		result := domain.DeviationResult{
			AssetID:           asset.ID,
			Symbol:            asset.Symbol,
			Decimals:          asset.Decimals,
			TargetPercentage:  alloc.TargetPercentage,
			CurrentPercentage: alloc.CurrentPercentage,
			CurrentValueUSD:   alloc.CurrentValueUSD,
			TargetValueUSD:    portfolio.TotalValueUSD * alloc.TargetPercentage,
		}
		result.Deviation = math.Abs(alloc.CurrentPercentage - alloc.TargetPercentage)
		result.NeedsRebalance = result.Deviation > portfolio.Threshold

		if quote, err := c.oracle.GetPrice(ctx, asset.Symbol); err != nil {
			c.logger.Warn("price unavailable, asset excluded from planning",
				slog.String("symbol", asset.Symbol),
				slog.Any("error", err))
		} else {
			result.PriceUSD = quote.Price
		}

		results = append(results, result)
	}

	c.logger.Debug("deviations calculated",
		slog.String("portfolio_id", portfolioID),
		slog.Float64("max_deviation", domain.MaxDeviation(results)))

	return results, nil
}
