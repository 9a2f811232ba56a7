// Package service holds the management layer above the stores: portfolio and
// asset CRUD with invariant enforcement.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

// TargetAllocation is one requested target when creating or retargeting a
// portfolio.
type TargetAllocation struct {
	AssetID          string
	TargetPercentage float64
}

// PortfolioService handles portfolio and allocation management. Every write
// that touches targets re-validates the 100% allocation-sum invariant.
type PortfolioService struct {
	portfolios  domain.PortfolioStore
	allocations domain.AllocationStore
	assets      domain.AssetStore
	jobs        domain.RebalanceJobStore
	logger      *slog.Logger
}

// NewPortfolioService creates a PortfolioService with all required stores.
func NewPortfolioService(
	portfolios domain.PortfolioStore,
	allocations domain.AllocationStore,
	assets domain.AssetStore,
	jobs domain.RebalanceJobStore,
	logger *slog.Logger,
) *PortfolioService {
	return &PortfolioService{
		portfolios:  portfolios,
		allocations: allocations,
		assets:      assets,
		jobs:        jobs,
		logger:      logger.With(slog.String("component", "portfolio_service")),
	}
}

// CreatePortfolio registers a portfolio and its target allocations. The
// targets must reference known active assets and sum to 100%.
func (s *PortfolioService) CreatePortfolio(ctx context.Context, p domain.Portfolio, targets []TargetAllocation) (domain.Portfolio, error) {
	if !p.Policy.Valid() {
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: unknown policy %q: %w", p.Policy, domain.ErrInvalidInput)
	}
	if err := s.checkTargets(ctx, targets); err != nil {
		return domain.Portfolio{}, err
	}

	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.IsActive = true
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.portfolios.Create(ctx, p); err != nil {
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: create portfolio: %w", err)
	}
	for _, target := range targets {
		alloc := domain.Allocation{
			ID:               uuid.New().String(),
			PortfolioID:      p.ID,
			AssetID:          target.AssetID,
			TargetPercentage: target.TargetPercentage,
			CurrentBalance:   "0",
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.allocations.Create(ctx, alloc); err != nil {
			return domain.Portfolio{}, fmt.Errorf("portfolio_service: create allocation: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "portfolio created",
		slog.String("portfolio_id", p.ID),
		slog.String("policy", string(p.Policy)),
		slog.Int("assets", len(targets)),
	)
	return p, nil
}

// GetPortfolio returns one portfolio with its allocations.
func (s *PortfolioService) GetPortfolio(ctx context.Context, id string) (domain.Portfolio, []domain.Allocation, error) {
	p, err := s.portfolios.GetByID(ctx, id)
	if err != nil {
		return domain.Portfolio{}, nil, fmt.Errorf("portfolio_service: get portfolio %q: %w", id, err)
	}
	allocs, err := s.allocations.ListByPortfolio(ctx, id)
	if err != nil {
		return domain.Portfolio{}, nil, fmt.Errorf("portfolio_service: list allocations: %w", err)
	}
	return p, allocs, nil
}

// ListActive returns the active portfolios, paged.
func (s *PortfolioService) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Portfolio, error) {
	portfolios, err := s.portfolios.ListActive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("portfolio_service: list active: %w", err)
	}
	return portfolios, nil
}

// UpdateTargets atomically replaces the portfolio's target set.
func (s *PortfolioService) UpdateTargets(ctx context.Context, portfolioID string, targets []TargetAllocation) error {
	if _, err := s.portfolios.GetByID(ctx, portfolioID); err != nil {
		return fmt.Errorf("portfolio_service: get portfolio %q: %w", portfolioID, err)
	}
	if err := s.checkTargets(ctx, targets); err != nil {
		return err
	}

	now := time.Now().UTC()
	allocs := make([]domain.Allocation, len(targets))
	for i, target := range targets {
		allocs[i] = domain.Allocation{
			ID:               uuid.New().String(),
			PortfolioID:      portfolioID,
			AssetID:          target.AssetID,
			TargetPercentage: target.TargetPercentage,
			CurrentBalance:   "0",
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}
	if err := s.allocations.ReplaceTargets(ctx, portfolioID, allocs); err != nil {
		return fmt.Errorf("portfolio_service: replace targets: %w", err)
	}

	s.logger.InfoContext(ctx, "targets replaced",
		slog.String("portfolio_id", portfolioID),
		slog.Int("assets", len(targets)),
	)
	return nil
}

// SetActive enables or disables monitoring for the portfolio. Operators use
// this to re-enable a portfolio after a fatal-resource disable.
func (s *PortfolioService) SetActive(ctx context.Context, portfolioID string, active bool) error {
	if err := s.portfolios.SetActive(ctx, portfolioID, active); err != nil {
		return fmt.Errorf("portfolio_service: set active: %w", err)
	}
	s.logger.InfoContext(ctx, "portfolio active flag changed",
		slog.String("portfolio_id", portfolioID),
		slog.Bool("active", active),
	)
	return nil
}

// RegisterAsset adds a tradable asset to the universe.
func (s *PortfolioService) RegisterAsset(ctx context.Context, a domain.Asset) (domain.Asset, error) {
	if a.Symbol == "" {
		return domain.Asset{}, fmt.Errorf("portfolio_service: asset symbol is required: %w", domain.ErrInvalidInput)
	}
	if a.Decimals < 0 || a.Decimals > 30 {
		return domain.Asset{}, fmt.Errorf("portfolio_service: asset decimals %d out of range: %w", a.Decimals, domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.IsActive = true
	a.CreatedAt = now
	a.UpdatedAt = now

	if err := s.assets.Create(ctx, a); err != nil {
		return domain.Asset{}, fmt.Errorf("portfolio_service: create asset: %w", err)
	}
	return a, nil
}

// ListJobs returns the rebalance audit trail for the portfolio, paged.
func (s *PortfolioService) ListJobs(ctx context.Context, portfolioID string, opts domain.ListOpts) ([]domain.RebalanceJob, error) {
	jobs, err := s.jobs.ListByPortfolio(ctx, portfolioID, opts)
	if err != nil {
		return nil, fmt.Errorf("portfolio_service: list jobs: %w", err)
	}
	return jobs, nil
}

// checkTargets verifies every referenced asset exists and is active, and
// that the targets honor the allocation-sum invariant.
func (s *PortfolioService) checkTargets(ctx context.Context, targets []TargetAllocation) error {
	if len(targets) == 0 {
		return fmt.Errorf("portfolio_service: at least one target allocation is required")
	}

	seen := make(map[string]bool, len(targets))
	percentages := make([]float64, len(targets))
	for i, target := range targets {
		if seen[target.AssetID] {
			return fmt.Errorf("portfolio_service: duplicate asset %q in targets", target.AssetID)
		}
		seen[target.AssetID] = true
		percentages[i] = target.TargetPercentage

		asset, err := s.assets.GetByID(ctx, target.AssetID)
		if err != nil {
			return fmt.Errorf("portfolio_service: target asset %q: %w", target.AssetID, err)
		}
		if !asset.IsActive {
			return fmt.Errorf("portfolio_service: target asset %q is inactive", target.AssetID)
		}
	}

	if err := domain.ValidateTargetSum(percentages); err != nil {
		return fmt.Errorf("portfolio_service: %w", err)
	}
	return nil
}
