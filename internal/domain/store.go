package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// AssetStore persists the shared asset catalog. Assets are reference data;
// their lifecycle is independent of any portfolio.
type AssetStore interface {
	Create(ctx context.Context, asset Asset) error
	GetByID(ctx context.Context, id string) (Asset, error)
	GetBySymbol(ctx context.Context, symbol string) (Asset, error)
	ListActive(ctx context.Context) ([]Asset, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// PortfolioStore persists monitored portfolios.
type PortfolioStore interface {
	Create(ctx context.Context, p Portfolio) error
	GetByID(ctx context.Context, id string) (Portfolio, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Portfolio, error)
	Update(ctx context.Context, p Portfolio) error
	// UpdateObservation persists the cached total value and bumps the
	// last-observed timestamp after a balance refresh.
	UpdateObservation(ctx context.Context, id string, totalValueUSD float64, observedAt time.Time) error
	// MarkRebalanced records a fully confirmed rebalance.
	MarkRebalanced(ctx context.Context, id string, at time.Time) error
	// SetActive enables or disables monitoring (soft delete / fatal-error
	// disable / operator re-enable).
	SetActive(ctx context.Context, id string, active bool) error
}

// AllocationStore persists the portfolio->asset target bindings. Allocations
// are exclusively owned by their portfolio and cascade on portfolio removal.
type AllocationStore interface {
	Create(ctx context.Context, a Allocation) error
	ListByPortfolio(ctx context.Context, portfolioID string) ([]Allocation, error)
	// ReplaceTargets atomically swaps the target set of a portfolio.
	ReplaceTargets(ctx context.Context, portfolioID string, allocs []Allocation) error
	// UpdateObservation persists the cached balance/value/percentage computed
	// by the balance aggregator.
	UpdateObservation(ctx context.Context, id string, balanceRaw string, valueUSD, percentage float64) error
}

// RebalanceJobStore persists the rebalance audit trail.
type RebalanceJobStore interface {
	Create(ctx context.Context, job RebalanceJob) error
	UpdateStatus(ctx context.Context, id string, status JobStatus, errMsg string, txHashes []string, completedAt *time.Time) error
	GetByID(ctx context.Context, id string) (RebalanceJob, error)
	ListByPortfolio(ctx context.Context, portfolioID string, opts ListOpts) ([]RebalanceJob, error)
}
