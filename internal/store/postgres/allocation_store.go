package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

// AllocationStore implements domain.AllocationStore using PostgreSQL.
type AllocationStore struct {
	pool *pgxpool.Pool
}

// NewAllocationStore creates a new AllocationStore backed by the given pool.
func NewAllocationStore(pool *pgxpool.Pool) *AllocationStore {
	return &AllocationStore{pool: pool}
}

const allocationSelectCols = `id, portfolio_id, asset_id, target_percentage,
	current_percentage, current_value_usd, current_balance, created_at, updated_at`

func scanAllocationRow(row pgx.Row) (domain.Allocation, error) {
	var a domain.Allocation
	err := row.Scan(
		&a.ID, &a.PortfolioID, &a.AssetID, &a.TargetPercentage,
		&a.CurrentPercentage, &a.CurrentValueUSD, &a.CurrentBalance,
		&a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

// Create inserts a new allocation. The (portfolio, asset) pair is unique.
func (s *AllocationStore) Create(ctx context.Context, a domain.Allocation) error {
	const query = `
		INSERT INTO allocations (
			id, portfolio_id, asset_id, target_percentage,
			current_percentage, current_value_usd, current_balance, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.PortfolioID, a.AssetID, a.TargetPercentage,
		a.CurrentPercentage, a.CurrentValueUSD, a.CurrentBalance,
	)
	if err != nil {
		return fmt.Errorf("postgres: create allocation %s: %w", a.ID, err)
	}
	return nil
}

// ListByPortfolio returns all allocations of a portfolio.
func (s *AllocationStore) ListByPortfolio(ctx context.Context, portfolioID string) ([]domain.Allocation, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+allocationSelectCols+" FROM allocations WHERE portfolio_id = $1 ORDER BY created_at",
		portfolioID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list allocations for %s: %w", portfolioID, err)
	}
	defer rows.Close()

	var allocs []domain.Allocation
	for rows.Next() {
		a, err := scanAllocationRow(rows)
		if err != nil {
			return nil, err
		}
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

// ReplaceTargets atomically replaces the allocation set of a portfolio. The
// caller is responsible for validating the target-sum invariant first.
func (s *AllocationStore) ReplaceTargets(ctx context.Context, portfolioID string, allocs []domain.Allocation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin replace targets: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		"DELETE FROM allocations WHERE portfolio_id = $1", portfolioID); err != nil {
		return fmt.Errorf("postgres: clear allocations for %s: %w", portfolioID, err)
	}

	rows := make([][]any, 0, len(allocs))
	for _, a := range allocs {
		rows = append(rows, []any{
			a.ID, portfolioID, a.AssetID, a.TargetPercentage,
			a.CurrentPercentage, a.CurrentValueUSD, a.CurrentBalance,
		})
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"allocations"},
		[]string{"id", "portfolio_id", "asset_id", "target_percentage",
			"current_percentage", "current_value_usd", "current_balance"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert allocations for %s: %w", portfolioID, err)
	}

	return tx.Commit(ctx)
}

// UpdateObservation persists the cached balance/value/percentage from the
// balance aggregator.
func (s *AllocationStore) UpdateObservation(ctx context.Context, id string, balanceRaw string, valueUSD, percentage float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE allocations SET
			current_balance    = $2,
			current_value_usd  = $3,
			current_percentage = $4,
			updated_at         = NOW()
		WHERE id = $1`,
		id, balanceRaw, valueUSD, percentage)
	if err != nil {
		return fmt.Errorf("postgres: update allocation %s observation: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
