package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

// PortfolioStore implements domain.PortfolioStore using PostgreSQL.
type PortfolioStore struct {
	pool *pgxpool.Pool
}

// NewPortfolioStore creates a new PortfolioStore backed by the given pool.
func NewPortfolioStore(pool *pgxpool.Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

const portfolioSelectCols = `id, owner_address, name, is_active, policy, threshold,
	interval_seconds, total_value_usd, signing_key_ref,
	last_observed_at, last_rebalance_at, created_at, updated_at`

func scanPortfolioRow(row pgx.Row) (domain.Portfolio, error) {
	var p domain.Portfolio
	var policy string
	var intervalSecs int64

	err := row.Scan(
		&p.ID, &p.OwnerAddress, &p.Name, &p.IsActive, &policy, &p.Threshold,
		&intervalSecs, &p.TotalValueUSD, &p.SigningKeyRef,
		&p.LastObservedAt, &p.LastRebalanceAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Portfolio{}, err
	}
	p.Policy = domain.RebalancePolicy(policy)
	p.Interval = time.Duration(intervalSecs) * time.Second
	return p, nil
}

// Create inserts a new portfolio.
func (s *PortfolioStore) Create(ctx context.Context, p domain.Portfolio) error {
	const query = `
		INSERT INTO portfolios (
			id, owner_address, name, is_active, policy, threshold,
			interval_seconds, total_value_usd, signing_key_ref, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.OwnerAddress, p.Name, p.IsActive, string(p.Policy), p.Threshold,
		int64(p.Interval/time.Second), p.TotalValueUSD, p.SigningKeyRef,
	)
	if err != nil {
		return fmt.Errorf("postgres: create portfolio %s: %w", p.ID, err)
	}
	return nil
}

// GetByID returns the portfolio with the given ID, or domain.ErrNotFound.
func (s *PortfolioStore) GetByID(ctx context.Context, id string) (domain.Portfolio, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+portfolioSelectCols+" FROM portfolios WHERE id = $1", id)
	p, err := scanPortfolioRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Portfolio{}, domain.ErrNotFound
		}
		return domain.Portfolio{}, fmt.Errorf("postgres: get portfolio %s: %w", id, err)
	}
	return p, nil
}

// ListActive returns active portfolios ordered by creation time.
func (s *PortfolioStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Portfolio, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+portfolioSelectCols+" FROM portfolios WHERE is_active ORDER BY created_at LIMIT $1 OFFSET $2",
		limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active portfolios: %w", err)
	}
	defer rows.Close()

	var portfolios []domain.Portfolio
	for rows.Next() {
		p, err := scanPortfolioRow(rows)
		if err != nil {
			return nil, err
		}
		portfolios = append(portfolios, p)
	}
	return portfolios, rows.Err()
}

// Update replaces the portfolio's mutable settings.
func (s *PortfolioStore) Update(ctx context.Context, p domain.Portfolio) error {
	const query = `
		UPDATE portfolios SET
			name             = $2,
			policy           = $3,
			threshold        = $4,
			interval_seconds = $5,
			signing_key_ref  = $6,
			updated_at       = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.Name, string(p.Policy), p.Threshold,
		int64(p.Interval/time.Second), p.SigningKeyRef,
	)
	if err != nil {
		return fmt.Errorf("postgres: update portfolio %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateObservation persists the cached total value and last-observed
// timestamp after a balance refresh.
func (s *PortfolioStore) UpdateObservation(ctx context.Context, id string, totalValueUSD float64, observedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE portfolios SET total_value_usd = $2, last_observed_at = $3, updated_at = NOW()
		WHERE id = $1`,
		id, totalValueUSD, observedAt)
	if err != nil {
		return fmt.Errorf("postgres: update portfolio %s observation: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkRebalanced records a fully confirmed rebalance.
func (s *PortfolioStore) MarkRebalanced(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE portfolios SET last_rebalance_at = $2, updated_at = NOW() WHERE id = $1`,
		id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark portfolio %s rebalanced: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetActive enables or disables monitoring for the portfolio.
func (s *PortfolioStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE portfolios SET is_active = $2, updated_at = NOW() WHERE id = $1", id, active)
	if err != nil {
		return fmt.Errorf("postgres: set portfolio %s active: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
