package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

// RebalanceJobStore implements domain.RebalanceJobStore using PostgreSQL.
// The planned swap list is stored as a JSONB snapshot.
type RebalanceJobStore struct {
	pool *pgxpool.Pool
}

// NewRebalanceJobStore creates a new RebalanceJobStore backed by the given pool.
func NewRebalanceJobStore(pool *pgxpool.Pool) *RebalanceJobStore {
	return &RebalanceJobStore{pool: pool}
}

const jobSelectCols = `id, portfolio_id, status, policy, max_deviation,
	swaps, tx_hashes, error, started_at, completed_at`

func scanJobRow(row pgx.Row) (domain.RebalanceJob, error) {
	var j domain.RebalanceJob
	var status, policy string
	var swapsJSON []byte

	err := row.Scan(
		&j.ID, &j.PortfolioID, &status, &policy, &j.MaxDeviation,
		&swapsJSON, &j.TxHashes, &j.Error, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return domain.RebalanceJob{}, err
	}
	j.Status = domain.JobStatus(status)
	j.Policy = domain.RebalancePolicy(policy)
	if len(swapsJSON) > 0 {
		if err := json.Unmarshal(swapsJSON, &j.Swaps); err != nil {
			return domain.RebalanceJob{}, fmt.Errorf("decode swaps for job %s: %w", j.ID, err)
		}
	}
	return j, nil
}

// Create inserts a rebalance job with its swap snapshot.
func (s *RebalanceJobStore) Create(ctx context.Context, job domain.RebalanceJob) error {
	swapsJSON, err := json.Marshal(job.Swaps)
	if err != nil {
		return fmt.Errorf("postgres: encode swaps for job %s: %w", job.ID, err)
	}

	const query = `
		INSERT INTO rebalance_jobs (
			id, portfolio_id, status, policy, max_deviation,
			swaps, tx_hashes, error, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = s.pool.Exec(ctx, query,
		job.ID, job.PortfolioID, string(job.Status), string(job.Policy), job.MaxDeviation,
		swapsJSON, job.TxHashes, job.Error, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create rebalance job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateStatus advances the job lifecycle and records outcome details.
func (s *RebalanceJobStore) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errMsg string, txHashes []string, completedAt *time.Time) error {
	if txHashes == nil {
		txHashes = []string{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE rebalance_jobs SET status = $2, error = $3, tx_hashes = $4, completed_at = $5
		WHERE id = $1`,
		id, string(status), errMsg, txHashes, completedAt)
	if err != nil {
		return fmt.Errorf("postgres: update rebalance job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns the job with the given ID, or domain.ErrNotFound.
func (s *RebalanceJobStore) GetByID(ctx context.Context, id string) (domain.RebalanceJob, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+jobSelectCols+" FROM rebalance_jobs WHERE id = $1", id)
	j, err := scanJobRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RebalanceJob{}, domain.ErrNotFound
		}
		return domain.RebalanceJob{}, fmt.Errorf("postgres: get rebalance job %s: %w", id, err)
	}
	return j, nil
}

// ListByPortfolio returns the newest jobs for a portfolio.
func (s *RebalanceJobStore) ListByPortfolio(ctx context.Context, portfolioID string, opts domain.ListOpts) ([]domain.RebalanceJob, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+jobSelectCols+" FROM rebalance_jobs WHERE portfolio_id = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3",
		portfolioID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rebalance jobs for %s: %w", portfolioID, err)
	}
	defer rows.Close()

	var jobs []domain.RebalanceJob
	for rows.Next() {
		j, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
