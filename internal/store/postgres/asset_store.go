package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

// AssetStore implements domain.AssetStore using PostgreSQL.
type AssetStore struct {
	pool *pgxpool.Pool
}

// NewAssetStore creates a new AssetStore backed by the given connection pool.
func NewAssetStore(pool *pgxpool.Pool) *AssetStore {
	return &AssetStore{pool: pool}
}

const assetSelectCols = `id, symbol, address, decimals, price_feed_id, is_active, created_at, updated_at`

func scanAssetRow(row pgx.Row) (domain.Asset, error) {
	var a domain.Asset
	err := row.Scan(
		&a.ID, &a.Symbol, &a.Address, &a.Decimals,
		&a.PriceFeedID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

// Create inserts a new asset.
func (s *AssetStore) Create(ctx context.Context, a domain.Asset) error {
	const query = `
		INSERT INTO assets (id, symbol, address, decimals, price_feed_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Symbol, a.Address, a.Decimals, a.PriceFeedID, a.IsActive,
	)
	if err != nil {
		return fmt.Errorf("postgres: create asset %s: %w", a.Symbol, err)
	}
	return nil
}

// GetByID returns the asset with the given ID, or domain.ErrNotFound.
func (s *AssetStore) GetByID(ctx context.Context, id string) (domain.Asset, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+assetSelectCols+" FROM assets WHERE id = $1", id)
	a, err := scanAssetRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Asset{}, domain.ErrNotFound
		}
		return domain.Asset{}, fmt.Errorf("postgres: get asset %s: %w", id, err)
	}
	return a, nil
}

// GetBySymbol returns the asset with the given symbol, or domain.ErrNotFound.
func (s *AssetStore) GetBySymbol(ctx context.Context, symbol string) (domain.Asset, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+assetSelectCols+" FROM assets WHERE symbol = $1", symbol)
	a, err := scanAssetRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Asset{}, domain.ErrNotFound
		}
		return domain.Asset{}, fmt.Errorf("postgres: get asset by symbol %s: %w", symbol, err)
	}
	return a, nil
}

// ListActive returns every active asset ordered by symbol.
func (s *AssetStore) ListActive(ctx context.Context) ([]domain.Asset, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+assetSelectCols+" FROM assets WHERE is_active ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("postgres: list active assets: %w", err)
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		a, err := scanAssetRow(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// SetActive toggles the asset's active flag.
func (s *AssetStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE assets SET is_active = $2, updated_at = NOW() WHERE id = $1", id, active)
	if err != nil {
		return fmt.Errorf("postgres: set asset %s active: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
