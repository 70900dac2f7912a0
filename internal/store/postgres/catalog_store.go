package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// CatalogStore implements domain.CatalogStore using PostgreSQL.
type CatalogStore struct {
	pool *pgxpool.Pool
}

// NewCatalogStore creates a new CatalogStore backed by the given connection pool.
func NewCatalogStore(pool *pgxpool.Pool) *CatalogStore {
	return &CatalogStore{pool: pool}
}

var _ domain.CatalogStore = (*CatalogStore)(nil)

// ListAssets returns every asset, including soft-deleted ones; the catalog
// decides what to drop.
func (s *CatalogStore) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, symbol, kind, deleted FROM assets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list assets: %w", err)
	}
	defer rows.Close()

	var out []domain.Asset
	for rows.Next() {
		var a domain.Asset
		var kind string
		if err := rows.Scan(&a.ID, &a.Symbol, &kind, &a.Deleted); err != nil {
			return nil, fmt.Errorf("postgres: scan asset: %w", err)
		}
		a.Kind = domain.AssetKind(kind)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list assets rows: %w", err)
	}
	return out, nil
}

// ListPairs returns the non-deleted trading pairs with their base and quote
// symbols joined in.
func (s *CatalogStore) ListPairs(ctx context.Context) ([]domain.TradingPair, error) {
	const query = `
		SELECT tp.id, tp.symbol, tp.base_asset_id, tp.quote_asset_id, b.symbol, q.symbol
		FROM trading_pairs tp
		JOIN assets b ON b.id = tp.base_asset_id
		JOIN assets q ON q.id = tp.quote_asset_id
		WHERE tp.deleted = FALSE
		ORDER BY tp.id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pairs: %w", err)
	}
	defer rows.Close()

	var out []domain.TradingPair
	for rows.Next() {
		var p domain.TradingPair
		if err := rows.Scan(&p.ID, &p.Symbol, &p.BaseAssetID, &p.QuoteAssetID, &p.BaseSymbol, &p.QuoteSymbol); err != nil {
			return nil, fmt.Errorf("postgres: scan pair: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pairs rows: %w", err)
	}
	return out, nil
}
