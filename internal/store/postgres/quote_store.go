package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// QuoteStore implements domain.QuoteStore using PostgreSQL.
type QuoteStore struct {
	pool *pgxpool.Pool
}

// NewQuoteStore creates a new QuoteStore backed by the given connection pool.
func NewQuoteStore(pool *pgxpool.Pool) *QuoteStore {
	return &QuoteStore{pool: pool}
}

var _ domain.QuoteStore = (*QuoteStore)(nil)

// AppendBatch inserts quotes in one round trip.
func (s *QuoteStore) AppendBatch(ctx context.Context, quotes []domain.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	const query = `
		INSERT INTO quotes (trading_pair_id, bid_price, ask_price, volume, observed_at)
		VALUES ($1, $2, $3, $4, $5)`

	batch := &pgx.Batch{}
	for _, q := range quotes {
		batch.Queue(query, q.PairID, numeric(q.BidPrice), numeric(q.AskPrice), numeric(q.Volume), q.ObservedAt)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return persistErr("append quotes", err)
	}
	return nil
}

// LatestPerPair returns the newest persisted quote for every pair.
func (s *QuoteStore) LatestPerPair(ctx context.Context) ([]domain.Quote, error) {
	const query = `
		SELECT DISTINCT ON (q.trading_pair_id)
			q.trading_pair_id, tp.symbol, q.bid_price, q.ask_price, q.volume, q.observed_at
		FROM quotes q
		JOIN trading_pairs tp ON tp.id = q.trading_pair_id
		ORDER BY q.trading_pair_id, q.observed_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest quotes: %w", err)
	}
	defer rows.Close()

	var out []domain.Quote
	for rows.Next() {
		var q domain.Quote
		if err := rows.Scan(&q.PairID, &q.Symbol, &q.BidPrice, &q.AskPrice, &q.Volume, &q.ObservedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan quote: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: latest quotes rows: %w", err)
	}
	return out, nil
}
