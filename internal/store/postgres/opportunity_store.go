package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)

const oppSelectCols = `id, cycle_kind, cycle_key, start_asset, end_asset, legs, prices,
	profit_percentage, min_profit_threshold, executed, created_at`

// legRow is the JSONB shape of one leg.
type legRow struct {
	PairID    int64  `json:"pair_id"`
	Symbol    string `json:"symbol"`
	From      string `json:"from"`
	To        string `json:"to"`
	Base      string `json:"base"`
	Quote     string `json:"quote"`
	Direction string `json:"direction"`
}

// Insert stores a new opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	legs := make([]legRow, len(opp.Legs))
	for i, l := range opp.Legs {
		legs[i] = legRow{
			PairID: l.PairID, Symbol: l.Symbol, From: l.From, To: l.To,
			Base: l.Base, Quote: l.Quote, Direction: string(l.Direction),
		}
	}
	legsJSON, err := json.Marshal(legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal legs: %w", err)
	}
	prices := make([]string, len(opp.Prices))
	for i, p := range opp.Prices {
		prices[i] = p.String()
	}

	createdAt := opp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO opportunities (
			id, cycle_kind, cycle_key, start_asset, end_asset, legs, prices,
			profit_percentage, min_profit_threshold, executed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = s.pool.Exec(ctx, query,
		opp.ID, string(opp.CycleKind), opp.CycleKey, opp.StartAsset, opp.EndAsset,
		legsJSON, prices,
		numeric(opp.ProfitPercentage), numeric(opp.MinProfitThreshold),
		opp.Executed, createdAt,
	)
	if err != nil {
		return persistErr("insert opportunity "+opp.ID, err)
	}
	return nil
}

// MarkExecuted sets the executed flag and executed_at timestamp.
func (s *OpportunityStore) MarkExecuted(ctx context.Context, id string) error {
	const query = `
		UPDATE opportunities SET
			executed    = TRUE,
			executed_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity executed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns opportunities newest first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	query := `SELECT ` + oppSelectCols + ` FROM opportunities ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	return collectOpportunities(rows)
}

// ListBefore returns every opportunity created before the cutoff, oldest
// first, for archiving.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	query := `SELECT ` + oppSelectCols + ` FROM opportunities WHERE created_at < $1 ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before: %w", err)
	}
	return collectOpportunities(rows)
}

func collectOpportunities(rows pgx.Rows) ([]domain.Opportunity, error) {
	defer rows.Close()

	var out []domain.Opportunity
	for rows.Next() {
		var (
			o         domain.Opportunity
			kind      string
			legsJSON  []byte
			prices    []string
			profit    decimal.Decimal
			threshold decimal.Decimal
		)
		if err := rows.Scan(
			&o.ID, &kind, &o.CycleKey, &o.StartAsset, &o.EndAsset, &legsJSON, &prices,
			&profit, &threshold, &o.Executed, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		o.CycleKind = domain.CycleKind(kind)
		o.ProfitPercentage = profit
		o.MinProfitThreshold = threshold

		var legs []legRow
		if err := json.Unmarshal(legsJSON, &legs); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal legs: %w", err)
		}
		for _, l := range legs {
			o.Legs = append(o.Legs, domain.Leg{
				PairID: l.PairID, Symbol: l.Symbol, From: l.From, To: l.To,
				Base: l.Base, Quote: l.Quote, Direction: domain.LegDirection(l.Direction),
			})
		}
		for _, p := range prices {
			d, err := decimal.NewFromString(p)
			if err != nil {
				return nil, fmt.Errorf("postgres: parse price %q: %w", p, err)
			}
			o.Prices = append(o.Prices, d)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list opportunities rows: %w", err)
	}
	return out, nil
}
