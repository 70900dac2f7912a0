package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given connection pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

var _ domain.TransactionStore = (*TransactionStore)(nil)

const txSelectCols = `id, amount, price_per_unit, status, type, trading_pair_id, asset,
	result, profit, execution_id, created_at`

// Create inserts a standalone transaction, used for deposits and withdrawals.
func (s *TransactionStore) Create(ctx context.Context, t domain.Transaction) error {
	if err := insertTransaction(ctx, s.pool, t); err != nil {
		return persistErr("insert transaction "+t.ID, err)
	}
	return nil
}

// Settle writes the transaction, order and fee of one filled leg in a single
// database transaction.
func (s *TransactionStore) Settle(ctx context.Context, st domain.Settlement) error {
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := insertTransaction(ctx, tx, st.Transaction); err != nil {
			return fmt.Errorf("transaction: %w", err)
		}

		o := st.Order
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (
				id, transaction_id, exchange_order_id, symbol, side,
				requested_qty, executed_qty, fills_price, fills_qty, fills_commission,
				commission_asset, last_trade_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			o.ID, st.Transaction.ID, o.ExchangeOrderID, o.Symbol, string(o.Side),
			numeric(o.RequestedQty), numeric(o.ExecutedQty), numeric(o.FillsPrice),
			numeric(o.FillsQty), numeric(o.FillsCommission),
			o.CommissionAsset, o.LastTradeID,
		)
		if err != nil {
			return fmt.Errorf("order: %w", err)
		}

		f := st.Fee
		_, err = tx.Exec(ctx,
			`INSERT INTO fees (id, order_id, asset, amount) VALUES ($1, $2, $3, $4)`,
			f.ID, o.ID, f.Asset, numeric(f.Amount),
		)
		if err != nil {
			return fmt.Errorf("fee: %w", err)
		}
		return nil
	})
	if err != nil {
		return persistErr("settle "+st.Transaction.ID, err)
	}
	return nil
}

// execer is satisfied by both the pool and an open transaction.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertTransaction(ctx context.Context, db execer, t domain.Transaction) error {
	_, err := db.Exec(ctx, `
		INSERT INTO transactions (
			id, amount, price_per_unit, status, type, trading_pair_id, asset,
			result, profit, execution_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, numeric(t.Amount), numeric(t.PricePerUnit), string(t.Status), string(t.Type),
		t.TradingPairID, t.Asset, t.Result, nullNumeric(t.Profit), t.ExecutionID,
	)
	return err
}

// GetByID returns one transaction.
func (s *TransactionStore) GetByID(ctx context.Context, id string) (domain.Transaction, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+txSelectCols+` FROM transactions WHERE id = $1`, id)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction %s: %w", id, err)
	}
	out, err := collectTransactions(rows)
	if err != nil {
		return domain.Transaction{}, err
	}
	if len(out) == 0 {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return out[0], nil
}

// ListByExecution returns the transactions of one orchestration run in
// creation order.
func (s *TransactionStore) ListByExecution(ctx context.Context, executionID string) ([]domain.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txSelectCols+` FROM transactions WHERE execution_id = $1 ORDER BY created_at, id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions for %s: %w", executionID, err)
	}
	return collectTransactions(rows)
}

// DailyProfit sums realised profit per UTC day, newest day first.
func (s *TransactionStore) DailyProfit(ctx context.Context, opts domain.ListOpts) ([]domain.DailyProfit, error) {
	query := `
		SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day, SUM(profit)
		FROM transactions
		WHERE profit IS NOT NULL`
	args := []any{}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " GROUP BY day ORDER BY day DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: daily profit: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyProfit
	for rows.Next() {
		var d domain.DailyProfit
		if err := rows.Scan(&d.Day, &d.TotalProfit); err != nil {
			return nil, fmt.Errorf("postgres: scan daily profit: %w", err)
		}
		d.Day = d.Day.UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: daily profit rows: %w", err)
	}
	return out, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			t           domain.Transaction
			status, typ string
			profit      decimal.NullDecimal
		)
		if err := rows.Scan(
			&t.ID, &t.Amount, &t.PricePerUnit, &status, &typ, &t.TradingPairID, &t.Asset,
			&t.Result, &profit, &t.ExecutionID, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		t.Status = domain.TransactionStatus(status)
		t.Type = domain.TransactionType(typ)
		if profit.Valid {
			p := profit.Decimal
			t.Profit = &p
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list transactions rows: %w", err)
	}
	return out, nil
}
