package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// ErrorLogStore implements domain.ErrorLogStore using PostgreSQL.
type ErrorLogStore struct {
	pool *pgxpool.Pool
}

// NewErrorLogStore creates a new ErrorLogStore backed by the given connection pool.
func NewErrorLogStore(pool *pgxpool.Pool) *ErrorLogStore {
	return &ErrorLogStore{pool: pool}
}

var _ domain.ErrorLogStore = (*ErrorLogStore)(nil)

// Create appends one error record.
func (s *ErrorLogStore) Create(ctx context.Context, e domain.ErrorLog) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO error_logs (message, details, context) VALUES ($1, $2, $3)`,
		e.Message, e.Details, e.Context,
	)
	if err != nil {
		return persistErr("insert error log", err)
	}
	return nil
}

// List returns error records newest first.
func (s *ErrorLogStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ErrorLog, error) {
	query, args := pageQuery(`SELECT id, message, details, context, created_at FROM error_logs WHERE TRUE`, nil, "created_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list error logs: %w", err)
	}
	return collectErrorLogs(rows)
}

// ListBefore returns error records older than the cutoff, oldest first.
func (s *ErrorLogStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ErrorLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, message, details, context, created_at FROM error_logs WHERE created_at < $1 ORDER BY created_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list error logs before: %w", err)
	}
	return collectErrorLogs(rows)
}

func collectErrorLogs(rows pgx.Rows) ([]domain.ErrorLog, error) {
	defer rows.Close()

	var out []domain.ErrorLog
	for rows.Next() {
		var e domain.ErrorLog
		if err := rows.Scan(&e.ID, &e.Message, &e.Details, &e.Context, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan error log: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list error logs rows: %w", err)
	}
	return out, nil
}
