package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)

const runSelectCols = `id, COALESCE(opportunity_id, ''), cycle_key, start_asset, end_asset, state, reason,
	capital, final_amount, started_at, updated_at`

// Create inserts a run in its initial state.
func (s *ExecutionStore) Create(ctx context.Context, run domain.ExecutionRun) error {
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	var oppID *string
	if run.OpportunityID != "" {
		oppID = &run.OpportunityID
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO execution_runs (id, opportunity_id, cycle_key, start_asset, end_asset, state, reason, capital, final_amount, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		run.ID, oppID, run.CycleKey, run.StartAsset, run.EndAsset, string(run.State), run.Reason,
		numeric(run.Capital), numeric(run.FinalAmount), startedAt,
	)
	if err != nil {
		return persistErr("insert execution run "+run.ID, err)
	}
	return nil
}

// Transition moves a run from one state to another and appends the
// transition row. A run already persisted as SETTLED never moves again.
func (s *ExecutionStore) Transition(ctx context.Context, runID string, from, to domain.ExecutionState, detail string) error {
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx, `SELECT state FROM execution_runs WHERE id = $1 FOR UPDATE`, runID).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		if domain.ExecutionState(current) == domain.StateSettled {
			return domain.ErrAlreadySettled
		}
		if domain.ExecutionState(current) != from {
			return fmt.Errorf("run is %s, not %s", current, from)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE execution_runs SET state = $2, updated_at = NOW() WHERE id = $1`,
			runID, string(to),
		); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO execution_transitions (run_id, from_state, to_state, detail)
			VALUES ($1, $2, $3, $4)`,
			runID, string(from), string(to), detail,
		)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadySettled) || errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("postgres: transition %s %s->%s: %w", runID, from, to, err)
		}
		return persistErr(fmt.Sprintf("transition %s %s->%s", runID, from, to), err)
	}
	return nil
}

// SetResult records the capital used, the amount that came back and the
// terminal reason.
func (s *ExecutionStore) SetResult(ctx context.Context, runID string, capital, finalAmount decimal.Decimal, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE execution_runs SET capital = $2, final_amount = $3, reason = $4, updated_at = NOW()
		WHERE id = $1`,
		runID, numeric(capital), numeric(finalAmount), reason,
	)
	if err != nil {
		return persistErr("set result "+runID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns a run with its transitions in order.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionRun, error) {
	var (
		run   domain.ExecutionRun
		state string
	)
	err := s.pool.QueryRow(ctx, `SELECT `+runSelectCols+` FROM execution_runs WHERE id = $1`, id).Scan(
		&run.ID, &run.OpportunityID, &run.CycleKey, &run.StartAsset, &run.EndAsset, &state, &run.Reason,
		&run.Capital, &run.FinalAmount, &run.StartedAt, &run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionRun{}, domain.ErrNotFound
		}
		return domain.ExecutionRun{}, fmt.Errorf("postgres: get execution run %s: %w", id, err)
	}
	run.State = domain.ExecutionState(state)

	rows, err := s.pool.Query(ctx, `
		SELECT run_id, from_state, to_state, detail, at
		FROM execution_transitions WHERE run_id = $1 ORDER BY id`, id)
	if err != nil {
		return domain.ExecutionRun{}, fmt.Errorf("postgres: get execution transitions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t domain.ExecutionTransition
		var from, to string
		if err := rows.Scan(&t.RunID, &from, &to, &t.Detail, &t.At); err != nil {
			return domain.ExecutionRun{}, fmt.Errorf("postgres: scan execution transition: %w", err)
		}
		t.From = domain.ExecutionState(from)
		t.To = domain.ExecutionState(to)
		run.Transitions = append(run.Transitions, t)
	}
	if err := rows.Err(); err != nil {
		return domain.ExecutionRun{}, err
	}
	return run, nil
}

// ListRecent returns the most recent runs without their transitions.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runSelectCols+` FROM execution_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list execution runs: %w", err)
	}
	defer rows.Close()

	var list []domain.ExecutionRun
	for rows.Next() {
		var run domain.ExecutionRun
		var state string
		if err := rows.Scan(
			&run.ID, &run.OpportunityID, &run.CycleKey, &run.StartAsset, &run.EndAsset, &state, &run.Reason,
			&run.Capital, &run.FinalAmount, &run.StartedAt, &run.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan execution run: %w", err)
		}
		run.State = domain.ExecutionState(state)
		list = append(list, run)
	}
	return list, rows.Err()
}
