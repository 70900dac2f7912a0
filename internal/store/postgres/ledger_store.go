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

// LedgerStore implements domain.LedgerStore using PostgreSQL. Vault amounts
// are only ever changed inside the database, never from a value read back
// into the application.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

var _ domain.LedgerStore = (*LedgerStore)(nil)

// Get returns the vault for asset.
func (s *LedgerStore) Get(ctx context.Context, asset string) (domain.Vault, error) {
	var v domain.Vault
	err := s.pool.QueryRow(ctx,
		`SELECT id, asset, amount, updated_at FROM vaults WHERE asset = $1`, asset,
	).Scan(&v.ID, &v.Asset, &v.Amount, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Vault{}, fmt.Errorf("postgres: vault %s: %w", asset, domain.ErrLedgerNotFound)
		}
		return domain.Vault{}, fmt.Errorf("postgres: get vault %s: %w", asset, err)
	}
	return v, nil
}

// List returns every vault ordered by asset.
func (s *LedgerStore) List(ctx context.Context) ([]domain.Vault, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, asset, amount, updated_at FROM vaults ORDER BY asset`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list vaults: %w", err)
	}
	defer rows.Close()

	var out []domain.Vault
	for rows.Next() {
		var v domain.Vault
		if err := rows.Scan(&v.ID, &v.Asset, &v.Amount, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan vault: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list vaults rows: %w", err)
	}
	return out, nil
}

// ApplyDelta adds delta to the vault for asset and records the movement in
// the same transaction. The increment happens in SQL, so concurrent callers
// never lose each other's updates. A zero delta still writes a movement.
func (s *LedgerStore) ApplyDelta(ctx context.Context, asset string, delta decimal.Decimal, transactionID string) (decimal.Decimal, error) {
	if delta.IsZero() {
		// -0 and 0.000 are stored as a plain 0.
		delta = decimal.Zero
	}

	var newAmount decimal.Decimal
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var vaultID int64
		err := tx.QueryRow(ctx, `
			UPDATE vaults
			SET amount = amount + $1::numeric, updated_at = NOW()
			WHERE asset = $2
			RETURNING id, amount`,
			numeric(delta), asset,
		).Scan(&vaultID, &newAmount)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrLedgerNotFound
			}
			return err
		}

		return insertMovement(ctx, tx, vaultID, transactionID, newAmount.Sub(delta), newAmount, delta)
	})
	if err != nil {
		if errors.Is(err, domain.ErrLedgerNotFound) {
			return decimal.Zero, fmt.Errorf("postgres: apply delta %s: %w", asset, err)
		}
		return decimal.Zero, persistErr("apply delta "+asset, err)
	}
	return newAmount, nil
}

// Debit removes amount from the vault only if the vault still holds at least
// amount, inserting anchor and the movement in the same transaction. A short
// vault fails with domain.ErrInsufficientCapital and writes nothing, so two
// concurrent debits can never take a vault below zero.
func (s *LedgerStore) Debit(ctx context.Context, asset string, amount decimal.Decimal, anchor domain.Transaction) (decimal.Decimal, error) {
	var newAmount decimal.Decimal
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var vaultID int64
		err := tx.QueryRow(ctx, `
			UPDATE vaults
			SET amount = amount - $1::numeric, updated_at = NOW()
			WHERE asset = $2 AND amount >= $1::numeric
			RETURNING id, amount`,
			numeric(amount), asset,
		).Scan(&vaultID, &newAmount)
		if errors.Is(err, pgx.ErrNoRows) {
			var held decimal.Decimal
			err = tx.QueryRow(ctx, `SELECT amount FROM vaults WHERE asset = $1`, asset).Scan(&held)
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrLedgerNotFound
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("%s holds %s, need %s: %w",
				asset, held.String(), amount.String(), domain.ErrInsufficientCapital)
		}
		if err != nil {
			return err
		}

		if err := insertTransaction(ctx, tx, anchor); err != nil {
			return err
		}
		return insertMovement(ctx, tx, vaultID, anchor.ID, newAmount.Add(amount), newAmount, amount.Neg())
	})
	if err != nil {
		if errors.Is(err, domain.ErrLedgerNotFound) || errors.Is(err, domain.ErrInsufficientCapital) {
			return decimal.Zero, fmt.Errorf("postgres: debit %s: %w", asset, err)
		}
		return decimal.Zero, persistErr("debit "+asset, err)
	}
	return newAmount, nil
}

// SetAmount moves the vault to target. The current amount is read under a
// row lock, so the difference is taken against the balance the update
// replaces even while other deltas land on the same row. anchor is completed
// with the direction and size of the change and inserted alongside the
// movement. A vault already at target is left alone and the returned
// movement has a zero Difference and no transaction.
func (s *LedgerStore) SetAmount(ctx context.Context, asset string, target decimal.Decimal, anchor domain.Transaction) (domain.VaultMovement, error) {
	m := domain.VaultMovement{Asset: asset, NewAmount: target}
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT id, amount FROM vaults WHERE asset = $1 FOR UPDATE`, asset,
		).Scan(&m.VaultID, &m.OldAmount)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrLedgerNotFound
		}
		if err != nil {
			return err
		}

		m.Difference = target.Sub(m.OldAmount)
		if m.Difference.IsZero() {
			m.Difference = decimal.Zero
			return nil
		}
		anchor.Type = domain.TransactionDeposit
		if m.Difference.IsNegative() {
			anchor.Type = domain.TransactionWithdrawal
		}
		anchor.Amount = m.Difference.Abs()
		if err := insertTransaction(ctx, tx, anchor); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE vaults SET amount = $1::numeric, updated_at = NOW() WHERE id = $2`,
			numeric(target), m.VaultID,
		); err != nil {
			return err
		}
		m.TransactionID = anchor.ID
		return tx.QueryRow(ctx, `
			INSERT INTO vault_movements (vault_id, transaction_id, old_amount, new_amount, difference)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at`,
			m.VaultID, anchor.ID, numeric(m.OldAmount), numeric(target), numeric(m.Difference),
		).Scan(&m.ID, &m.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, domain.ErrLedgerNotFound) {
			return domain.VaultMovement{}, fmt.Errorf("postgres: set vault %s: %w", asset, err)
		}
		return domain.VaultMovement{}, persistErr("set vault "+asset, err)
	}
	return m, nil
}

func insertMovement(ctx context.Context, tx pgx.Tx, vaultID int64, transactionID string, oldAmount, newAmount, delta decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO vault_movements (vault_id, transaction_id, old_amount, new_amount, difference)
		VALUES ($1, $2, $3, $4, $5)`,
		vaultID, transactionID, numeric(oldAmount), numeric(newAmount), numeric(delta),
	)
	return err
}

// CheckCapital reads the vault under a row lock and reports whether it holds
// at least required. The lock is released when this call returns.
func (s *LedgerStore) CheckCapital(ctx context.Context, asset string, required decimal.Decimal) (domain.Vault, error) {
	var v domain.Vault
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT id, asset, amount, updated_at FROM vaults WHERE asset = $1 FOR UPDATE`, asset,
		).Scan(&v.ID, &v.Asset, &v.Amount, &v.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Vault{}, fmt.Errorf("postgres: check capital %s: %w", asset, domain.ErrLedgerNotFound)
		}
		return domain.Vault{}, persistErr("check capital "+asset, err)
	}
	if v.Amount.LessThan(required) {
		return v, fmt.Errorf("postgres: %s holds %s, need %s: %w",
			asset, v.Amount.String(), required.String(), domain.ErrInsufficientCapital)
	}
	return v, nil
}

const movementSelect = `
	SELECT m.id, m.vault_id, v.asset, m.transaction_id, m.old_amount, m.new_amount, m.difference, m.created_at
	FROM vault_movements m
	JOIN vaults v ON v.id = m.vault_id`

// Movements returns the movement trail of one vault, newest first.
func (s *LedgerStore) Movements(ctx context.Context, asset string, opts domain.ListOpts) ([]domain.VaultMovement, error) {
	query, args := pageQuery(movementSelect+` WHERE v.asset = $1`, []any{asset}, "m.created_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list movements %s: %w", asset, err)
	}
	return collectMovements(rows)
}

// MovementsBefore returns every movement older than the cutoff, oldest first.
func (s *LedgerStore) MovementsBefore(ctx context.Context, before time.Time) ([]domain.VaultMovement, error) {
	rows, err := s.pool.Query(ctx, movementSelect+` WHERE m.created_at < $1 ORDER BY m.created_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list movements before: %w", err)
	}
	return collectMovements(rows)
}

func collectMovements(rows pgx.Rows) ([]domain.VaultMovement, error) {
	defer rows.Close()

	var out []domain.VaultMovement
	for rows.Next() {
		var m domain.VaultMovement
		if err := rows.Scan(
			&m.ID, &m.VaultID, &m.Asset, &m.TransactionID,
			&m.OldAmount, &m.NewAmount, &m.Difference, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan movement: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list movements rows: %w", err)
	}
	return out, nil
}
