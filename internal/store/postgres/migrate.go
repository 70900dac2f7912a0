package postgres

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockID serialises migration runs across processes that start
// together (an API replica next to the engine).
const migrationLockID int64 = 0x63727970746f6261

// ErrMigrationChanged is returned when an applied migration file no longer
// matches the checksum recorded when it ran.
var ErrMigrationChanged = errors.New("postgres: applied migration was modified")

// RunMigrations applies the embedded migrations/*.sql files in name order.
// Each file runs in its own transaction together with its bookkeeping row;
// files already recorded are skipped after their checksum is verified.
func (c *Client) RunMigrations(ctx context.Context) error {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("postgres: list migrations: %w", err)
	}
	slices.Sort(names)

	if _, err := c.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			checksum   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("postgres: create schema_migrations: %w", err)
	}

	for _, name := range names {
		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("postgres: read %s: %w", name, err)
		}
		if err := c.applyMigration(ctx, path.Base(name), body); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) applyMigration(ctx context.Context, file string, body []byte) error {
	sum := sha256.Sum256(body)
	checksum := hex.EncodeToString(sum[:])

	return withTx(ctx, c.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return fmt.Errorf("postgres: migration lock: %w", err)
		}

		var applied string
		err := tx.QueryRow(ctx, `SELECT checksum FROM schema_migrations WHERE filename = $1`, file).Scan(&applied)
		switch {
		case err == nil && applied == checksum:
			return nil
		case err == nil:
			return fmt.Errorf("%w: %s", ErrMigrationChanged, file)
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("postgres: check migration %s: %w", file, err)
		}

		if _, err := tx.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("postgres: migration %s: %w", file, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)`, file, checksum,
		); err != nil {
			return fmt.Errorf("postgres: record migration %s: %w", file, err)
		}
		return nil
	})
}
