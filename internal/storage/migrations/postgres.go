package migrations

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"token-ledger/internal/storage/postgres"
)

// postgresLockKey serializes migration runs of concurrent processes.
const postgresLockKey = 0x6c6564676572 // "ledger"

// RunPostgresMigrations applies the embedded files not yet recorded in
// schema_migrations, each in its own transaction, in lexical order.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return fmt.Errorf("read embedded postgres migrations: %w", err)
	}

	for _, file := range files {
		data, err := fs.ReadFile(PostgresFS, "postgres/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if err := applyPostgres(ctx, pool, file, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}

	return nil
}

func applyPostgres(ctx context.Context, pool *postgres.Pool, version, body string) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(postgresLockKey)); err != nil {
			return err
		}

		var applied int64
		err := tx.QueryRow(ctx, `SELECT applied_at FROM schema_migrations WHERE version = $1`, version).Scan(&applied)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, pgx.ErrNoRows):
			return err
		}

		if strings.TrimSpace(body) != "" {
			// No arguments: pgx uses the simple protocol, which accepts
			// several statements in one call.
			if _, err := tx.Exec(ctx, body); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`,
			version, time.Now().UnixMilli(),
		)
		return err
	})
}
