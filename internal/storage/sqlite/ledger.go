// Package sqlite provides a SQLite-backed ledger for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"token-ledger/internal/domain"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
	"token-ledger/internal/storage/migrations"
)

// Ledger implements storage.Ledger on a single SQLite file.
// One open connection serializes every transaction in this process.
type Ledger struct {
	sqlDB *sql.DB
}

// Compile-time interface check.
var (
	_ storage.Ledger = (*Ledger)(nil)
	_ storage.Tx     = (*ledgerTx)(nil)
)

// Open opens a SQLite ledger at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrations.RunSQLiteMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Ledger{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (l *Ledger) Close() error {
	if l == nil || l.sqlDB == nil {
		return nil
	}
	return l.sqlDB.Close()
}

// View runs fn in a transaction that rejects writes.
func (l *Ledger) View(ctx context.Context, fn func(tx storage.ReadTx) error) error {
	return l.run(ctx, false, func(tx *ledgerTx) error { return fn(tx) })
}

// Update runs fn in an immediate write transaction.
func (l *Ledger) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	return l.run(ctx, true, func(tx *ledgerTx) error { return fn(tx) })
}

func (l *Ledger) run(ctx context.Context, writable bool, fn func(tx *ledgerTx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	operation := "view"
	if writable {
		operation = "update"
	}
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("sqlite", operation, time.Since(start).Seconds(), err)
	}()

	sqlTx, err := l.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin transaction: %w", err))
	}

	if err := fn(&ledgerTx{tx: sqlTx, writable: writable}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if !writable {
		return sqlTx.Rollback()
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// mapError converts lock contention into storage.ErrConflict.
func mapError(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", storage.ErrConflict, err)
		}
	}
	return err
}

type ledgerTx struct {
	tx       *sql.Tx
	writable bool
}

func (t *ledgerTx) Token(ctx context.Context) (*domain.TokenInfo, error) {
	var (
		info        domain.TokenInfo
		decimals    int64
		totalSupply string
		minter      sql.NullString
		mintCap     sql.NullString
		sequence    int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT name, symbol, decimals, total_supply, minter, mint_cap, mint_sequence
		 FROM token_info WHERE id = 1`,
	).Scan(&info.Name, &info.Symbol, &decimals, &totalSupply, &minter, &mintCap, &sequence)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token info: %w", err)
	}

	info.Decimals = uint8(decimals)
	info.MintSequence = uint64(sequence)
	if info.TotalSupply, err = domain.ParseAmount(totalSupply); err != nil {
		return nil, fmt.Errorf("decode total supply: %w", err)
	}
	if minter.Valid {
		info.Minter = &domain.Minter{Address: minter.String}
		if mintCap.Valid {
			capValue, err := domain.ParseAmount(mintCap.String)
			if err != nil {
				return nil, fmt.Errorf("decode mint cap: %w", err)
			}
			info.Minter.Cap = &capValue
		}
	}
	return &info, nil
}

func (t *ledgerTx) Balance(ctx context.Context, address string) (domain.Amount, error) {
	var raw string
	err := t.tx.QueryRowContext(ctx, `SELECT amount FROM balances WHERE address = ?`, address).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Amount{}, nil
		}
		return domain.Amount{}, fmt.Errorf("get balance: %w", err)
	}
	return domain.ParseAmount(raw)
}

func (t *ledgerTx) Balances(ctx context.Context, startAfter string, limit int) ([]domain.Balance, error) {
	// TEXT comparison uses the BINARY collation, which orders by bytes.
	query := `SELECT address, amount FROM balances WHERE address > ? ORDER BY address ASC`
	args := []any{startAfter}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	var result []domain.Balance
	for rows.Next() {
		var (
			b   domain.Balance
			raw string
		)
		if err := rows.Scan(&b.Address, &raw); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		if b.Amount, err = domain.ParseAmount(raw); err != nil {
			return nil, fmt.Errorf("decode balance of %s: %w", b.Address, err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return result, nil
}

func (t *ledgerTx) SaveToken(ctx context.Context, info *domain.TokenInfo) error {
	if !t.writable || info == nil {
		return storage.ErrInvalidInput
	}

	var minter, mintCap sql.NullString
	if info.Minter != nil {
		minter = sql.NullString{String: info.Minter.Address, Valid: true}
		if info.Minter.Cap != nil {
			mintCap = sql.NullString{String: info.Minter.Cap.String(), Valid: true}
		}
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO token_info (
		   id, name, symbol, decimals, total_supply, minter, mint_cap, mint_sequence, updated_at
		 ) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name,
		   symbol = excluded.symbol,
		   decimals = excluded.decimals,
		   total_supply = excluded.total_supply,
		   minter = excluded.minter,
		   mint_cap = excluded.mint_cap,
		   mint_sequence = excluded.mint_sequence,
		   updated_at = excluded.updated_at`,
		info.Name,
		info.Symbol,
		int64(info.Decimals),
		info.TotalSupply.String(),
		minter,
		mintCap,
		int64(info.MintSequence),
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save token info: %w", err)
	}
	return nil
}

func (t *ledgerTx) IncreaseBalance(ctx context.Context, address string, delta domain.Amount) (domain.Amount, error) {
	if !t.writable || address == "" {
		return domain.Amount{}, storage.ErrInvalidInput
	}

	current, err := t.Balance(ctx, address)
	if err != nil {
		return domain.Amount{}, err
	}
	updated, err := current.CheckedAdd(delta)
	if err != nil {
		return domain.Amount{}, err
	}

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO balances (address, amount, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (address) DO UPDATE SET
		   amount = excluded.amount,
		   updated_at = excluded.updated_at`,
		address,
		updated.String(),
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("save balance: %w", err)
	}
	return updated, nil
}
