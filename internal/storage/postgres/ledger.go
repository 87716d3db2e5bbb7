package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"token-ledger/internal/domain"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
)

// Ledger implements storage.Ledger using PostgreSQL.
// Updates run SERIALIZABLE and lock the token row, so concurrent mints queue
// behind each other instead of interleaving. Mint events are written to
// mint_events in the same transaction.
type Ledger struct {
	pool *Pool
}

// NewLedger creates a new Ledger.
func NewLedger(pool *Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Compile-time interface check.
var (
	_ storage.Ledger = (*Ledger)(nil)
	_ storage.Tx           = (*ledgerTx)(nil)
	_ storage.MintRecorder = (*ledgerTx)(nil)
)

// View runs fn in a read-only REPEATABLE READ transaction.
func (l *Ledger) View(ctx context.Context, fn func(tx storage.ReadTx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return l.run(ctx, "view", opts, func(tx pgx.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

// Update runs fn in a SERIALIZABLE transaction.
func (l *Ledger) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadWrite}
	return l.run(ctx, "update", opts, func(tx pgx.Tx) error {
		return fn(&ledgerTx{tx: tx, writable: true})
	})
}

// Close is a no-op; the pool is owned by the caller.
func (l *Ledger) Close() error {
	return nil
}

func (l *Ledger) run(ctx context.Context, operation string, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	err := pgx.BeginTxFunc(ctx, l.pool, opts, fn)
	observability.RecordDBQuery("postgres", operation, time.Since(start).Seconds(), err)

	if err != nil && isConflictError(err) {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	return err
}

type ledgerTx struct {
	tx       pgx.Tx
	writable bool
}

func (t *ledgerTx) Token(ctx context.Context) (*domain.TokenInfo, error) {
	query := `
		SELECT name, symbol, decimals, total_supply::text, minter, mint_cap::text, mint_sequence
		FROM token_info
		WHERE id = 1
	`
	if t.writable {
		query += " FOR UPDATE"
	}

	var (
		info        domain.TokenInfo
		decimals    int16
		totalSupply string
		minter      *string
		mintCap     *string
		sequence    int64
	)
	err := t.tx.QueryRow(ctx, query).Scan(
		&info.Name,
		&info.Symbol,
		&decimals,
		&totalSupply,
		&minter,
		&mintCap,
		&sequence,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token info: %w", err)
	}

	info.Decimals = uint8(decimals)
	info.MintSequence = uint64(sequence)
	if info.TotalSupply, err = domain.ParseAmount(totalSupply); err != nil {
		return nil, fmt.Errorf("decode total supply: %w", err)
	}
	if minter != nil {
		info.Minter = &domain.Minter{Address: *minter}
		if mintCap != nil {
			capValue, err := domain.ParseAmount(*mintCap)
			if err != nil {
				return nil, fmt.Errorf("decode mint cap: %w", err)
			}
			info.Minter.Cap = &capValue
		}
	}
	return &info, nil
}

func (t *ledgerTx) Balance(ctx context.Context, address string) (domain.Amount, error) {
	query := `SELECT amount::text FROM balances WHERE address = $1`
	if t.writable {
		query += " FOR UPDATE"
	}

	var raw string
	if err := t.tx.QueryRow(ctx, query, address).Scan(&raw); err != nil {
		if isNotFoundError(err) {
			return domain.Amount{}, nil
		}
		return domain.Amount{}, fmt.Errorf("get balance: %w", err)
	}
	return domain.ParseAmount(raw)
}

func (t *ledgerTx) Balances(ctx context.Context, startAfter string, limit int) ([]domain.Balance, error) {
	query := `
		SELECT address, amount::text
		FROM balances
		WHERE address > $1
		ORDER BY address ASC
	`
	args := []any{startAfter}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := t.tx.Query(ctx, query, args...)
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

	var minter, mintCap *string
	if info.Minter != nil {
		minter = &info.Minter.Address
		if info.Minter.Cap != nil {
			c := info.Minter.Cap.String()
			mintCap = &c
		}
	}

	query := `
		INSERT INTO token_info (
			id, name, symbol, decimals, total_supply, minter, mint_cap, mint_sequence
		) VALUES (1, $1, $2, $3, $4::numeric, $5, $6::numeric, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			decimals = EXCLUDED.decimals,
			total_supply = EXCLUDED.total_supply,
			minter = EXCLUDED.minter,
			mint_cap = EXCLUDED.mint_cap,
			mint_sequence = EXCLUDED.mint_sequence,
			updated_at = now()
	`

	_, err := t.tx.Exec(ctx, query,
		info.Name,
		info.Symbol,
		int16(info.Decimals),
		info.TotalSupply.String(),
		minter,
		mintCap,
		int64(info.MintSequence),
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

	query := `
		INSERT INTO balances (address, amount)
		VALUES ($1, $2::numeric)
		ON CONFLICT (address) DO UPDATE SET
			amount = EXCLUDED.amount,
			updated_at = now()
	`
	if _, err := t.tx.Exec(ctx, query, address, updated.String()); err != nil {
		return domain.Amount{}, fmt.Errorf("save balance: %w", err)
	}
	return updated, nil
}

// RecordMint appends e to mint_events inside the ledger transaction.
func (t *ledgerTx) RecordMint(ctx context.Context, e *domain.MintEvent) error {
	if !t.writable {
		return storage.ErrInvalidInput
	}
	return insertMintEvent(ctx, t.tx, e)
}
