package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"token-ledger/internal/domain"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
)

// MintEventStore implements storage.MintEventStore using PostgreSQL.
type MintEventStore struct {
	pool *Pool
}

// NewMintEventStore creates a new MintEventStore.
func NewMintEventStore(pool *Pool) *MintEventStore {
	return &MintEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MintEventStore = (*MintEventStore)(nil)

// Insert adds a new event. Returns ErrDuplicateKey if the event id or sequence exists.
func (s *MintEventStore) Insert(ctx context.Context, e *domain.MintEvent) error {
	start := time.Now()
	err := insertMintEvent(ctx, s.pool, e)
	observability.RecordDBQuery("postgres", "insert_mint_event", time.Since(start).Seconds(), err)
	return err
}

// execer is satisfied by both *Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertMintEvent(ctx context.Context, db execer, e *domain.MintEvent) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO mint_events (
			event_id, sequence, action, recipient, amount, total_supply, created_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)
	`

	_, err := db.Exec(ctx, query,
		e.ID,
		int64(e.Sequence),
		e.Action,
		e.To,
		e.Amount.String(),
		e.TotalSupply.String(),
		e.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert mint event: %w", err)
	}
	return nil
}

// GetByRecipient retrieves all events for a recipient, ordered by sequence ASC.
func (s *MintEventStore) GetByRecipient(ctx context.Context, recipient string) ([]*domain.MintEvent, error) {
	query := `
		SELECT event_id, sequence, action, recipient, amount::text, total_supply::text, created_at
		FROM mint_events
		WHERE recipient = $1
		ORDER BY sequence ASC
	`

	rows, err := s.pool.Query(ctx, query, recipient)
	if err != nil {
		return nil, fmt.Errorf("query mint events by recipient: %w", err)
	}
	defer rows.Close()

	return scanMintEvents(rows)
}

// GetAll retrieves every event, ordered by sequence ASC.
func (s *MintEventStore) GetAll(ctx context.Context) ([]*domain.MintEvent, error) {
	query := `
		SELECT event_id, sequence, action, recipient, amount::text, total_supply::text, created_at
		FROM mint_events
		ORDER BY sequence ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query mint events: %w", err)
	}
	defer rows.Close()

	return scanMintEvents(rows)
}

// scanMintEvents scans all rows into MintEvents.
func scanMintEvents(rows pgx.Rows) ([]*domain.MintEvent, error) {
	var result []*domain.MintEvent
	for rows.Next() {
		var (
			e           domain.MintEvent
			sequence    int64
			amount      string
			totalSupply string
		)
		err := rows.Scan(
			&e.ID,
			&sequence,
			&e.Action,
			&e.To,
			&amount,
			&totalSupply,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan mint event: %w", err)
		}

		e.Sequence = uint64(sequence)
		if e.Amount, err = domain.ParseAmount(amount); err != nil {
			return nil, fmt.Errorf("decode amount: %w", err)
		}
		if e.TotalSupply, err = domain.ParseAmount(totalSupply); err != nil {
			return nil, fmt.Errorf("decode total supply: %w", err)
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mint events: %w", err)
	}
	return result, nil
}
