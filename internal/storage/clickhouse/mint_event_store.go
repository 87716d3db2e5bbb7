package clickhouse

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"token-ledger/internal/domain"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
)

// MintEventStore implements storage.MintEventStore using ClickHouse.
type MintEventStore struct {
	conn *Conn
}

// NewMintEventStore creates a new MintEventStore.
func NewMintEventStore(conn *Conn) *MintEventStore {
	return &MintEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.MintEventStore = (*MintEventStore)(nil)

// Insert adds a new event. Returns ErrDuplicateKey if the event id exists.
func (s *MintEventStore) Insert(ctx context.Context, e *domain.MintEvent) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	// ReplacingMergeTree would silently collapse a replay; keep append-only semantics.
	exists, err := s.exists(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `
		INSERT INTO mint_events (
			event_id, sequence, action, recipient, amount, total_supply, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	start := time.Now()
	err = s.conn.Exec(ctx, query,
		e.ID,
		e.Sequence,
		e.Action,
		e.To,
		e.Amount.Big(),
		e.TotalSupply.Big(),
		time.UnixMilli(e.CreatedAt).UTC(),
	)
	observability.RecordDBQuery("clickhouse", "insert_mint_event", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("insert mint event: %w", err)
	}
	return nil
}

// GetByRecipient retrieves all events for a recipient, ordered by sequence ASC.
func (s *MintEventStore) GetByRecipient(ctx context.Context, recipient string) ([]*domain.MintEvent, error) {
	query := `
		SELECT event_id, sequence, action, recipient, amount, total_supply, created_at
		FROM mint_events FINAL
		WHERE recipient = ?
		ORDER BY sequence ASC
	`

	rows, err := s.conn.Query(ctx, query, recipient)
	if err != nil {
		return nil, fmt.Errorf("query by recipient: %w", err)
	}
	defer rows.Close()

	return scanMintEvents(rows)
}

// GetAll retrieves every event, ordered by sequence ASC.
func (s *MintEventStore) GetAll(ctx context.Context) ([]*domain.MintEvent, error) {
	query := `
		SELECT event_id, sequence, action, recipient, amount, total_supply, created_at
		FROM mint_events FINAL
		ORDER BY sequence ASC
	`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all: %w", err)
	}
	defer rows.Close()

	return scanMintEvents(rows)
}

// exists checks if an event with the given id exists.
func (s *MintEventStore) exists(ctx context.Context, eventID string) (bool, error) {
	query := `SELECT count(*) FROM mint_events FINAL WHERE event_id = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, eventID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// chRows is the subset of driver.Rows used for scanning.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanMintEvents(rows chRows) ([]*domain.MintEvent, error) {
	var result []*domain.MintEvent
	for rows.Next() {
		var (
			e           domain.MintEvent
			amount      big.Int
			totalSupply big.Int
			createdAt   time.Time
		)
		if err := rows.Scan(&e.ID, &e.Sequence, &e.Action, &e.To, &amount, &totalSupply, &createdAt); err != nil {
			return nil, fmt.Errorf("scan mint event: %w", err)
		}

		var err error
		if e.Amount, err = domain.ParseAmount(amount.String()); err != nil {
			return nil, fmt.Errorf("decode amount: %w", err)
		}
		if e.TotalSupply, err = domain.ParseAmount(totalSupply.String()); err != nil {
			return nil, fmt.Errorf("decode total supply: %w", err)
		}
		e.CreatedAt = createdAt.UnixMilli()
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mint events: %w", err)
	}
	return result, nil
}
