package storage

import (
	"context"

	"token-ledger/internal/domain"
)

// ReadTx is a consistent read view of the ledger.
type ReadTx interface {
	// Token loads the token record. Returns ErrNotFound if the ledger was never initialized.
	Token(ctx context.Context) (*domain.TokenInfo, error)

	// Balance returns the balance of address, or zero if the address has no entry.
	Balance(ctx context.Context, address string) (domain.Amount, error)

	// Balances returns entries with address > startAfter, ordered by address ASC.
	// A limit <= 0 returns every remaining entry.
	Balances(ctx context.Context, startAfter string, limit int) ([]domain.Balance, error)
}

// Tx is a read-write ledger transaction.
type Tx interface {
	ReadTx

	// SaveToken stores the token record, replacing any previous one.
	SaveToken(ctx context.Context, t *domain.TokenInfo) error

	// IncreaseBalance adds delta to the balance of address and returns the new balance.
	// Returns domain.ErrOverflow, leaving the entry untouched, if the result exceeds 128 bits.
	IncreaseBalance(ctx context.Context, address string, delta domain.Amount) (domain.Amount, error)
}

// MintRecorder is implemented by transactions that keep the mint audit log
// next to the balances. RecordMint appends e as part of the enclosing Update,
// so the record commits or rolls back with the mint itself.
type MintRecorder interface {
	RecordMint(ctx context.Context, e *domain.MintEvent) error
}

// Ledger is the transactional substrate holding balances and the token record.
// Every write made inside Update is committed together, or not at all when fn
// returns an error.
type Ledger interface {
	// View runs fn against a read-only snapshot.
	View(ctx context.Context, fn func(tx ReadTx) error) error

	// Update runs fn in a read-write transaction. Returns ErrConflict if a
	// concurrent writer invalidated the transaction; callers decide whether to retry.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// Close releases the underlying resources.
	Close() error
}

// MintEventStore provides access to the append-only mint audit log.
type MintEventStore interface {
	// Insert adds a new event. Returns ErrDuplicateKey if the event id exists.
	Insert(ctx context.Context, e *domain.MintEvent) error

	// GetByRecipient retrieves all events for a recipient, ordered by sequence ASC.
	GetByRecipient(ctx context.Context, recipient string) ([]*domain.MintEvent, error)

	// GetAll retrieves every event, ordered by sequence ASC.
	GetAll(ctx context.Context) ([]*domain.MintEvent, error)
}
