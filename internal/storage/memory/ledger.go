package memory

import (
	"context"
	"sort"
	"sync"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// Ledger is an in-memory implementation of storage.Ledger.
// Writers are serialized by a single lock; a transaction stages its writes
// and applies them only when fn succeeds.
type Ledger struct {
	mu       sync.RWMutex
	token    *domain.TokenInfo
	balances map[string]domain.Amount // keyed by address
}

// NewLedger creates a new empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[string]domain.Amount),
	}
}

// View runs fn against the committed state.
func (l *Ledger) View(ctx context.Context, fn func(tx storage.ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return fn(&ledgerTx{ledger: l})
}

// Update runs fn with staged writes and commits them if fn returns nil.
func (l *Ledger) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &ledgerTx{
		ledger:   l,
		writable: true,
		staged:   make(map[string]domain.Amount),
	}
	if err := fn(tx); err != nil {
		return err
	}

	// Commit
	if tx.stagedToken != nil {
		l.token = tx.stagedToken
	}
	for addr, amount := range tx.staged {
		l.balances[addr] = amount
	}
	return nil
}

// Close is a no-op.
func (l *Ledger) Close() error {
	return nil
}

// ledgerTx reads through its staged writes to the committed state.
// The owning Ledger lock is held for the lifetime of the transaction.
type ledgerTx struct {
	ledger      *Ledger
	writable    bool
	stagedToken *domain.TokenInfo
	staged      map[string]domain.Amount
}

func (tx *ledgerTx) Token(_ context.Context) (*domain.TokenInfo, error) {
	if tx.stagedToken != nil {
		return tx.stagedToken.Clone(), nil
	}
	if tx.ledger.token == nil {
		return nil, storage.ErrNotFound
	}
	return tx.ledger.token.Clone(), nil
}

func (tx *ledgerTx) Balance(_ context.Context, address string) (domain.Amount, error) {
	if amount, ok := tx.staged[address]; ok {
		return amount, nil
	}
	return tx.ledger.balances[address], nil
}

func (tx *ledgerTx) Balances(_ context.Context, startAfter string, limit int) ([]domain.Balance, error) {
	merged := make(map[string]domain.Amount, len(tx.ledger.balances)+len(tx.staged))
	for addr, amount := range tx.ledger.balances {
		merged[addr] = amount
	}
	for addr, amount := range tx.staged {
		merged[addr] = amount
	}

	addrs := make([]string, 0, len(merged))
	for addr := range merged {
		if addr > startAfter {
			addrs = append(addrs, addr)
		}
	}
	sort.Strings(addrs)

	if limit > 0 && len(addrs) > limit {
		addrs = addrs[:limit]
	}

	result := make([]domain.Balance, 0, len(addrs))
	for _, addr := range addrs {
		result = append(result, domain.Balance{Address: addr, Amount: merged[addr]})
	}
	return result, nil
}

func (tx *ledgerTx) SaveToken(_ context.Context, t *domain.TokenInfo) error {
	if !tx.writable {
		return storage.ErrInvalidInput
	}
	if t == nil {
		return storage.ErrInvalidInput
	}
	// Store a copy to prevent external mutation
	tx.stagedToken = t.Clone()
	return nil
}

func (tx *ledgerTx) IncreaseBalance(ctx context.Context, address string, delta domain.Amount) (domain.Amount, error) {
	if !tx.writable || address == "" {
		return domain.Amount{}, storage.ErrInvalidInput
	}

	current, err := tx.Balance(ctx, address)
	if err != nil {
		return domain.Amount{}, err
	}
	updated, err := current.CheckedAdd(delta)
	if err != nil {
		return domain.Amount{}, err
	}
	tx.staged[address] = updated
	return updated, nil
}

// Verify interface compliance at compile time.
var (
	_ storage.Ledger = (*Ledger)(nil)
	_ storage.Tx     = (*ledgerTx)(nil)
)
