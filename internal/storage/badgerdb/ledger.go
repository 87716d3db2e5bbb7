// Package badgerdb implements storage.Ledger on an embedded Badger key-value store.
//
// Key layout:
//
//	t/token        -> JSON-encoded domain.TokenInfo
//	b/<address>    -> 16-byte big-endian balance
package badgerdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

var (
	tokenKey      = []byte("t/token")
	balancePrefix = []byte("b/")
)

// Ledger implements storage.Ledger using Badger transactions.
type Ledger struct {
	db *badger.DB
}

// Open opens (or creates) a Badger ledger in dir. An empty dir opens an
// in-memory database, useful for tests and ephemeral runs.
func Open(dir string, logger zerolog.Logger) (*Ledger, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(&badgerLogger{log: logger.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// View runs fn in a read-only Badger transaction.
func (l *Ledger) View(ctx context.Context, fn func(tx storage.ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.View(func(txn *badger.Txn) error {
		return fn(&ledgerTx{txn: txn})
	})
}

// Update runs fn in a read-write Badger transaction. Badger detects
// read-write conflicts at commit; those surface as storage.ErrConflict.
// A transaction past Badger's batch size limit fails with storage.ErrTxnTooLarge.
func (l *Ledger) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := l.db.Update(func(txn *badger.Txn) error {
		return fn(&ledgerTx{txn: txn})
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	if errors.Is(err, badger.ErrTxnTooBig) {
		return fmt.Errorf("%w: %v", storage.ErrTxnTooLarge, err)
	}
	return err
}

type ledgerTx struct {
	txn *badger.Txn
}

func balanceKey(address string) []byte {
	key := make([]byte, 0, len(balancePrefix)+len(address))
	key = append(key, balancePrefix...)
	return append(key, address...)
}

func (tx *ledgerTx) Token(_ context.Context) (*domain.TokenInfo, error) {
	item, err := tx.txn.Get(tokenKey)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}

	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	var t domain.TokenInfo
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &t, nil
}

func (tx *ledgerTx) Balance(_ context.Context, address string) (domain.Amount, error) {
	item, err := tx.txn.Get(balanceKey(address))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.Amount{}, nil
		}
		return domain.Amount{}, fmt.Errorf("get balance: %w", err)
	}
	return decodeBalance(item)
}

func (tx *ledgerTx) Balances(_ context.Context, startAfter string, limit int) ([]domain.Balance, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = balancePrefix
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	var result []domain.Balance
	for it.Seek(balanceKey(startAfter)); it.ValidForPrefix(balancePrefix); it.Next() {
		item := it.Item()
		address := string(bytes.TrimPrefix(item.KeyCopy(nil), balancePrefix))
		if address <= startAfter {
			continue
		}

		amount, err := decodeBalance(item)
		if err != nil {
			return nil, err
		}
		result = append(result, domain.Balance{Address: address, Amount: amount})

		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (tx *ledgerTx) SaveToken(_ context.Context, t *domain.TokenInfo) error {
	if t == nil {
		return storage.ErrInvalidInput
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := tx.txn.Set(tokenKey, raw); err != nil {
		return fmt.Errorf("set token: %w", err)
	}
	return nil
}

func (tx *ledgerTx) IncreaseBalance(ctx context.Context, address string, delta domain.Amount) (domain.Amount, error) {
	if address == "" {
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

	if err := tx.txn.Set(balanceKey(address), updated.Bytes()); err != nil {
		if errors.Is(err, badger.ErrReadOnlyTxn) {
			return domain.Amount{}, storage.ErrInvalidInput
		}
		return domain.Amount{}, fmt.Errorf("set balance: %w", err)
	}
	return updated, nil
}

func decodeBalance(item *badger.Item) (domain.Amount, error) {
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("read balance: %w", err)
	}
	amount, err := domain.AmountFromBytes(raw)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("decode balance %q: %w", item.Key(), err)
	}
	return amount, nil
}

// badgerLogger routes Badger's internal logging through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}

var (
	_ storage.Ledger = (*Ledger)(nil)
	_ storage.Tx     = (*ledgerTx)(nil)
	_ badger.Logger  = (*badgerLogger)(nil)
)
