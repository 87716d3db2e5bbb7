package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
	"token-ledger/internal/storage/storagetest"
)

func openTestLedger(t *testing.T, path string) *Ledger {
	t.Helper()

	l, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedger(t *testing.T) {
	storagetest.RunLedgerTests(t, func(t *testing.T) storage.Ledger {
		return openTestLedger(t, filepath.Join(t.TempDir(), "ledger.db"))
	})
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	require.Error(t, err)
}

func TestLedger_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
		if err := tx.SaveToken(ctx, &domain.TokenInfo{Name: "Cash", Symbol: "CASH", Decimals: 9, TotalSupply: domain.MaxAmount}); err != nil {
			return err
		}
		_, err := tx.IncreaseBalance(ctx, "addr1", domain.MaxAmount)
		return err
	}))
	require.NoError(t, l.Close())

	// Migrations are idempotent on reopen.
	reopened := openTestLedger(t, path)
	require.NoError(t, reopened.View(ctx, func(tx storage.ReadTx) error {
		info, err := tx.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "CASH", info.Symbol)
		assert.Nil(t, info.Minter)
		assert.True(t, info.TotalSupply.Equal(domain.MaxAmount))

		balance, err := tx.Balance(ctx, "addr1")
		require.NoError(t, err)
		assert.True(t, balance.Equal(domain.MaxAmount))
		return nil
	}))
}

func TestLedger_ViewRejectsWrites(t *testing.T) {
	l := openTestLedger(t, filepath.Join(t.TempDir(), "ledger.db"))
	ctx := context.Background()

	err := l.View(ctx, func(tx storage.ReadTx) error {
		w, ok := tx.(storage.Tx)
		require.True(t, ok)
		_, err := w.IncreaseBalance(ctx, "addr1", domain.NewAmount(1))
		return err
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
