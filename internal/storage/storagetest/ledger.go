// Package storagetest holds the behavioural test suite every storage.Ledger
// backend must pass.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

var errAbort = errors.New("abort")

// RunLedgerTests runs the suite against ledgers produced by newLedger.
// Each subtest receives a fresh, empty ledger.
func RunLedgerTests(t *testing.T, newLedger func(t *testing.T) storage.Ledger) {
	t.Run("EmptyLedger", func(t *testing.T) { testEmptyLedger(t, newLedger(t)) })
	t.Run("CommitTokenAndBalances", func(t *testing.T) { testCommit(t, newLedger(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newLedger(t)) })
	t.Run("ReadYourWrites", func(t *testing.T) { testReadYourWrites(t, newLedger(t)) })
	t.Run("IncreaseOverflow", func(t *testing.T) { testIncreaseOverflow(t, newLedger(t)) })
	t.Run("BalancesPagination", func(t *testing.T) { testBalancesPagination(t, newLedger(t)) })
	t.Run("TokenWithoutMinter", func(t *testing.T) { testTokenWithoutMinter(t, newLedger(t)) })
}

func sampleToken() *domain.TokenInfo {
	limit := domain.MustParseAmount("340282366920938463463374607431768211455")
	return &domain.TokenInfo{
		Name:         "Cash",
		Symbol:       "CASH",
		Decimals:     9,
		TotalSupply:  domain.NewAmount(11223344),
		Minter:       &domain.Minter{Address: "asmodat", Cap: &limit},
		MintSequence: 3,
	}
}

func testEmptyLedger(t *testing.T, l storage.Ledger) {
	ctx := context.Background()

	err := l.View(ctx, func(tx storage.ReadTx) error {
		_, err := tx.Token(ctx)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		balance, err := tx.Balance(ctx, "unknown")
		require.NoError(t, err)
		assert.True(t, balance.IsZero())

		all, err := tx.Balances(ctx, "", 0)
		require.NoError(t, err)
		assert.Empty(t, all)
		return nil
	})
	require.NoError(t, err)
}

func testCommit(t *testing.T, l storage.Ledger) {
	ctx := context.Background()
	token := sampleToken()

	err := l.Update(ctx, func(tx storage.Tx) error {
		if err := tx.SaveToken(ctx, token); err != nil {
			return err
		}
		if _, err := tx.IncreaseBalance(ctx, "addr1", domain.NewAmount(11223344)); err != nil {
			return err
		}
		return nil
	})
	require.NoError(t, err)

	err = l.View(ctx, func(tx storage.ReadTx) error {
		got, err := tx.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Cash", got.Name)
		assert.Equal(t, "CASH", got.Symbol)
		assert.Equal(t, uint8(9), got.Decimals)
		assert.Equal(t, "11223344", got.TotalSupply.String())
		assert.Equal(t, uint64(3), got.MintSequence)
		require.NotNil(t, got.Minter)
		assert.Equal(t, "asmodat", got.Minter.Address)
		require.NotNil(t, got.Minter.Cap)
		assert.True(t, got.Minter.Cap.Equal(domain.MaxAmount))

		balance, err := tx.Balance(ctx, "addr1")
		require.NoError(t, err)
		assert.Equal(t, "11223344", balance.String())
		return nil
	})
	require.NoError(t, err)

	// Second update accumulates.
	var updated domain.Amount
	err = l.Update(ctx, func(tx storage.Tx) error {
		var err error
		updated, err = tx.IncreaseBalance(ctx, "addr1", domain.NewAmount(1000))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "11224344", updated.String())
}

func testRollback(t *testing.T, l storage.Ledger) {
	ctx := context.Background()

	require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
		if err := tx.SaveToken(ctx, sampleToken()); err != nil {
			return err
		}
		_, err := tx.IncreaseBalance(ctx, "addr1", domain.NewAmount(90))
		return err
	}))

	err := l.Update(ctx, func(tx storage.Tx) error {
		token, err := tx.Token(ctx)
		if err != nil {
			return err
		}
		token.TotalSupply = domain.NewAmount(500)
		if err := tx.SaveToken(ctx, token); err != nil {
			return err
		}
		if _, err := tx.IncreaseBalance(ctx, "addr1", domain.NewAmount(10)); err != nil {
			return err
		}
		if _, err := tx.IncreaseBalance(ctx, "addr2", domain.NewAmount(400)); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	require.NoError(t, l.View(ctx, func(tx storage.ReadTx) error {
		token, err := tx.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "11223344", token.TotalSupply.String())

		b1, err := tx.Balance(ctx, "addr1")
		require.NoError(t, err)
		assert.Equal(t, "90", b1.String())

		b2, err := tx.Balance(ctx, "addr2")
		require.NoError(t, err)
		assert.True(t, b2.IsZero())

		all, err := tx.Balances(ctx, "", 0)
		require.NoError(t, err)
		assert.Len(t, all, 1)
		return nil
	}))
}

func testReadYourWrites(t *testing.T, l storage.Ledger) {
	ctx := context.Background()

	require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
		if _, err := tx.IncreaseBalance(ctx, "addr1", domain.NewAmount(5)); err != nil {
			return err
		}
		if _, err := tx.IncreaseBalance(ctx, "addr1", domain.NewAmount(6)); err != nil {
			return err
		}

		balance, err := tx.Balance(ctx, "addr1")
		require.NoError(t, err)
		assert.Equal(t, "11", balance.String())

		if err := tx.SaveToken(ctx, sampleToken()); err != nil {
			return err
		}
		token, err := tx.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Cash", token.Name)

		all, err := tx.Balances(ctx, "", 0)
		require.NoError(t, err)
		assert.Len(t, all, 1)
		return nil
	}))
}

func testIncreaseOverflow(t *testing.T, l storage.Ledger) {
	ctx := context.Background()

	require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
		if _, err := tx.IncreaseBalance(ctx, "whale", domain.MaxAmount); err != nil {
			return err
		}

		_, err := tx.IncreaseBalance(ctx, "whale", domain.NewAmount(1))
		assert.ErrorIs(t, err, domain.ErrOverflow)

		balance, err := tx.Balance(ctx, "whale")
		require.NoError(t, err)
		assert.True(t, balance.Equal(domain.MaxAmount))
		return nil
	}))

	require.NoError(t, l.View(ctx, func(tx storage.ReadTx) error {
		balance, err := tx.Balance(ctx, "whale")
		require.NoError(t, err)
		assert.True(t, balance.Equal(domain.MaxAmount))
		return nil
	}))
}

func testBalancesPagination(t *testing.T, l storage.Ledger) {
	ctx := context.Background()

	addrs := []string{"carol", "alice", "erin", "bob", "dave"}
	require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
		for i, addr := range addrs {
			if _, err := tx.IncreaseBalance(ctx, addr, domain.NewAmount(uint64(i+1))); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, l.View(ctx, func(tx storage.ReadTx) error {
		page, err := tx.Balances(ctx, "", 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "alice", page[0].Address)
		assert.Equal(t, "2", page[0].Amount.String())
		assert.Equal(t, "bob", page[1].Address)

		page, err = tx.Balances(ctx, "bob", 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "carol", page[0].Address)
		assert.Equal(t, "dave", page[1].Address)

		page, err = tx.Balances(ctx, "dave", 0)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "erin", page[0].Address)

		page, err = tx.Balances(ctx, "erin", 10)
		require.NoError(t, err)
		assert.Empty(t, page)
		return nil
	}))
}

func testTokenWithoutMinter(t *testing.T, l storage.Ledger) {
	ctx := context.Background()

	token := &domain.TokenInfo{
		Name:        "Fixed",
		Symbol:      "FIX",
		Decimals:    0,
		TotalSupply: domain.NewAmount(1),
	}
	require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
		return tx.SaveToken(ctx, token)
	}))

	require.NoError(t, l.View(ctx, func(tx storage.ReadTx) error {
		got, err := tx.Token(ctx)
		require.NoError(t, err)
		assert.Nil(t, got.Minter)
		_, hasCap := got.Cap()
		assert.False(t, hasCap)
		return nil
	}))
}
