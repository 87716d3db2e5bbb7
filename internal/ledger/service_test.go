package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-ledger/internal/address"
	"token-ledger/internal/domain"
	"token-ledger/internal/idhash"
	"token-ledger/internal/storage"
	"token-ledger/internal/storage/memory"
)

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

type recordingSink struct {
	name   string
	events []*domain.MintEvent
	err    error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, e *domain.MintEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func newTestService(t *testing.T, sinks ...EventSink) (*Service, *memory.Ledger) {
	t.Helper()

	store := memory.NewLedger()
	svc := New(Options{
		Store:  store,
		Sinks:  sinks,
		Logger: zerolog.Nop(),
		Clock:  func() time.Time { return fixedNow },
	})
	return svc, store
}

func amountPtr(v uint64) *domain.Amount {
	a := domain.NewAmount(v)
	return &a
}

func cashRequest() InitRequest {
	return InitRequest{
		Name:     "Cash",
		Symbol:   "CASH",
		Decimals: 9,
		InitialBalances: []domain.InitialBalance{
			{Address: "addr1", Amount: domain.NewAmount(11223344)},
		},
		Mint: &domain.Minter{Address: "asmodat", Cap: amountPtr(511223344)},
	}
}

// snapshot captures every stored balance and the token record.
type snapshot struct {
	token    *domain.TokenInfo
	balances []domain.Balance
}

func takeSnapshot(t *testing.T, store storage.Ledger) snapshot {
	t.Helper()

	ctx := context.Background()
	var snap snapshot
	require.NoError(t, store.View(ctx, func(tx storage.ReadTx) error {
		token, err := tx.Token(ctx)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		snap.token = token
		snap.balances, err = tx.Balances(ctx, "", 0)
		return err
	}))
	return snap
}

func assertSupplyConserved(t *testing.T, svc *Service) {
	t.Helper()

	report, err := svc.CheckSupply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.TotalSupply.String(), report.Sum.String())
}

func TestInit_CashScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Init(ctx, cashRequest()))

	balance, err := svc.Balance(ctx, "addr1")
	require.NoError(t, err)
	assert.Equal(t, "11223344", balance.String())

	meta, err := svc.TokenInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Metadata{
		Name:        "Cash",
		Symbol:      "CASH",
		Decimals:    9,
		TotalSupply: domain.NewAmount(11223344),
	}, meta)

	minter, err := svc.MinterInfo(ctx)
	require.NoError(t, err)
	require.NotNil(t, minter)
	assert.Equal(t, "asmodat", minter.Address)
	require.NotNil(t, minter.Cap)
	assert.Equal(t, "511223344", minter.Cap.String())

	assertSupplyConserved(t, svc)
}

func TestInit_Decimals(t *testing.T) {
	t.Run("19 rejected", func(t *testing.T) {
		svc, store := newTestService(t)
		req := cashRequest()
		req.Decimals = 19

		err := svc.Init(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidDecimals)
		assert.Nil(t, takeSnapshot(t, store).token)
	})

	t.Run("18 accepted", func(t *testing.T) {
		svc, _ := newTestService(t)
		req := cashRequest()
		req.Decimals = 18

		require.NoError(t, svc.Init(context.Background(), req))
		meta, err := svc.TokenInfo(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint8(18), meta.Decimals)
	})
}

func TestInit_CapExceededLeavesNoState(t *testing.T) {
	svc, store := newTestService(t)
	req := cashRequest()
	req.Mint.Cap = amountPtr(11223343)

	err := svc.Init(context.Background(), req)
	assert.ErrorIs(t, err, ErrCapExceeded)

	snap := takeSnapshot(t, store)
	assert.Nil(t, snap.token)
	assert.Empty(t, snap.balances)

	_, err = svc.TokenInfo(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInit_CapEqualToSupply(t *testing.T) {
	svc, _ := newTestService(t)
	req := cashRequest()
	req.Mint.Cap = amountPtr(11223344)

	require.NoError(t, svc.Init(context.Background(), req))

	_, err := svc.Mint(context.Background(), "asmodat", "addr2", domain.NewAmount(1))
	assert.ErrorIs(t, err, ErrCapExceeded)
}

func TestInit_InvalidAddress(t *testing.T) {
	tests := []struct {
		name string
		req  func() InitRequest
	}{
		{
			name: "distribution entry",
			req: func() InitRequest {
				r := cashRequest()
				r.InitialBalances = append(r.InitialBalances, domain.InitialBalance{Address: "Addr2", Amount: domain.NewAmount(1)})
				return r
			},
		},
		{
			name: "minter",
			req: func() InitRequest {
				r := cashRequest()
				r.Mint.Address = "a"
				return r
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t)

			err := svc.Init(context.Background(), tt.req())
			assert.ErrorIs(t, err, ErrInvalidAddress)

			snap := takeSnapshot(t, store)
			assert.Nil(t, snap.token)
			assert.Empty(t, snap.balances)
		})
	}
}

func TestInit_SupplyOverflow(t *testing.T) {
	svc, store := newTestService(t)
	req := InitRequest{
		Name:     "Big",
		Symbol:   "BIG",
		Decimals: 0,
		InitialBalances: []domain.InitialBalance{
			{Address: "addr1", Amount: domain.MaxAmount},
			{Address: "addr2", Amount: domain.NewAmount(1)},
		},
	}

	err := svc.Init(context.Background(), req)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)

	snap := takeSnapshot(t, store)
	assert.Nil(t, snap.token)
	assert.Empty(t, snap.balances)
}

func TestInit_DuplicateAddressesAreSummed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	req := InitRequest{
		Name:     "Cash",
		Symbol:   "CASH",
		Decimals: 6,
		InitialBalances: []domain.InitialBalance{
			{Address: "addr1", Amount: domain.NewAmount(100)},
			{Address: "addr2", Amount: domain.NewAmount(5)},
			{Address: "addr1", Amount: domain.NewAmount(23)},
		},
	}

	require.NoError(t, svc.Init(ctx, req))

	balance, err := svc.Balance(ctx, "addr1")
	require.NoError(t, err)
	assert.Equal(t, "123", balance.String())

	meta, err := svc.TokenInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "128", meta.TotalSupply.String())

	assertSupplyConserved(t, svc)
}

func TestInit_WithoutMinter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	req := cashRequest()
	req.Mint = nil

	require.NoError(t, svc.Init(ctx, req))

	minter, err := svc.MinterInfo(ctx)
	require.NoError(t, err)
	assert.Nil(t, minter)

	_, err = svc.Mint(ctx, "asmodat", "addr2", domain.NewAmount(1))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestInit_UnlimitedMinter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	req := cashRequest()
	req.Mint.Cap = nil

	require.NoError(t, svc.Init(ctx, req))

	minter, err := svc.MinterInfo(ctx)
	require.NoError(t, err)
	require.NotNil(t, minter)
	assert.Nil(t, minter.Cap)

	_, err = svc.Mint(ctx, "asmodat", "addr2", domain.MustParseAmount("1000000000000000000000000"))
	require.NoError(t, err)
	assertSupplyConserved(t, svc)
}

func TestInit_Twice(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Init(ctx, cashRequest()))
	before := takeSnapshot(t, store)

	second := cashRequest()
	second.Symbol = "OTHER"
	err := svc.Init(ctx, second)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, before, takeSnapshot(t, store))
}

func TestMint_CashScenario(t *testing.T) {
	sink := &recordingSink{name: "recording"}
	svc, _ := newTestService(t, sink)
	ctx := context.Background()
	require.NoError(t, svc.Init(ctx, cashRequest()))

	event, err := svc.Mint(ctx, "asmodat", "addr2", domain.NewAmount(1000))
	require.NoError(t, err)

	assert.Equal(t, []domain.Attribute{
		{Key: "action", Value: "mint"},
		{Key: "to", Value: "addr2"},
		{Key: "amount", Value: "1000"},
	}, event.Attributes())
	assert.Equal(t, uint64(1), event.Sequence)
	assert.Equal(t, "11224344", event.TotalSupply.String())
	assert.Equal(t, fixedNow.UnixMilli(), event.CreatedAt)
	assert.Equal(t, idhash.ComputeMintEventID(1, "addr2", domain.NewAmount(1000)), event.ID)

	balance, err := svc.Balance(ctx, "addr2")
	require.NoError(t, err)
	assert.Equal(t, "1000", balance.String())

	meta, err := svc.TokenInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "11224344", meta.TotalSupply.String())

	require.Len(t, sink.events, 1)
	assert.Equal(t, event, sink.events[0])
	assertSupplyConserved(t, svc)
}

func TestMint_UnauthorizedLeavesStateUnchanged(t *testing.T) {
	sink := &recordingSink{name: "recording"}
	svc, store := newTestService(t, sink)
	ctx := context.Background()
	require.NoError(t, svc.Init(ctx, cashRequest()))
	before := takeSnapshot(t, store)

	for _, caller := range []string{"attacker", "Asmodat", ""} {
		_, err := svc.Mint(ctx, caller, "addr2", domain.NewAmount(1))
		assert.ErrorIs(t, err, ErrUnauthorized, "caller %q", caller)
	}

	assert.Equal(t, before, takeSnapshot(t, store))
	assert.Empty(t, sink.events)
}

func TestMint_BeforeInit(t *testing.T) {
	svc, store := newTestService(t)

	_, err := svc.Mint(context.Background(), "asmodat", "addr2", domain.NewAmount(1))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, takeSnapshot(t, store).balances)
}

func TestMint_CapExceeded(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Init(ctx, InitRequest{
		Name:            "Capped",
		Symbol:          "CAP",
		Decimals:        0,
		InitialBalances: []domain.InitialBalance{{Address: "addr1", Amount: domain.NewAmount(90)}},
		Mint:            &domain.Minter{Address: "minter", Cap: amountPtr(100)},
	}))
	before := takeSnapshot(t, store)

	_, err := svc.Mint(ctx, "minter", "addr2", domain.NewAmount(20))
	assert.ErrorIs(t, err, ErrCapExceeded)

	meta, err := svc.TokenInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "90", meta.TotalSupply.String())
	assert.Equal(t, before, takeSnapshot(t, store))

	// Reaching the cap exactly is allowed.
	_, err = svc.Mint(ctx, "minter", "addr2", domain.NewAmount(10))
	require.NoError(t, err)

	meta, err = svc.TokenInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100", meta.TotalSupply.String())
	assertSupplyConserved(t, svc)
}

func TestMint_NotIdempotent(t *testing.T) {
	sink := &recordingSink{name: "recording"}
	svc, _ := newTestService(t, sink)
	ctx := context.Background()
	require.NoError(t, svc.Init(ctx, cashRequest()))

	first, err := svc.Mint(ctx, "asmodat", "addr2", domain.NewAmount(1000))
	require.NoError(t, err)
	second, err := svc.Mint(ctx, "asmodat", "addr2", domain.NewAmount(1000))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, uint64(2), second.Sequence)

	balance, err := svc.Balance(ctx, "addr2")
	require.NoError(t, err)
	assert.Equal(t, "2000", balance.String())

	meta, err := svc.TokenInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "11225344", meta.TotalSupply.String())
	assert.Len(t, sink.events, 2)
	assertSupplyConserved(t, svc)
}

func TestMint_ZeroAmount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Init(ctx, cashRequest()))

	event, err := svc.Mint(ctx, "asmodat", "addr2", domain.Amount{})
	require.NoError(t, err)
	assert.Equal(t, "0", event.Amount.String())
	assert.Equal(t, "11223344", event.TotalSupply.String())

	accounts, err := svc.AllAccounts(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"addr1"}, accounts)
	assertSupplyConserved(t, svc)
}

func TestMint_InvalidRecipient(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Init(ctx, cashRequest()))
	before := takeSnapshot(t, store)

	_, err := svc.Mint(ctx, "asmodat", "Bad Address", domain.NewAmount(1))
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Equal(t, before, takeSnapshot(t, store))
}

func TestMint_SupplyOverflow(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Init(ctx, InitRequest{
		Name:            "Big",
		Symbol:          "BIG",
		InitialBalances: []domain.InitialBalance{{Address: "addr1", Amount: domain.MaxAmount}},
		Mint:            &domain.Minter{Address: "minter"},
	}))
	before := takeSnapshot(t, store)

	_, err := svc.Mint(ctx, "minter", "addr2", domain.NewAmount(1))
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
	assert.Equal(t, before, takeSnapshot(t, store))
}

func TestMint_BalanceOverflowRollsBackSupply(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	// A store whose recipient balance is already at the limit while the
	// recorded supply is not; only reachable through direct writes.
	require.NoError(t, store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.SaveToken(ctx, &domain.TokenInfo{
			Name:        "Odd",
			Symbol:      "ODD",
			TotalSupply: domain.NewAmount(5),
			Minter:      &domain.Minter{Address: "minter"},
		}); err != nil {
			return err
		}
		_, err := tx.IncreaseBalance(ctx, "addr2", domain.MaxAmount)
		return err
	}))
	before := takeSnapshot(t, store)

	_, err := svc.Mint(ctx, "minter", "addr2", domain.NewAmount(1))
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
	assert.Equal(t, before, takeSnapshot(t, store))

	_, err = svc.CheckSupply(ctx)
	assert.ErrorIs(t, err, ErrSupplyMismatch)
}

func TestMint_SinkFailureDoesNotFailMint(t *testing.T) {
	failing := &recordingSink{name: "failing", err: errors.New("sink down")}
	recording := &recordingSink{name: "recording"}
	svc, _ := newTestService(t, failing, recording)
	ctx := context.Background()
	require.NoError(t, svc.Init(ctx, cashRequest()))

	event, err := svc.Mint(ctx, "asmodat", "addr2", domain.NewAmount(5))
	require.NoError(t, err)
	require.Len(t, recording.events, 1)
	assert.Equal(t, event.ID, recording.events[0].ID)

	balance, err := svc.Balance(ctx, "addr2")
	require.NoError(t, err)
	assert.Equal(t, "5", balance.String())
}

func TestMint_StoreSink(t *testing.T) {
	events := memory.NewMintEventStore()
	svc, _ := newTestService(t, NewStoreSink("memory", events))
	ctx := context.Background()
	require.NoError(t, svc.Init(ctx, cashRequest()))

	_, err := svc.Mint(ctx, "asmodat", "addr2", domain.NewAmount(1))
	require.NoError(t, err)
	_, err = svc.Mint(ctx, "asmodat", "addr3", domain.NewAmount(2))
	require.NoError(t, err)

	all, err := events.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "addr2", all[0].To)
	assert.Equal(t, "addr3", all[1].To)
}

// auditLedger wraps a ledger whose transactions also record mint events.
type auditLedger struct {
	storage.Ledger
	events []*domain.MintEvent
	err    error
}

func (l *auditLedger) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	var pending []*domain.MintEvent
	err := l.Ledger.Update(ctx, func(tx storage.Tx) error {
		return fn(&auditTx{Tx: tx, ledger: l, pending: &pending})
	})
	if err == nil {
		l.events = append(l.events, pending...)
	}
	return err
}

type auditTx struct {
	storage.Tx
	ledger  *auditLedger
	pending *[]*domain.MintEvent
}

func (tx *auditTx) RecordMint(_ context.Context, e *domain.MintEvent) error {
	if tx.ledger.err != nil {
		return tx.ledger.err
	}
	*tx.pending = append(*tx.pending, e)
	return nil
}

func TestMint_RecordedInTransaction(t *testing.T) {
	store := &auditLedger{Ledger: memory.NewLedger()}
	sink := &recordingSink{name: "recording"}
	svc := New(Options{Store: store, Sinks: []EventSink{sink}, Logger: zerolog.Nop()})
	ctx := context.Background()
	require.NoError(t, svc.Init(ctx, cashRequest()))

	event, err := svc.Mint(ctx, "asmodat", "addr2", domain.NewAmount(7))
	require.NoError(t, err)
	require.Len(t, store.events, 1)
	assert.Equal(t, event.ID, store.events[0].ID)
	assert.Len(t, sink.events, 1)
}

func TestMint_RecordFailureRollsBack(t *testing.T) {
	store := &auditLedger{Ledger: memory.NewLedger()}
	sink := &recordingSink{name: "recording"}
	svc := New(Options{Store: store, Sinks: []EventSink{sink}, Logger: zerolog.Nop()})
	ctx := context.Background()
	require.NoError(t, svc.Init(ctx, cashRequest()))
	before := takeSnapshot(t, store)

	store.err = errors.New("audit table unavailable")
	_, err := svc.Mint(ctx, "asmodat", "addr2", domain.NewAmount(7))
	require.ErrorIs(t, err, store.err)

	assert.Equal(t, before, takeSnapshot(t, store))
	assert.Empty(t, store.events)
	assert.Empty(t, sink.events)
}

func TestMint_SolanaValidator(t *testing.T) {
	store := memory.NewLedger()
	svc := New(Options{Store: store, Validator: address.Solana{}})
	ctx := context.Background()

	const (
		minter    = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
		recipient = "11111111111111111111111111111111"
	)
	require.NoError(t, svc.Init(ctx, InitRequest{
		Name:   "Sol",
		Symbol: "SOLT",
		Mint:   &domain.Minter{Address: minter},
	}))

	_, err := svc.Mint(ctx, minter, recipient, domain.NewAmount(7))
	require.NoError(t, err)

	_, err = svc.Mint(ctx, minter, "addr2", domain.NewAmount(7))
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestBalance_UnknownIsZero(t *testing.T) {
	svc, _ := newTestService(t)

	balance, err := svc.Balance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestQueries_NotInitialized(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.TokenInfo(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = svc.MinterInfo(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = svc.CheckSupply(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestAllAccounts_Pagination(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var balances []domain.InitialBalance
	for _, addr := range []string{"carl", "alice", "dave", "bob", "erin"} {
		balances = append(balances, domain.InitialBalance{Address: addr, Amount: domain.NewAmount(1)})
	}
	require.NoError(t, svc.Init(ctx, InitRequest{Name: "Cash", Symbol: "CASH", InitialBalances: balances}))

	all, err := svc.AllAccounts(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carl", "dave", "erin"}, all)

	page, err := svc.AllAccounts(ctx, "bob", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"carl", "dave"}, page)

	empty, err := svc.AllAccounts(ctx, "erin", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAllAccounts_LimitClamped(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var balances []domain.InitialBalance
	for i := 0; i < 40; i++ {
		balances = append(balances, domain.InitialBalance{
			Address: "addr" + string(rune('a'+i/26)) + string(rune('a'+i%26)),
			Amount:  domain.NewAmount(1),
		})
	}
	require.NoError(t, svc.Init(ctx, InitRequest{Name: "Cash", Symbol: "CASH", InitialBalances: balances}))

	page, err := svc.AllAccounts(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, page, DefaultLimit)

	page, err = svc.AllAccounts(ctx, "", 100)
	require.NoError(t, err)
	assert.Len(t, page, MaxLimit)
}

func TestCheckSupply_ManyAccounts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var balances []domain.InitialBalance
	for i := 0; i < checkSupplyPage+10; i++ {
		balances = append(balances, domain.InitialBalance{
			Address: "acct" + string(rune('a'+i/26/26%26)) + string(rune('a'+i/26%26)) + string(rune('a'+i%26)),
			Amount:  domain.NewAmount(uint64(i)),
		})
	}
	require.NoError(t, svc.Init(ctx, InitRequest{Name: "Cash", Symbol: "CASH", InitialBalances: balances}))

	report, err := svc.CheckSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, checkSupplyPage+10, report.Accounts)
	// 0 + 1 + ... + 265
	assert.Equal(t, "35245", report.Sum.String())
}
