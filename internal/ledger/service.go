// Package ledger implements token initialization, capped minting and the
// read-only queries over a storage.Ledger.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"token-ledger/internal/address"
	"token-ledger/internal/domain"
	"token-ledger/internal/idhash"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
)

// Pagination bounds for AllAccounts.
const (
	DefaultLimit = 10
	MaxLimit     = 30
)

// checkSupplyPage is the page size CheckSupply scans balances with.
const checkSupplyPage = 256

// InitRequest describes the token created by Init.
type InitRequest struct {
	Name            string
	Symbol          string
	Decimals        uint8
	InitialBalances []domain.InitialBalance // duplicates are summed
	Mint            *domain.Minter          // nil: minting disabled
}

// SupplyReport is the result of CheckSupply.
type SupplyReport struct {
	TotalSupply domain.Amount `json:"total_supply"`
	Sum         domain.Amount `json:"sum"`
	Accounts    int           `json:"accounts"`
}

// Service runs ledger operations. Every operation is one store transaction.
type Service struct {
	store     storage.Ledger
	validator address.Validator
	sinks     []EventSink
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// Options for creating Service.
type Options struct {
	// Required
	Store storage.Ledger

	// Optional
	Validator address.Validator // default: address.Basic
	Sinks     []EventSink       // receive committed mint events, in order
	Logger    zerolog.Logger    // zero value discards output
	Tracer    trace.Tracer      // default: global otel tracer
	Clock     func() time.Time  // default: time.Now
}

// New creates a new Service.
func New(opts Options) *Service {
	s := &Service{
		store:     opts.Store,
		validator: opts.Validator,
		sinks:     opts.Sinks,
		logger:    opts.Logger.With().Str("component", "ledger").Logger(),
		tracer:    opts.Tracer,
		now:       opts.Clock,
	}
	if s.validator == nil {
		s.validator = address.Basic{}
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("token-ledger/internal/ledger")
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Init creates the token metadata and the initial distribution.
// Duplicate addresses in the distribution are summed.
func (s *Service) Init(ctx context.Context, req InitRequest) (err error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Init", trace.WithAttributes(
		attribute.String("token.symbol", req.Symbol),
		attribute.Int("token.initial_balances", len(req.InitialBalances)),
	))
	start := time.Now()
	defer func() {
		observability.RecordInit(time.Since(start).Seconds(), err)
		endSpan(span, err)
	}()

	if req.Decimals > domain.MaxDecimals {
		return ErrInvalidDecimals
	}

	var info *domain.TokenInfo
	err = s.store.Update(ctx, func(tx storage.Tx) error {
		if _, err := tx.Token(ctx); err == nil {
			return ErrAlreadyInitialized
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("load token info: %w", err)
		}

		balances, order, supply, err := s.aggregate(req.InitialBalances)
		if err != nil {
			return err
		}

		var minter *domain.Minter
		if req.Mint != nil {
			addr, err := s.validator.Validate(req.Mint.Address)
			if err != nil {
				return err
			}
			minter = &domain.Minter{Address: addr}
			if req.Mint.Cap != nil {
				capValue := *req.Mint.Cap
				if supply.Cmp(capValue) > 0 {
					return fmt.Errorf("%w: initial supply %s, cap %s", ErrCapExceeded, supply, capValue)
				}
				minter.Cap = &capValue
			}
		}

		for _, addr := range order {
			if _, err := tx.IncreaseBalance(ctx, addr, balances[addr]); err != nil {
				return mapOverflow(err)
			}
		}

		info = &domain.TokenInfo{
			Name:        req.Name,
			Symbol:      req.Symbol,
			Decimals:    req.Decimals,
			TotalSupply: supply,
			Minter:      minter,
		}
		return tx.SaveToken(ctx, info)
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", req.Symbol).Msg("init rejected")
		return err
	}

	observability.UpdateTotalSupply(info.TotalSupply.Float64())
	event := s.logger.Info().
		Str("name", info.Name).
		Str("symbol", info.Symbol).
		Uint8("decimals", info.Decimals).
		Stringer("total_supply", info.TotalSupply).
		Int("accounts", len(req.InitialBalances))
	if info.Minter != nil {
		event = event.Str("minter", info.Minter.Address)
	}
	event.Msg("ledger initialized")
	return nil
}

// aggregate validates the initial distribution, sums duplicate addresses and
// returns the per-address totals in first-seen order with the overall supply.
func (s *Service) aggregate(entries []domain.InitialBalance) (map[string]domain.Amount, []string, domain.Amount, error) {
	balances := make(map[string]domain.Amount, len(entries))
	var (
		order  []string
		supply domain.Amount
	)
	for _, entry := range entries {
		addr, err := s.validator.Validate(entry.Address)
		if err != nil {
			return nil, nil, domain.Amount{}, err
		}
		if supply, err = supply.CheckedAdd(entry.Amount); err != nil {
			return nil, nil, domain.Amount{}, mapOverflow(err)
		}
		current, seen := balances[addr]
		if !seen {
			order = append(order, addr)
		}
		// Cannot overflow: current + amount <= supply.
		balances[addr], _ = current.CheckedAdd(entry.Amount)
	}
	return balances, order, supply, nil
}

// Mint creates amount new units for recipient. Only the configured minter may
// call it, and the total supply may never exceed the cap. Mints are not
// idempotent: every successful call credits the recipient again.
func (s *Service) Mint(ctx context.Context, caller, recipient string, amount domain.Amount) (_ *domain.MintEvent, err error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Mint", trace.WithAttributes(
		attribute.String("mint.caller", caller),
		attribute.String("mint.recipient", recipient),
		attribute.String("mint.amount", amount.String()),
	))
	start := time.Now()
	defer func() {
		observability.RecordMint(amount.Float64(), time.Since(start).Seconds(), err)
		endSpan(span, err)
	}()

	var event *domain.MintEvent
	err = s.store.Update(ctx, func(tx storage.Tx) error {
		info, err := tx.Token(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrUnauthorized
			}
			return fmt.Errorf("load token info: %w", err)
		}
		if info.Minter == nil || info.Minter.Address != caller {
			return ErrUnauthorized
		}

		to, err := s.validator.Validate(recipient)
		if err != nil {
			return err
		}

		newTotal, err := info.TotalSupply.CheckedAdd(amount)
		if err != nil {
			return mapOverflow(err)
		}
		if limit, ok := info.Cap(); ok && newTotal.Cmp(limit) > 0 {
			return fmt.Errorf("%w: total supply %s, cap %s", ErrCapExceeded, newTotal, limit)
		}

		// A zero mint leaves balances untouched but is still recorded.
		if !amount.IsZero() {
			if _, err := tx.IncreaseBalance(ctx, to, amount); err != nil {
				return mapOverflow(err)
			}
		}

		info.TotalSupply = newTotal
		info.MintSequence++
		if err := tx.SaveToken(ctx, info); err != nil {
			return err
		}

		event = &domain.MintEvent{
			ID:          idhash.ComputeMintEventID(info.MintSequence, to, amount),
			Sequence:    info.MintSequence,
			Action:      domain.ActionMint,
			To:          to,
			Amount:      amount,
			TotalSupply: newTotal,
			CreatedAt:   s.now().UnixMilli(),
		}
		if rec, ok := tx.(storage.MintRecorder); ok {
			if err := rec.RecordMint(ctx, event); err != nil {
				return fmt.Errorf("record mint event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("caller", caller).
			Str("recipient", recipient).
			Stringer("amount", amount).
			Msg("mint rejected")
		return nil, err
	}

	observability.UpdateTotalSupply(event.TotalSupply.Float64())
	s.logger.Info().
		Uint64("sequence", event.Sequence).
		Str("to", event.To).
		Stringer("amount", event.Amount).
		Stringer("total_supply", event.TotalSupply).
		Msg("minted")

	s.publish(ctx, event)
	return event, nil
}

// publish hands a committed event to every sink. Failures are logged only:
// the mint is already durable. Stores whose transactions implement
// storage.MintRecorder have already recorded it.
func (s *Service) publish(ctx context.Context, e *domain.MintEvent) {
	for _, sink := range s.sinks {
		err := sink.Publish(ctx, e)
		observability.RecordEventPublished(sink.Name(), err)
		if err != nil {
			s.logger.Error().Err(err).
				Str("sink", sink.Name()).
				Str("event_id", e.ID).
				Uint64("sequence", e.Sequence).
				Msg("publish mint event")
		}
	}
}

// Balance returns the balance of addr. Unknown addresses hold zero.
func (s *Service) Balance(ctx context.Context, addr string) (domain.Amount, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Balance")
	defer span.End()
	defer observeQuery("balance", time.Now())

	var balance domain.Amount
	err := s.store.View(ctx, func(tx storage.ReadTx) error {
		var err error
		balance, err = tx.Balance(ctx, addr)
		return err
	})
	return balance, err
}

// TokenInfo returns the public token metadata.
func (s *Service) TokenInfo(ctx context.Context) (domain.Metadata, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.TokenInfo")
	defer span.End()
	defer observeQuery("token_info", time.Now())

	info, err := s.load(ctx)
	if err != nil {
		return domain.Metadata{}, err
	}
	return info.Metadata(), nil
}

// MinterInfo returns the minter configuration, or nil when minting is disabled.
func (s *Service) MinterInfo(ctx context.Context) (*domain.Minter, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.MinterInfo")
	defer span.End()
	defer observeQuery("minter", time.Now())

	info, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return info.Minter, nil
}

// AllAccounts lists addresses holding an entry, in ascending order, starting
// after startAfter. limit defaults to DefaultLimit and is clamped to MaxLimit.
func (s *Service) AllAccounts(ctx context.Context, startAfter string, limit int) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.AllAccounts")
	defer span.End()
	defer observeQuery("all_accounts", time.Now())

	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	accounts := []string{}
	err := s.store.View(ctx, func(tx storage.ReadTx) error {
		page, err := tx.Balances(ctx, startAfter, limit)
		if err != nil {
			return err
		}
		for _, b := range page {
			accounts = append(accounts, b.Address)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// CheckSupply recomputes the sum of all balances and compares it with the
// recorded total supply in a single snapshot.
func (s *Service) CheckSupply(ctx context.Context) (SupplyReport, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.CheckSupply")
	defer span.End()
	defer observeQuery("check_supply", time.Now())

	var report SupplyReport
	err := s.store.View(ctx, func(tx storage.ReadTx) error {
		info, err := tx.Token(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrNotInitialized
			}
			return err
		}
		report.TotalSupply = info.TotalSupply

		var overflow bool
		cursor := ""
		for {
			page, err := tx.Balances(ctx, cursor, checkSupplyPage)
			if err != nil {
				return err
			}
			for _, b := range page {
				report.Accounts++
				if sum, err := report.Sum.CheckedAdd(b.Amount); err != nil {
					overflow = true
				} else {
					report.Sum = sum
				}
			}
			if len(page) < checkSupplyPage {
				break
			}
			cursor = page[len(page)-1].Address
		}

		if overflow || !report.Sum.Equal(report.TotalSupply) {
			return fmt.Errorf("%w: balances %s, total supply %s", ErrSupplyMismatch, report.Sum, report.TotalSupply)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrSupplyMismatch) {
			s.logger.Error().Err(err).Int("accounts", report.Accounts).Msg("supply check failed")
		}
	}
	return report, err
}

// load reads the token record, translating absence into ErrNotInitialized.
func (s *Service) load(ctx context.Context) (*domain.TokenInfo, error) {
	var info *domain.TokenInfo
	err := s.store.View(ctx, func(tx storage.ReadTx) error {
		var err error
		info, err = tx.Token(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}
	return info, nil
}

func mapOverflow(err error) error {
	if errors.Is(err, domain.ErrOverflow) {
		return fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
	}
	return err
}

func observeQuery(operation string, start time.Time) {
	observability.RecordQuery(operation, time.Since(start).Seconds())
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
