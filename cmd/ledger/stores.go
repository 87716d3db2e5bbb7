package main

import (
	"context"
	"fmt"

	"token-ledger/internal/address"
	"token-ledger/internal/config"
	"token-ledger/internal/ledger"
	"token-ledger/internal/storage"
	"token-ledger/internal/storage/badgerdb"
	chstore "token-ledger/internal/storage/clickhouse"
	"token-ledger/internal/storage/memory"
	"token-ledger/internal/storage/migrations"
	pgstore "token-ledger/internal/storage/postgres"
	"token-ledger/internal/storage/sqlite"
)

// stores holds the opened ledger backend and the optional mint audit log.
type stores struct {
	ledger storage.Ledger
	events storage.MintEventStore // nil when no durable audit log is configured
	sink   string
	// inTx is set when the ledger backend writes the audit log inside its own
	// transactions, so no post-commit sink is needed for it.
	inTx bool

	closers []func()
}

// Close releases every opened resource in reverse order.
func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores opens the configured ledger backend. The audit log is ClickHouse
// when a DSN is given, otherwise the postgres backend's own mint_events table,
// which the postgres ledger fills in the mint transaction.
func (a *app) openStores(ctx context.Context) (*stores, error) {
	s := &stores{}
	var pool *pgstore.Pool

	switch a.cfg.Backend {
	case config.BackendMemory:
		s.ledger = memory.NewLedger()
	case config.BackendBadger:
		l, err := badgerdb.Open(a.cfg.DataDir, a.logger)
		if err != nil {
			return nil, err
		}
		s.ledger = l
	case config.BackendPostgres:
		p, err := pgstore.NewPool(ctx, a.cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, p); err != nil {
			p.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		pool = p
		s.ledger = pgstore.NewLedger(p)
	case config.BackendSQLite:
		l, err := sqlite.Open(ctx, a.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.ledger = l
	default:
		return nil, fmt.Errorf("unknown backend: %s", a.cfg.Backend)
	}
	s.closers = append(s.closers, func() {
		if err := s.ledger.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close ledger")
		}
	})
	if pool != nil {
		s.closers = append(s.closers, pool.Close)
	}

	switch {
	case a.cfg.ClickHouseDSN != "":
		conn, err := migrations.RunClickhouseMigrations(ctx, a.cfg.ClickHouseDSN)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		s.closers = append(s.closers, func() { conn.Close() })
		s.events = chstore.NewMintEventStore(conn)
		s.sink = "clickhouse"
	case pool != nil:
		s.events = pgstore.NewMintEventStore(pool)
		s.sink = "postgres"
		s.inTx = true
	}

	a.logger.Debug().
		Str("backend", a.cfg.Backend).
		Str("audit_log", s.sink).
		Msg("stores opened")

	return s, nil
}

// newService builds the ledger service over s, publishing to the audit log
// (when configured) followed by extra.
func (a *app) newService(s *stores, extra ...ledger.EventSink) (*ledger.Service, error) {
	validator, err := address.New(a.cfg.AddressFormat)
	if err != nil {
		return nil, err
	}

	var sinks []ledger.EventSink
	if s.events != nil && !s.inTx {
		sinks = append(sinks, ledger.NewStoreSink(s.sink, s.events))
	}
	sinks = append(sinks, extra...)

	return ledger.New(ledger.Options{
		Store:     s.ledger,
		Validator: validator,
		Sinks:     sinks,
		Logger:    a.logger,
	}), nil
}

// withService opens the stores, runs fn and closes everything afterwards.
func (a *app) withService(ctx context.Context, fn func(svc *ledger.Service) error) error {
	s, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	svc, err := a.newService(s)
	if err != nil {
		return err
	}
	return fn(svc)
}
