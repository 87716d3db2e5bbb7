package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"token-ledger/internal/api"
	"token-ledger/internal/feed"
	"token-ledger/internal/storage/memory"
	"token-ledger/internal/telemetry"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ledger over HTTP with a websocket event feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&a.cfg.HTTPAddr, "http-addr", a.cfg.HTTPAddr, "HTTP listen address")
	cmd.Flags().DurationVar(&a.cfg.ShutdownTimeout, "shutdown-timeout", a.cfg.ShutdownTimeout, "Graceful shutdown timeout")
	cmd.Flags().StringVar(&a.cfg.OTelEndpoint, "otel-endpoint", a.cfg.OTelEndpoint, "OTLP/HTTP trace endpoint (tracing disabled when empty)")

	return cmd
}

func (a *app) serve(ctx context.Context) error {
	shutdownTracing, err := telemetry.Setup(ctx, "token-ledger", a.cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			a.logger.Warn().Err(err).Msg("flush traces")
		}
	}()

	s, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	// Without a durable audit log the process keeps its own, so /v1/mints
	// still answers for mints served by this process.
	if s.events == nil {
		s.events = memory.NewMintEventStore()
		s.sink = "memory"
	}

	hub := feed.NewHub(nil, a.logger)
	defer hub.Close()

	svc, err := a.newService(s, hub)
	if err != nil {
		return err
	}

	handler := api.NewServer(api.Options{
		Ledger: svc,
		Events: s.events,
		Feed:   hub,
		Logger: a.logger,
	}).Handler()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().
			Str("addr", a.cfg.HTTPAddr).
			Str("backend", a.cfg.Backend).
			Str("audit_log", s.sink).
			Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down")

	// Subscribers hold hijacked connections that Shutdown does not track.
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (a *app) watchCmd() *cobra.Command {
	var endpoint string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream committed mint events from a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := feed.NewClient(cmd.Context(), endpoint, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			a.logger.Info().Str("endpoint", endpoint).Msg("watching mint events")

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case event, ok := <-client.Events():
					if !ok {
						return nil
					}
					if err := enc.Encode(mintOutput{Event: event, Attributes: event.Attributes()}); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&endpoint, "url", "ws://localhost:8080/v1/events", "Feed endpoint of a running server")

	return cmd
}
