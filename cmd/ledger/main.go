// Command ledger runs and administers a capped single-minter token ledger.
//
// Usage:
//
//	ledger init --genesis genesis.yaml
//	ledger mint --sender asmodat --to addr2 --amount 1000
//	ledger balance addr2
//	ledger serve
//
// Every global flag defaults to its LEDGER_* environment variable.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"token-ledger/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(cfg, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// app carries the resolved configuration shared by every subcommand.
type app struct {
	cfg    config.Config
	logger zerolog.Logger
}

func newRootCmd(cfg config.Config, stdout, stderr io.Writer) *cobra.Command {
	a := &app{cfg: cfg}

	cmd := &cobra.Command{
		Use:          "ledger",
		Short:        "Capped single-minter token ledger",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			logger, err := config.NewLogger(a.cfg.LogLevel, a.cfg.LogFormat, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfg.Backend, "backend", cfg.Backend, "Ledger storage backend (memory, badger, postgres, sqlite)")
	flags.StringVar(&a.cfg.DataDir, "data-dir", cfg.DataDir, "Badger data directory")
	flags.StringVar(&a.cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	flags.StringVar(&a.cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database file")
	flags.StringVar(&a.cfg.ClickHouseDSN, "clickhouse-dsn", cfg.ClickHouseDSN, "ClickHouse connection string for the mint audit log")
	flags.StringVar(&a.cfg.AddressFormat, "address-format", cfg.AddressFormat, "Address format (basic, solana, solana-wallet)")
	flags.StringVar(&a.cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&a.cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (console, json)")

	cmd.AddCommand(
		a.initCmd(),
		a.mintCmd(),
		a.balanceCmd(),
		a.tokenCmd(),
		a.minterCmd(),
		a.accountsCmd(),
		a.checkSupplyCmd(),
		a.serveCmd(),
		a.watchCmd(),
	)

	return cmd
}
