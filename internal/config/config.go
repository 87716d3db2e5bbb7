// Package config loads runtime configuration from the environment and the
// genesis document.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config is the process configuration. Every field can be overridden by a
// command-line flag of the same meaning.
type Config struct {
	Backend       string `env:"LEDGER_BACKEND"        envDefault:"badger"`
	DataDir       string `env:"LEDGER_DATA_DIR"       envDefault:"./data"`
	PostgresDSN   string `env:"LEDGER_POSTGRES_DSN"`
	SQLitePath    string `env:"LEDGER_SQLITE_PATH"    envDefault:"./ledger.db"`
	ClickHouseDSN string `env:"LEDGER_CLICKHOUSE_DSN"`
	AddressFormat string `env:"LEDGER_ADDRESS_FORMAT" envDefault:"basic"`

	HTTPAddr        string        `env:"LEDGER_HTTP_ADDR"        envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"LEDGER_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel     string `env:"LEDGER_LOG_LEVEL"     envDefault:"info"`
	LogFormat    string `env:"LEDGER_LOG_FORMAT"    envDefault:"console"`
	OTelEndpoint string `env:"LEDGER_OTEL_ENDPOINT"`
}

// Load reads Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendBadger:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres backend requires LEDGER_POSTGRES_DSN")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("sqlite backend requires LEDGER_SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}
	return nil
}

// NewLogger builds the process logger. format is "console" or "json".
func NewLogger(level, format string, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parse log level: %w", err)
	}

	switch format {
	case "console", "":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format: %s", format)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
