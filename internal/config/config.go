// Package config loads runtime settings from the environment, optionally
// seeded from a .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// Backend selects the persistence provider.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendJSON   Backend = "json"
)

// Config holds all runtime settings.
type Config struct {
	Backend    Backend
	DBPath     string // SQLite database file
	DataDir    string // directory of the JSON data files
	LoanDays   int
	FineRate   decimal.Decimal // per overdue day
	BcryptCost int
	AMQPURL    string // empty disables event publishing
	AMQPQueue  string
	LogLevel   slog.Level
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Backend:    BackendSQLite,
		DBPath:     "library.db",
		DataDir:    "library/data",
		LoanDays:   14,
		FineRate:   decimal.RequireFromString("0.50"),
		BcryptCost: bcrypt.DefaultCost,
		AMQPQueue:  "library.events",
		LogLevel:   slog.LevelInfo,
	}
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an environment lookup function, starting
// from Default. Set but invalid values are errors.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("LIBRARY_BACKEND"); ok {
		switch b := Backend(strings.ToLower(v)); b {
		case BackendSQLite, BackendJSON:
			cfg.Backend = b
		default:
			return Config{}, fmt.Errorf("LIBRARY_BACKEND: unknown backend %q", v)
		}
	}
	if v, ok := get("LIBRARY_DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := get("LIBRARY_DATA_DIR"); ok {
		cfg.DataDir = v
	}
	if v, ok := get("LIBRARY_LOAN_DAYS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("LIBRARY_LOAN_DAYS: want a positive integer, got %q", v)
		}
		cfg.LoanDays = n
	}
	if v, ok := get("LIBRARY_FINE_RATE"); ok {
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			return Config{}, fmt.Errorf("LIBRARY_FINE_RATE: want a non-negative amount, got %q", v)
		}
		cfg.FineRate = d
	}
	if v, ok := get("LIBRARY_BCRYPT_COST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < bcrypt.MinCost || n > bcrypt.MaxCost {
			return Config{}, fmt.Errorf("LIBRARY_BCRYPT_COST: want %d..%d, got %q", bcrypt.MinCost, bcrypt.MaxCost, v)
		}
		cfg.BcryptCost = n
	}
	if v, ok := get("LIBRARY_AMQP_URL"); ok {
		cfg.AMQPURL = v
	}
	if v, ok := get("LIBRARY_AMQP_QUEUE"); ok {
		cfg.AMQPQueue = v
	}
	if v, ok := get("LIBRARY_LOG_LEVEL"); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return Config{}, fmt.Errorf("LIBRARY_LOG_LEVEL: %w", err)
		}
	}
	return cfg, nil
}

// ErrUnknownBackend is returned by Validate for a Backend outside the known set.
var ErrUnknownBackend = errors.New("unknown backend")

// Validate checks settings that may have been changed after loading, such as
// by command-line flags.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite:
		if c.DBPath == "" {
			return errors.New("sqlite backend needs a database path")
		}
	case BackendJSON:
		if c.DataDir == "" {
			return errors.New("json backend needs a data directory")
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownBackend, c.Backend)
	}
	if c.LoanDays <= 0 {
		return errors.New("loan days must be positive")
	}
	return nil
}
