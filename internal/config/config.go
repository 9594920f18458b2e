// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const Prefix = "ESS_"

const (
	BackendMemory   = "memory"
	BackendNats     = "nats"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	SnapshotsLog = "log"
	SnapshotsKV  = "kv"
)

type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	// Backend selects the event log: memory, nats, sqlite or postgres.
	Backend     string `env:"BACKEND" envDefault:"memory"`
	NatsURL     string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"essnapshots.db"`
	PostgresDSN string `env:"POSTGRES_DSN"`

	// SnapshotStore is "log" (snapshot streams) or "kv" (NATS key-value, nats backend only).
	SnapshotStore     string `env:"SNAPSHOT_STORE" envDefault:"log"`
	SnapshotThreshold int    `env:"SNAPSHOT_THRESHOLD" envDefault:"250"`
	PageSize          int    `env:"PAGE_SIZE" envDefault:"250"`
	ConflictRetries   int    `env:"CONFLICT_RETRIES" envDefault:"3"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"resource-events"`

	MetricsAddr string `env:"METRICS_ADDR"`

	Demo Demo `envPrefix:"DEMO_"`
	Load Load `envPrefix:"LOAD_"`
}

// Demo drives cmd/snapshotdemo.
type Demo struct {
	Bookings int `env:"BOOKINGS" envDefault:"1000"`
}

// Load drives cmd/loadtest.
type Load struct {
	Resources int           `env:"RESOURCES" envDefault:"20"`
	Workers   int           `env:"WORKERS" envDefault:"16"`
	Duration  time.Duration `env:"DURATION" envDefault:"10s"`
	// Serialize runs commands per resource one at a time in process.
	Serialize bool `env:"SERIALIZE" envDefault:"true"`
}

// Parse reads ESS_* variables into a Config and validates it.
func Parse() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendMemory, BackendNats, BackendSQLite:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres backend needs POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	switch c.SnapshotStore {
	case SnapshotsLog:
	case SnapshotsKV:
		if c.Backend != BackendNats {
			errs = append(errs, errors.New("kv snapshot store needs the nats backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown snapshot store %q", c.SnapshotStore))
	}
	if c.SnapshotThreshold <= 0 {
		errs = append(errs, errors.New("snapshot threshold must be positive"))
	}
	if c.PageSize <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}
	if c.ConflictRetries < 0 {
		errs = append(errs, errors.New("conflict retries must not be negative"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level: %w", err)
	}
	return lvl, nil
}
