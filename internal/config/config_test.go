package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)
	require.Equal(t, BackendMemory, cfg.Backend)
	require.Equal(t, SnapshotsLog, cfg.SnapshotStore)
	require.Equal(t, 250, cfg.SnapshotThreshold)
	require.Equal(t, 250, cfg.PageSize)
	require.Equal(t, 1000, cfg.Demo.Bookings)
	require.Equal(t, 10*time.Second, cfg.Load.Duration)
	require.True(t, cfg.Load.Serialize)

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, lvl)
}

func TestParse_FromEnv(t *testing.T) {
	t.Setenv("ESS_BACKEND", "nats")
	t.Setenv("ESS_SNAPSHOT_STORE", "kv")
	t.Setenv("ESS_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("ESS_DEMO_BOOKINGS", "300")
	t.Setenv("ESS_LOAD_SERIALIZE", "false")
	t.Setenv("ESS_LOG_LEVEL", "debug")

	cfg, err := Parse()
	require.NoError(t, err)
	require.Equal(t, BackendNats, cfg.Backend)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 300, cfg.Demo.Bookings)
	require.False(t, cfg.Load.Serialize)

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, lvl)
}

func TestValidate(t *testing.T) {
	for name, env := range map[string]map[string]string{
		"unknown backend":   {"ESS_BACKEND": "mongo"},
		"postgres no dsn":   {"ESS_BACKEND": "postgres"},
		"kv without nats":   {"ESS_SNAPSHOT_STORE": "kv"},
		"zero threshold":    {"ESS_SNAPSHOT_THRESHOLD": "0"},
		"bad log level":     {"ESS_LOG_LEVEL": "loud"},
		"negative retries":  {"ESS_CONFLICT_RETRIES": "-1"},
		"unknown snapshots": {"ESS_SNAPSHOT_STORE": "s3"},
	} {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Parse()
			require.Error(t, err)
		})
	}
}
