// Package backend builds the event log and handler options a process runs on
// from its configuration.
package backend

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rcknight/ESSnapshots/adapters/kafka"
	"github.com/rcknight/ESSnapshots/adapters/nats"
	promadapter "github.com/rcknight/ESSnapshots/adapters/prometheus"
	"github.com/rcknight/ESSnapshots/adapters/sqlstore"
	"github.com/rcknight/ESSnapshots/core/es"
	"github.com/rcknight/ESSnapshots/internal/config"
)

type Backend struct {
	Log es.EventLog
	// Options configure a command handler for this backend. They do not
	// include WithSnapshots so callers can toggle it.
	Options []es.HandlerOption
	closers []func() error
}

// Open connects the configured event log, snapshot store and publisher.
// reg may be nil to skip metrics.
func Open(cfg config.Config, log *slog.Logger, reg prometheus.Registerer) (_ *Backend, err error) {
	b := &Backend{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	b.Options = append(b.Options,
		es.WithLog(log),
		es.WithPageSize(cfg.PageSize),
		es.WithSnapshotThreshold(cfg.SnapshotThreshold),
		es.WithConflictRetries(cfg.ConflictRetries),
	)
	if reg != nil {
		b.Options = append(b.Options, es.WithMetrics(promadapter.NewESMetrics(reg)))
	}

	switch cfg.Backend {
	case config.BackendMemory:
		b.Log = es.NewInMemoryLog()

	case config.BackendSQLite:
		s, err := sqlstore.OpenSQLite(cfg.SQLitePath, sqlstore.WithLog(log))
		if err != nil {
			return nil, err
		}
		b.Log = s
		b.closers = append(b.closers, s.Close)

	case config.BackendPostgres:
		s, err := sqlstore.OpenPostgres(cfg.PostgresDSN, sqlstore.WithLog(log))
		if err != nil {
			return nil, err
		}
		b.Log = s
		b.closers = append(b.closers, s.Close)

	case config.BackendNats:
		connect := nats.ReuseConnection(nats.ConnectURL(cfg.NatsURL))
		l, err := nats.NewEventLog(nats.EventLogConfig{Connect: connect, Log: log})
		if err != nil {
			return nil, err
		}
		b.Log = l
		b.closers = append(b.closers, func() error { l.Close(); return nil })

		if cfg.SnapshotStore == config.SnapshotsKV {
			snapshotter, kvStore, err := nats.NewSnapshotter(nats.KvConfig{Connect: connect, Bucket: "es_snapshots"})
			if err != nil {
				return nil, err
			}
			b.closers = append(b.closers, func() error { kvStore.Close(); return nil })
			b.Options = append(b.Options, es.WithSnapshotter(snapshotter))
		}

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	if len(cfg.KafkaBrokers) > 0 {
		p, err := kafka.NewPublisher(kafka.PublisherConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Log:     log,
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, p.Close)
		b.Options = append(b.Options, es.WithPublisher(p))
	}

	log.Info(
		"backend ready",
		slog.String("backend", cfg.Backend),
		slog.String("snapshot_store", cfg.SnapshotStore),
		slog.Bool("kafka", len(cfg.KafkaBrokers) > 0),
	)
	return b, nil
}

// Close releases everything Open acquired, newest first.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	b.closers = nil
	return errors.Join(errs...)
}
