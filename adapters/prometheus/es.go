package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rcknight/ESSnapshots/core/es"
	"github.com/rcknight/ESSnapshots/core/metrics"
)

// esMetrics implements es.ESMetrics using Prometheus.
type esMetrics struct {
	// Hydration
	hydrateDuration *prometheus.HistogramVec
	eventsReplayed  *prometheus.HistogramVec
	pagesRead       *prometheus.HistogramVec

	// Writes
	appendDuration       *prometheus.HistogramVec
	eventsAppended       *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec
	commands             *prometheus.CounterVec

	// Snapshots
	snapshotLoadDuration *prometheus.HistogramVec
	snapshotSaveDuration *prometheus.HistogramVec
	snapshotLoads        *prometheus.CounterVec
}

// NewESMetrics creates a Prometheus implementation of es.ESMetrics and
// registers it with reg.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		hydrateDuration: histogram("hydrate_duration_seconds",
			"Time to rebuild an aggregate from snapshot and events", defaultBuckets, "aggregate_type"),
		eventsReplayed: histogram("hydrate_events_replayed",
			"Events replayed per hydration", countBuckets, "aggregate_type"),
		pagesRead: histogram("hydrate_pages_read",
			"Forward read pages per hydration", countBuckets, "aggregate_type"),

		appendDuration: histogram("append_duration_seconds",
			"Event log append latency in seconds", defaultBuckets, "aggregate_type"),
		eventsAppended: counter("events_appended_total",
			"Total number of events appended", "aggregate_type"),
		concurrencyConflicts: counter("concurrency_conflicts_total",
			"Total number of optimistic concurrency failures", "aggregate_type"),
		commands: counter("commands_total",
			"Commands handled by outcome", "aggregate_type", "outcome"),

		snapshotLoadDuration: histogram("snapshot_load_duration_seconds",
			"Snapshot load latency in seconds", defaultBuckets, "aggregate_type"),
		snapshotSaveDuration: histogram("snapshot_save_duration_seconds",
			"Snapshot save latency in seconds", defaultBuckets, "aggregate_type"),
		snapshotLoads: counter("snapshot_loads_total",
			"Snapshot lookups by whether one was found", "aggregate_type", "found"),
	}

	reg.MustRegister(
		m.hydrateDuration,
		m.eventsReplayed,
		m.pagesRead,
		m.appendDuration,
		m.eventsAppended,
		m.concurrencyConflicts,
		m.commands,
		m.snapshotLoadDuration,
		m.snapshotSaveDuration,
		m.snapshotLoads,
	)

	return m
}

func (m *esMetrics) HydrateDuration(aggType string) metrics.Timer {
	return newTimer(m.hydrateDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsReplayed(aggType string, count int) {
	m.eventsReplayed.WithLabelValues(aggType).Observe(float64(count))
}

func (m *esMetrics) PagesRead(aggType string, count int) {
	m.pagesRead.WithLabelValues(aggType).Observe(float64(count))
}

func (m *esMetrics) AppendDuration(aggType string) metrics.Timer {
	return newTimer(m.appendDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CommandHandled(aggType string, outcome string) {
	m.commands.WithLabelValues(aggType, outcome).Inc()
}

func (m *esMetrics) SnapshotLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotLoaded(aggType string, found bool) {
	m.snapshotLoads.WithLabelValues(aggType, strconv.FormatBool(found)).Inc()
}

var _ es.ESMetrics = (*esMetrics)(nil)
