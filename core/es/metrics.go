package es

import "github.com/rcknight/ESSnapshots/core/metrics"

// Command outcomes reported to ESMetrics.CommandHandled.
const (
	OutcomeCommitted = "committed"
	OutcomeNoop      = "noop"
	OutcomeRejected  = "rejected"
	OutcomeConflict  = "conflict"
	OutcomeFailed    = "failed"
)

// ESMetrics defines the metrics interface for hydration and command handling.
// Implementations must be safe for concurrent use.
type ESMetrics interface {
	// Hydration
	HydrateDuration(aggType string) metrics.Timer
	EventsReplayed(aggType string, count int)
	PagesRead(aggType string, count int)

	// Writes
	AppendDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)
	ConcurrencyConflict(aggType string)
	CommandHandled(aggType string, outcome string)

	// Snapshots
	SnapshotLoadDuration(aggType string) metrics.Timer
	SnapshotSaveDuration(aggType string) metrics.Timer
	SnapshotLoaded(aggType string, found bool)
}

// nopESMetrics is a no-op implementation of ESMetrics.
type nopESMetrics struct{}

func (nopESMetrics) HydrateDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsReplayed(string, int)           {}
func (nopESMetrics) PagesRead(string, int)                {}

func (nopESMetrics) AppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)          {}
func (nopESMetrics) ConcurrencyConflict(string)          {}
func (nopESMetrics) CommandHandled(string, string)       {}

func (nopESMetrics) SnapshotLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) SnapshotLoaded(string, bool)               {}

// NopESMetrics returns a no-op ESMetrics implementation.
func NopESMetrics() ESMetrics { return nopESMetrics{} }
