// Package metrics holds the instrumentation interfaces the core reports to.
// Backends such as adapters/prometheus implement them; core code never
// imports a backend.
package metrics

import "time"

// Counter is a monotonically increasing metric.
type Counter interface {
	Inc()
	// Add increments the counter by delta. delta must be >= 0.
	Add(delta float64)
}

// Histogram samples observations in configurable buckets.
type Histogram interface {
	Observe(value float64)
}

// Timer measures one operation. Call ObserveDuration when it completes:
//
//	defer m.HydrateDuration("resource").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

type histogramTimer struct {
	h     Histogram
	start time.Time
	now   func() time.Time
}

// NewTimer starts a Timer that observes the elapsed seconds into h.
func NewTimer(h Histogram) Timer {
	return &histogramTimer{h: h, start: time.Now(), now: time.Now}
}

func (t *histogramTimer) ObserveDuration() {
	t.h.Observe(t.now().Sub(t.start).Seconds())
}
