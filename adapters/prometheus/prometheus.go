// Package prometheus implements the es.ESMetrics hooks on top of
// prometheus/client_golang.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rcknight/ESSnapshots/core/metrics"
)

// Namespace prefixes every metric name.
const Namespace = "essnapshots"

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// Buckets for per-hydration event and page counts.
var countBuckets = prometheus.ExponentialBuckets(1, 4, 10)

func newTimer(h prometheus.Observer) metrics.Timer { return metrics.NewTimer(h) }

func histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "es",
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "es",
		Name:      name,
		Help:      help,
	}, labels)
}
