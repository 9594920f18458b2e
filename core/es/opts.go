package es

import (
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultPageSize is the number of records read per forward read.
	DefaultPageSize = 250
	// DefaultSnapshotThreshold writes a snapshot whenever (version+1) is a
	// multiple of it.
	DefaultSnapshotThreshold = 250

	instrumentationName = "github.com/rcknight/ESSnapshots/core/es"
)

// IDGenerator is a function that generates unique IDs for records and snapshots.
type IDGenerator func() string

// DefaultIDGenerator returns the default ID generator using nanoid.
func DefaultIDGenerator() IDGenerator {
	return func() string { return gonanoid.Must() }
}

type (
	hydratorOpts struct {
		log         *slog.Logger
		snapshots   bool
		snapshotter Snapshotter
		pageSize    int
		streams     StreamNamer
		metrics     ESMetrics
		tracer      trace.Tracer
	}

	handlerOpts struct {
		hydratorOpts
		threshold int
		retries   int
		publisher Publisher
		newID     IDGenerator
		now       func() time.Time
	}

	HydratorOption interface{ applyToHydrator(*hydratorOpts) }
	HandlerOption  interface{ applyToHandler(*handlerOpts) }
)

type (
	valueOption[T any]      struct{ v T }
	LogOption               valueOption[*slog.Logger]
	SnapshotsOption         valueOption[bool]
	SnapshotterOption       valueOption[Snapshotter]
	PageSizeOption          valueOption[int]
	StreamNamerOption       valueOption[StreamNamer]
	ESMetricsOption         valueOption[ESMetrics]
	TracerOption            valueOption[trace.Tracer]
	SnapshotThresholdOption valueOption[int]
	ConflictRetriesOption   valueOption[int]
	PublisherOption         valueOption[Publisher]
	IDGeneratorOption       valueOption[IDGenerator]
	ClockOption             valueOption[func() time.Time]
)

func WithLog(l *slog.Logger) LogOption { return LogOption{v: l} }

// WithSnapshots turns loading and writing snapshots on or off (default on).
func WithSnapshots(enabled bool) SnapshotsOption { return SnapshotsOption{v: enabled} }

// WithSnapshotter replaces the default LogSnapshotter.
func WithSnapshotter(s Snapshotter) SnapshotterOption { return SnapshotterOption{v: s} }

func WithPageSize(n int) PageSizeOption                  { return PageSizeOption{v: n} }
func WithStreamNamer(n StreamNamer) StreamNamerOption    { return StreamNamerOption{v: n} }
func WithMetrics(m ESMetrics) ESMetricsOption            { return ESMetricsOption{v: m} }
func WithTracer(t trace.Tracer) TracerOption             { return TracerOption{v: t} }
func WithIDGenerator(gen IDGenerator) IDGeneratorOption  { return IDGeneratorOption{v: gen} }
func WithPublisher(p Publisher) PublisherOption          { return PublisherOption{v: p} }
// WithClock sets the time source for record and snapshot timestamps. Pass the
// clock the aggregate's rules use so both agree.
func WithClock(now func() time.Time) ClockOption { return ClockOption{v: now} }

func WithSnapshotThreshold(n int) SnapshotThresholdOption { return SnapshotThresholdOption{v: n} }

// WithConflictRetries rehydrates and reruns a command up to n times when its
// write hits a concurrency conflict. The default is 0.
func WithConflictRetries(n int) ConflictRetriesOption { return ConflictRetriesOption{v: n} }

// === hydrator ===

func (o LogOption) applyToHydrator(h *hydratorOpts)         { h.log = o.v }
func (o SnapshotsOption) applyToHydrator(h *hydratorOpts)   { h.snapshots = o.v }
func (o SnapshotterOption) applyToHydrator(h *hydratorOpts) { h.snapshotter = o.v }
func (o PageSizeOption) applyToHydrator(h *hydratorOpts)    { h.pageSize = o.v }
func (o StreamNamerOption) applyToHydrator(h *hydratorOpts) { h.streams = o.v }
func (o ESMetricsOption) applyToHydrator(h *hydratorOpts)   { h.metrics = o.v }
func (o TracerOption) applyToHydrator(h *hydratorOpts)      { h.tracer = o.v }

func newHydratorOpts() hydratorOpts {
	return hydratorOpts{
		log:       slog.Default(),
		snapshots: true,
		pageSize:  DefaultPageSize,
		streams:   DefaultStreamNamer(),
		metrics:   NopESMetrics(),
		tracer:    otel.Tracer(instrumentationName),
	}
}

func (h *hydratorOpts) complete(store EventLog) {
	if h.log == nil {
		h.log = slog.Default()
	}
	if h.pageSize <= 0 {
		h.pageSize = DefaultPageSize
	}
	if h.streams == nil {
		h.streams = DefaultStreamNamer()
	}
	if h.metrics == nil {
		h.metrics = NopESMetrics()
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer(instrumentationName)
	}
	if h.snapshots && h.snapshotter == nil {
		h.snapshotter = NewLogSnapshotter(h.log, store, h.streams)
	}
}

// === handler ===

func (o LogOption) applyToHandler(h *handlerOpts)         { o.applyToHydrator(&h.hydratorOpts) }
func (o SnapshotsOption) applyToHandler(h *handlerOpts)   { o.applyToHydrator(&h.hydratorOpts) }
func (o SnapshotterOption) applyToHandler(h *handlerOpts) { o.applyToHydrator(&h.hydratorOpts) }
func (o PageSizeOption) applyToHandler(h *handlerOpts)    { o.applyToHydrator(&h.hydratorOpts) }
func (o StreamNamerOption) applyToHandler(h *handlerOpts) { o.applyToHydrator(&h.hydratorOpts) }
func (o ESMetricsOption) applyToHandler(h *handlerOpts)   { o.applyToHydrator(&h.hydratorOpts) }
func (o TracerOption) applyToHandler(h *handlerOpts)      { o.applyToHydrator(&h.hydratorOpts) }

func (o SnapshotThresholdOption) applyToHandler(h *handlerOpts) { h.threshold = o.v }
func (o ConflictRetriesOption) applyToHandler(h *handlerOpts)   { h.retries = o.v }
func (o PublisherOption) applyToHandler(h *handlerOpts)         { h.publisher = o.v }
func (o IDGeneratorOption) applyToHandler(h *handlerOpts)       { h.newID = o.v }
func (o ClockOption) applyToHandler(h *handlerOpts)             { h.now = o.v }

func newHandlerOpts() handlerOpts {
	return handlerOpts{
		hydratorOpts: newHydratorOpts(),
		threshold:    DefaultSnapshotThreshold,
		newID:        DefaultIDGenerator(),
		now:          time.Now,
	}
}

func (h *handlerOpts) complete(store EventLog) {
	h.hydratorOpts.complete(store)
	if h.threshold <= 0 {
		h.threshold = DefaultSnapshotThreshold
	}
	if h.retries < 0 {
		h.retries = 0
	}
	if h.newID == nil {
		h.newID = DefaultIDGenerator()
	}
	if h.now == nil {
		h.now = time.Now
	}
}
