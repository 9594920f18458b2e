package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Factory creates an empty aggregate. Hydration sets its id and version.
type Factory[T Aggregate] func() T

// Hydrator rebuilds aggregates from the latest snapshot plus the events
// written after it. It holds only configuration and is safe for concurrent use.
type Hydrator[T Aggregate] struct {
	aggType  string
	store    EventLog
	registry *EventRegistry
	factory  Factory[T]
	opts     hydratorOpts
	log      *slog.Logger
}

func NewHydrator[T Aggregate](
	store EventLog,
	registry *EventRegistry,
	factory Factory[T],
	opts ...HydratorOption,
) *Hydrator[T] {
	options := newHydratorOpts()
	for _, opt := range opts {
		opt.applyToHydrator(&options)
	}
	return newHydrator(store, registry, factory, options)
}

func newHydrator[T Aggregate](store EventLog, registry *EventRegistry, factory Factory[T], options hydratorOpts) *Hydrator[T] {
	options.complete(store)
	aggType := factory().GetAggType()
	return &Hydrator[T]{
		aggType:  aggType,
		store:    store,
		registry: registry,
		factory:  factory,
		opts:     options,
		log:      options.log.With(slog.String("hydrator", aggType)),
	}
}

// AggType returns the aggregate type this hydrator builds.
func (h *Hydrator[T]) AggType() string { return h.aggType }

// Load returns the aggregate id at its latest version. A stream without
// events yields a fresh aggregate at NoVersion. Any failure wraps
// ErrHydrationFailed and no aggregate is returned.
func (h *Hydrator[T]) Load(ctx context.Context, id string) (agg T, err error) {
	if id == "" {
		return agg, hydrationFailed("aggregate id is empty")
	}

	ctx, span := h.opts.tracer.Start(ctx, "es.hydrate", trace.WithAttributes(
		attribute.String("es.agg_type", h.aggType),
		attribute.String("es.agg_id", id),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	timer := h.opts.metrics.HydrateDuration(h.aggType)
	defer timer.ObserveDuration()
	started := time.Now()

	a := h.factory()
	a.SetID(id)

	fromSnapshot := false
	if h.opts.snapshots {
		fromSnapshot, err = h.restoreSnapshot(ctx, a)
		if err != nil {
			return agg, err
		}
	}

	snapshotVersion := a.GetVersion()
	pages, err := h.replay(ctx, a)
	if err != nil {
		return agg, err
	}
	replayed := int(a.GetVersion() - snapshotVersion)

	h.opts.metrics.EventsReplayed(h.aggType, replayed)
	h.opts.metrics.PagesRead(h.aggType, pages)
	span.SetAttributes(
		attribute.Bool("es.from_snapshot", fromSnapshot),
		attribute.Int("es.events_replayed", replayed),
		attribute.Int64("es.version", a.GetVersion().Int64()),
	)

	h.log.Debug(
		"hydrated",
		slog.Group("agg", slog.String("id", id), a.GetVersion().SlogAttr()),
		slog.Bool("from_snapshot", fromSnapshot),
		slog.Int("events_replayed", replayed),
		slog.Int("pages", pages),
		slog.Duration("took", time.Since(started)),
	)

	return a, nil
}

func (h *Hydrator[T]) restoreSnapshot(ctx context.Context, a T) (bool, error) {
	timer := h.opts.metrics.SnapshotLoadDuration(h.aggType)
	s, err := h.opts.snapshotter.LoadSnapshot(ctx, h.aggType, a.GetID())
	timer.ObserveDuration()
	if err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			h.opts.metrics.SnapshotLoaded(h.aggType, false)
			return false, nil
		}
		return false, hydrationFailed("load snapshot of %s-%s: %w", h.aggType, a.GetID(), err)
	}
	if err := RestoreSnapshot(a, s); err != nil {
		return false, hydrationFailed("%s-%s: %w", h.aggType, a.GetID(), err)
	}
	h.opts.metrics.SnapshotLoaded(h.aggType, true)
	h.log.Debug("snapshot applied", s.logAttrs())
	return true, nil
}

type pageResult struct {
	page *Page
	err  error
}

// readAhead issues one ReadForward in the background. The channel is
// buffered so the goroutine never blocks once the caller gave up.
func (h *Hydrator[T]) readAhead(ctx context.Context, stream string, from Version) <-chan pageResult {
	ch := make(chan pageResult, 1)
	go func() {
		p, err := h.store.ReadForward(ctx, stream, from, h.opts.pageSize)
		ch <- pageResult{page: p, err: err}
	}()
	return ch
}

// replay applies every event after the aggregate's current version. The
// request for page k+1 is in flight while page k is applied; results are
// applied strictly in stream order.
func (h *Hydrator[T]) replay(ctx context.Context, a T) (pages int, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := h.opts.streams.EventStream(h.aggType, a.GetID())
	pending := h.readAhead(ctx, stream, a.GetVersion()+1)

	for {
		var res pageResult
		select {
		case res = <-pending:
		case <-ctx.Done():
			return pages, hydrationFailed("read %s: %w", stream, ctx.Err())
		}
		if res.err != nil {
			return pages, hydrationFailed("read %s from %d: %w", stream, a.GetVersion()+1, res.err)
		}
		page := res.page
		if page == nil {
			return pages, hydrationFailed("read %s: nil page", stream)
		}
		pages++

		if !page.IsEndOfStream {
			if len(page.Records) == 0 {
				return pages, hydrationFailed("read %s: empty page before end of stream at %d", stream, page.NextVersion)
			}
			pending = h.readAhead(ctx, stream, page.NextVersion)
		}

		for _, rec := range page.Records {
			if err := h.apply(a, rec); err != nil {
				return pages, hydrationFailed("%s: %w", stream, err)
			}
		}

		if page.IsEndOfStream {
			return pages, nil
		}
	}
}

func (h *Hydrator[T]) apply(a T, rec Record) error {
	expect := a.GetVersion() + 1
	if rec.Version != expect {
		return fmt.Errorf("expect version %d, got %d", expect, rec.Version)
	}
	ev, err := h.registry.Decode(rec)
	if err != nil {
		return err
	}
	return ApplyEvent(a, ev)
}
