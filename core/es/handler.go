package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Command mutates a hydrated aggregate by raising events. Returning an
	// error rejects the command and nothing is written.
	Command[T Aggregate] func(agg T) error

	// Publisher receives records after they were committed to the log.
	Publisher interface {
		Publish(ctx context.Context, records []Record) error
	}

	// Result describes a handled command.
	Result struct {
		AggregateID string
		// Version is the aggregate version after the command.
		Version Version
		// Events are the committed records, empty for a no-op command.
		Events      []Record
		Snapshotted bool
		// Attempts is 1 unless the command was retried after a conflict.
		Attempts int
	}
)

// CommandHandler hydrates an aggregate, runs a command against it and writes
// the raised events under an optimistic version check. A snapshot is written
// whenever the new version satisfies (version+1) % threshold == 0.
type CommandHandler[T Aggregate] struct {
	aggType  string
	store    EventLog
	registry *EventRegistry
	factory  Factory[T]
	hydrator *Hydrator[T]
	opts     handlerOpts
	log      *slog.Logger
}

func NewCommandHandler[T Aggregate](
	store EventLog,
	registry *EventRegistry,
	factory Factory[T],
	opts ...HandlerOption,
) *CommandHandler[T] {
	options := newHandlerOpts()
	for _, opt := range opts {
		opt.applyToHandler(&options)
	}
	options.complete(store)

	h := newHydrator(store, registry, factory, options.hydratorOpts)
	return &CommandHandler[T]{
		aggType:  h.aggType,
		store:    store,
		registry: registry,
		factory:  factory,
		hydrator: h,
		opts:     options,
		log:      options.log.With(slog.String("handler", h.aggType)),
	}
}

// Hydrator returns the hydrator the handler loads aggregates with.
func (c *CommandHandler[T]) Hydrator() *Hydrator[T] { return c.hydrator }

// Handle runs cmd against the hydrated aggregate id.
func (c *CommandHandler[T]) Handle(ctx context.Context, id string, cmd Command[T]) (*Result, error) {
	return c.run(ctx, "es.handle", id, false, cmd)
}

// Create runs cmd against a fresh aggregate and requires the write to be the
// first one to the stream. Conflict retries hydrate, so the command sees the
// state written by the competing creator.
func (c *CommandHandler[T]) Create(ctx context.Context, id string, cmd Command[T]) (*Result, error) {
	return c.run(ctx, "es.create", id, true, cmd)
}

func (c *CommandHandler[T]) run(ctx context.Context, name, id string, create bool, cmd Command[T]) (res *Result, err error) {
	ctx, span := c.opts.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("es.agg_type", c.aggType),
		attribute.String("es.agg_id", id),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if res != nil {
			span.SetAttributes(
				attribute.Int64("es.version", res.Version.Int64()),
				attribute.Int("es.events", len(res.Events)),
				attribute.Bool("es.snapshotted", res.Snapshotted),
			)
		}
		span.End()
	}()

	for attempt := 1; ; attempt++ {
		res, err = c.once(ctx, id, create && attempt == 1, cmd)
		if res != nil {
			res.Attempts = attempt
		}
		if err == nil || !errors.Is(err, ErrConcurrencyConflict) || attempt > c.opts.retries {
			c.opts.metrics.CommandHandled(c.aggType, outcomeOf(err))
			return res, err
		}
		c.log.Debug(
			"retrying after conflict",
			slog.String("id", id),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
	}
}

func (c *CommandHandler[T]) once(ctx context.Context, id string, fresh bool, cmd Command[T]) (*Result, error) {
	if id == "" {
		return nil, errors.New("aggregate id is empty")
	}

	var agg T
	if fresh {
		agg = c.factory()
		agg.SetID(id)
	} else {
		var err error
		if agg, err = c.hydrator.Load(ctx, id); err != nil {
			return nil, err
		}
	}
	expected := agg.GetVersion()

	if err := cmd(agg); err != nil {
		return nil, err
	}

	uncommitted := agg.Uncommitted()
	if len(uncommitted) == 0 {
		return &Result{AggregateID: id, Version: expected}, nil
	}

	stream := c.opts.streams.EventStream(c.aggType, id)
	records := make([]Record, 0, len(uncommitted))
	for _, ev := range uncommitted {
		rec, err := c.registry.Encode(stream, ev, c.opts.newID, c.opts.now)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	timer := c.opts.metrics.AppendDuration(c.aggType)
	v, err := c.store.Append(ctx, stream, ExpectVersion(expected), records)
	timer.ObserveDuration()
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			c.opts.metrics.ConcurrencyConflict(c.aggType)
		}
		return nil, fmt.Errorf("append to %s: %w", stream, err)
	}
	if v != agg.GetVersion() {
		return nil, fmt.Errorf("append to %s returned version %d, aggregate is at %d", stream, v, agg.GetVersion())
	}
	first := v - Version(len(records)) + 1
	for i := range records {
		records[i].Version = first + Version(i)
	}
	c.opts.metrics.EventsAppended(c.aggType, len(records))

	res := &Result{AggregateID: id, Version: v, Events: records}
	c.log.Debug(
		"committed",
		slog.Group("agg", slog.String("id", id), v.SlogAttr()),
		expected.SlogAttrWithKey("expected"),
		slog.Int("num_events", len(records)),
		records[len(records)-1].logAttrs(),
	)

	var postErrs []error
	if c.snapshotDue(v) {
		if err := c.saveSnapshot(ctx, agg); err != nil {
			postErrs = append(postErrs, err)
		} else {
			res.Snapshotted = true
		}
	}
	if c.opts.publisher != nil {
		if err := c.opts.publisher.Publish(ctx, records); err != nil {
			postErrs = append(postErrs, fmt.Errorf("publish: %w", err))
		}
	}
	if len(postErrs) > 0 {
		return res, fmt.Errorf("%w: %w", ErrPostCommit, errors.Join(postErrs...))
	}
	return res, nil
}

func (c *CommandHandler[T]) snapshotDue(v Version) bool {
	return c.opts.snapshots && (v.Int64()+1)%int64(c.opts.threshold) == 0
}

func (c *CommandHandler[T]) saveSnapshot(ctx context.Context, agg T) error {
	ctx, span := c.opts.tracer.Start(ctx, "es.snapshot.save")
	defer span.End()

	timer := c.opts.metrics.SnapshotSaveDuration(c.aggType)
	defer timer.ObserveDuration()

	s, err := CreateSnapshot(agg, c.opts.newID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	s.CreatedAt = c.opts.now()
	if err := c.opts.snapshotter.SaveSnapshot(ctx, s); err != nil {
		span.RecordError(err)
		return fmt.Errorf("save snapshot: %w", err)
	}
	c.log.Debug("snapshot saved", s.logAttrs())
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil, errors.Is(err, ErrPostCommit):
		return OutcomeCommitted
	case errors.Is(err, ErrDomainRuleViolation):
		return OutcomeRejected
	case errors.Is(err, ErrConcurrencyConflict):
		return OutcomeConflict
	default:
		return OutcomeFailed
	}
}
