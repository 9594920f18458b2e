// Package es provides the event-sourced aggregate lifecycle: applying and
// raising events, hydrating aggregates from snapshots plus event replay, and
// handling commands under optimistic concurrency.
//
// # Aggregates
//
// An aggregate embeds [BaseAggregate] and switches over its own closed set of
// events in Apply. Command methods validate against applied state and call
// [RaiseEvent]:
//
//	type Counter struct {
//	    es.BaseAggregate
//	    N int
//	}
//
//	func (c *Counter) Apply(e es.Event) error {
//	    switch e.(type) {
//	    case Incremented:
//	        c.N++
//	        return nil
//	    default:
//	        return fmt.Errorf("%w: %s", es.ErrUnknownEventType, e.EventType())
//	    }
//	}
//
// # Event log
//
// [EventLog] is the storage port: versioned append with an
// [ExpectedVersion] precondition, paged forward reads, reading the newest
// record and per-stream retention. [InMemoryLog] implements it for tests; the
// adapters packages provide NATS JetStream and SQL implementations.
//
// # Hydration
//
// [Hydrator] loads the latest snapshot, then replays the remaining events in
// pages. The next page is requested before the current one is applied, so
// replay of long streams overlaps I/O with decoding.
//
// # Commands
//
// [CommandHandler] hydrates, runs a [Command], appends the raised events
// expecting the hydrated version and writes a snapshot whenever
// (version+1) is a multiple of the snapshot threshold:
//
//	h := es.NewCommandHandler(log, registry, newCounter)
//	res, err := h.Handle(ctx, id, func(c *Counter) error { return c.Inc() })
//
// A snapshot or publish failure after the append returns the [Result]
// together with an error wrapping [ErrPostCommit].
package es
