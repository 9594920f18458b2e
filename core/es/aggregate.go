package es

import (
	"fmt"
)

// Aggregate is the core interface for event-sourced domain objects.
//
// An aggregate maintains:
//   - Identity: type and ID that name its streams
//   - Version: position of the last applied event, NoVersion before the first
//   - Uncommitted events: events raised but not yet persisted
//
// Apply must handle every event type the aggregate raises and return an error
// wrapping ErrUnknownEventType for anything else. Aggregates are built fresh
// for each operation; embed BaseAggregate to get the bookkeeping.
type Aggregate interface {
	// GetAggType returns the aggregate type name used for stream names.
	GetAggType() string
	GetID() string
	SetID(string)

	GetVersion() Version
	setVersion(Version)

	// Apply mutates state from one event without touching the version.
	Apply(event Event) error

	raise(event Event)
	// Uncommitted returns a copy of the events raised since construction.
	Uncommitted() []Event
	// ClearUncommitted empties the buffer; only needed for reused instances.
	ClearUncommitted()
}

// BaseAggregate tracks id, version and uncommitted events. Its zero value has
// version NoVersion.
type BaseAggregate struct {
	id          string
	next        Version
	uncommitted []Event
}

func (b *BaseAggregate) GetID() string        { return b.id }
func (b *BaseAggregate) SetID(id string)      { b.id = id }
func (b *BaseAggregate) GetVersion() Version  { return b.next - 1 }
func (b *BaseAggregate) setVersion(v Version) { b.next = v + 1 }

func (b *BaseAggregate) raise(event Event)  { b.uncommitted = append(b.uncommitted, event) }
func (b *BaseAggregate) ClearUncommitted() { b.uncommitted = nil }
func (b *BaseAggregate) Uncommitted() []Event {
	out := make([]Event, len(b.uncommitted))
	copy(out, b.uncommitted)
	return out
}

// === Helpers ===

// ApplyEvent applies an already persisted (or just raised) event and advances
// the version by one.
func ApplyEvent(a Aggregate, event Event) error {
	if err := a.Apply(event); err != nil {
		return fmt.Errorf("apply %s to %s: %w", event.EventType(), a.GetAggType(), err)
	}
	a.setVersion(a.GetVersion() + 1)
	return nil
}

// RaiseEvent validates the events, applies them so later logic in the same
// command sees them, and records them as uncommitted.
func RaiseEvent(a Aggregate, events ...Event) error {
	for _, e := range events {
		if ev, ok := e.(interface{ Validate() error }); ok {
			if err := ev.Validate(); err != nil {
				return fmt.Errorf("invalid event %s: %w", e.EventType(), err)
			}
		}
	}

	for _, e := range events {
		if err := ApplyEvent(a, e); err != nil {
			return err
		}
		a.raise(e)
	}
	return nil
}
