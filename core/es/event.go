package es

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event is an immutable fact raised by an aggregate. EventType returns the tag
// stored with the serialized record; it must be stable across releases.
type Event interface {
	EventType() string
}

// EventType binds a record tag to a decoder for one concrete event type.
type EventType struct {
	Name   string
	decode func(data []byte) (Event, error)
}

var jsonNull = []byte("null")

// EventOf returns the EventType for the value type T.
func EventOf[T Event]() EventType {
	var zero T
	return EventType{
		Name: zero.EventType(),
		decode: func(data []byte) (Event, error) {
			if p := bytes.TrimSpace(data); len(p) == 0 || bytes.Equal(p, jsonNull) {
				return nil, fmt.Errorf("%w: empty payload", ErrInvalidRecord)
			}
			var ev T
			if err := json.Unmarshal(data, &ev); err != nil {
				return nil, err
			}
			return ev, nil
		},
	}
}

// EventRegistry is a closed mapping from record tag to decoder. It is built
// once and never mutated, so it is safe for concurrent use.
type EventRegistry struct {
	decoders map[string]func([]byte) (Event, error)
}

// NewEventRegistry validates the given types and returns a registry. Empty or
// duplicate tags are rejected.
func NewEventRegistry(types ...EventType) (*EventRegistry, error) {
	if len(types) == 0 {
		return nil, errors.New("event registry: no event types")
	}
	r := &EventRegistry{decoders: make(map[string]func([]byte) (Event, error), len(types))}
	for _, t := range types {
		if t.Name == "" {
			return nil, errors.New("event registry: empty event type name")
		}
		if t.decode == nil {
			return nil, fmt.Errorf("event registry: %s has no decoder", t.Name)
		}
		if _, dup := r.decoders[t.Name]; dup {
			return nil, fmt.Errorf("event registry: duplicate event type %s", t.Name)
		}
		r.decoders[t.Name] = t.decode
	}
	return r, nil
}

// MustEventRegistry is like NewEventRegistry but panics on invalid input.
func MustEventRegistry(types ...EventType) *EventRegistry {
	r, err := NewEventRegistry(types...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *EventRegistry) Has(name string) bool {
	_, ok := r.decoders[name]
	return ok
}

// Decode turns a record into its concrete event.
func (r *EventRegistry) Decode(rec Record) (Event, error) {
	dec, ok := r.decoders[rec.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, rec.Type)
	}
	ev, err := dec(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s at %s@%d: %w", rec.Type, rec.Stream, rec.Version, err)
	}
	return ev, nil
}

// Encode serializes ev into a record for stream. The version is assigned by
// the log on append.
func (r *EventRegistry) Encode(stream string, ev Event, newID IDGenerator, now func() time.Time) (Record, error) {
	name := ev.EventType()
	if !r.Has(name) {
		return Record{}, fmt.Errorf("%w: %s is not registered", ErrUnknownEventType, name)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return Record{
		ID:         newID(),
		Stream:     stream,
		Version:    NoVersion,
		Type:       name,
		OccurredAt: now(),
		Data:       data,
	}, nil
}
