package es

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Record is the unit stored in an EventLog stream. It carries the serialized
// event (or snapshot) together with the tag needed to decode it.
type Record struct {
	// ID is unique per record and used by logs for de-duplication.
	ID string `json:"id"`
	// Stream is the name of the stream the record belongs to.
	Stream string `json:"stream"`
	// Version is the position in the stream, assigned by the log on append.
	Version Version `json:"version"`
	// Type is the event type tag used for decoding.
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidRecord)
	}
	if r.Stream == "" {
		return fmt.Errorf("%w: stream is empty", ErrInvalidRecord)
	}
	if r.Type == "" {
		return fmt.Errorf("%w: type is empty", ErrInvalidRecord)
	}
	if r.OccurredAt.IsZero() {
		return fmt.Errorf("%w: occurred at is zero", ErrInvalidRecord)
	}
	return nil
}

func (r Record) logAttrs() slog.Attr {
	return slog.Group(
		"record",
		slog.String("id", r.ID),
		slog.String("stream", r.Stream),
		slog.String("type", r.Type),
		r.Version.SlogAttr(),
	)
}
