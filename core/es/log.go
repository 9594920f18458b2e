package es

import (
	"context"
	"fmt"
)

// EventLog is the append-only stream storage the engine runs on. Each stream
// is versioned from 0. Implementations must make Append an atomic
// compare-and-append on the expected version.
type EventLog interface {
	// Append writes records to the end of stream if expected holds and returns
	// the version of the last written record.
	Append(ctx context.Context, stream string, expected ExpectedVersion, records []Record) (Version, error)
	// ReadForward reads at most pageSize records starting at version from.
	// A missing stream yields an empty page at end of stream.
	ReadForward(ctx context.Context, stream string, from Version, pageSize int) (*Page, error)
	// ReadLastBackward returns the newest record of stream or ErrStreamNotFound.
	ReadLastBackward(ctx context.Context, stream string) (*Record, error)
	// SetRetention caps stream to its newest maxCount records. Older records
	// may be reclaimed lazily.
	SetRetention(ctx context.Context, stream string, maxCount int) error
}

// Page is one slice of a forward read.
type Page struct {
	Records       []Record
	NextVersion   Version
	IsEndOfStream bool
}

type expectKind uint8

const (
	expectExact expectKind = iota
	expectAny
	expectNoStream
)

// ExpectedVersion is the precondition of an append.
type ExpectedVersion struct {
	kind    expectKind
	version Version
}

var (
	// AnyVersion appends regardless of the stream state.
	AnyVersion = ExpectedVersion{kind: expectAny, version: NoVersion}
	// NoStream requires the append to be the very first write to the stream.
	NoStream = ExpectedVersion{kind: expectNoStream, version: NoVersion}
)

// ExpectVersion requires the stream's last version to be v. NoVersion is
// normalised to NoStream.
func ExpectVersion(v Version) ExpectedVersion {
	if v.IsNone() {
		return NoStream
	}
	return ExpectedVersion{kind: expectExact, version: v}
}

func (e ExpectedVersion) IsAny() bool      { return e.kind == expectAny }
func (e ExpectedVersion) IsNoStream() bool { return e.kind == expectNoStream }

// Version returns the expected last version; NoVersion for NoStream and AnyVersion.
func (e ExpectedVersion) Version() Version { return e.version }

// Check reports whether a stream whose last version is current (NoVersion if
// the stream does not exist) satisfies the precondition.
func (e ExpectedVersion) Check(stream string, current Version) error {
	switch e.kind {
	case expectAny:
		return nil
	case expectNoStream:
		if current.IsNone() {
			return nil
		}
	default:
		if current == e.version {
			return nil
		}
	}
	return fmt.Errorf("%w: stream %s expected %s, got %d", ErrConcurrencyConflict, stream, e, current)
}

func (e ExpectedVersion) String() string {
	switch e.kind {
	case expectAny:
		return "any"
	case expectNoStream:
		return "no-stream"
	default:
		return fmt.Sprintf("%d", e.version)
	}
}

// StreamNamer maps an aggregate to its event and snapshot stream names.
type StreamNamer interface {
	EventStream(aggType, aggID string) string
	SnapshotStream(aggType, aggID string) string
}

type defaultStreamNamer struct{}

func (defaultStreamNamer) EventStream(aggType, aggID string) string {
	return fmt.Sprintf("%s-%s", aggType, aggID)
}

func (defaultStreamNamer) SnapshotStream(aggType, aggID string) string {
	return fmt.Sprintf("%sSnapshots-%s", aggType, aggID)
}

// DefaultStreamNamer names streams "<type>-<id>" and "<type>Snapshots-<id>".
func DefaultStreamNamer() StreamNamer { return defaultStreamNamer{} }

func normalizePageSize(pageSize int) int {
	if pageSize <= 0 {
		return DefaultPageSize
	}
	return pageSize
}
