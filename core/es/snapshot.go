package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rcknight/ESSnapshots/ports/kv"
)

const (
	snapshotRecordType    = "Snapshot"
	snapshotSchemaVersion = 1
)

type (
	// Snapshot is a point-in-time summary of an aggregate: its state is exactly
	// as if events 0..Version had been applied, minus anything the aggregate
	// chose to prune.
	Snapshot struct {
		ID            string          `json:"snapshot_id"`
		AggregateType string          `json:"aggregate_type"`
		AggregateID   string          `json:"aggregate_id"`
		Version       Version         `json:"version"`
		CreatedAt     time.Time       `json:"created_at"`
		SchemaVersion int             `json:"schema_version"`
		Encoding      string          `json:"encoding"`
		Data          json.RawMessage `json:"data"`
	}

	// Snapshottable lets an aggregate control what goes into its snapshot.
	Snapshottable interface {
		Snapshot() (data []byte, err error)
		RestoreSnapshot(data []byte) error
	}

	Snapshotter interface {
		SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
		LoadSnapshot(ctx context.Context, aggType, aggID string) (*Snapshot, error)
	}
)

func (s *Snapshot) logAttrs() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("id", s.ID),
		slog.String("agg_type", s.AggregateType),
		slog.String("agg_id", s.AggregateID),
		s.Version.SlogAttr(),
		slog.Int("size", len(s.Data)),
	)
}

// CreateSnapshot captures agg at its current version.
func CreateSnapshot(agg Aggregate, newID IDGenerator) (*Snapshot, error) {
	var (
		data []byte
		err  error
	)
	if s, ok := any(agg).(Snapshottable); ok {
		data, err = s.Snapshot()
	} else {
		data, err = json.Marshal(agg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot: %w", err)
	}
	return &Snapshot{
		ID:            newID(),
		AggregateType: agg.GetAggType(),
		AggregateID:   agg.GetID(),
		Version:       agg.GetVersion(),
		CreatedAt:     time.Now(),
		SchemaVersion: snapshotSchemaVersion,
		Encoding:      "json",
		Data:          data,
	}, nil
}

// RestoreSnapshot sets state and version of agg from s, skipping replay of
// every event up to s.Version.
func RestoreSnapshot(agg Aggregate, s *Snapshot) error {
	if s.AggregateType != agg.GetAggType() {
		return fmt.Errorf("snapshot type %q does not match aggregate %q", s.AggregateType, agg.GetAggType())
	}
	if s.SchemaVersion != snapshotSchemaVersion {
		return fmt.Errorf("unsupported snapshot schema version %d", s.SchemaVersion)
	}
	var err error
	if ss, ok := any(agg).(Snapshottable); ok {
		err = ss.RestoreSnapshot(s.Data)
	} else {
		err = json.Unmarshal(s.Data, agg)
	}
	if err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}
	agg.SetID(s.AggregateID)
	agg.setVersion(s.Version)
	return nil
}

// === Log Snapshotter ===

// LogSnapshotter keeps snapshots in a dedicated stream per aggregate. Only the
// newest snapshot matters, so the stream is capped to one record the first
// time it is written.
type LogSnapshotter struct {
	log     *slog.Logger
	store   EventLog
	streams StreamNamer
}

func NewLogSnapshotter(log *slog.Logger, store EventLog, streams StreamNamer) *LogSnapshotter {
	if log == nil {
		log = slog.Default()
	}
	if streams == nil {
		streams = DefaultStreamNamer()
	}
	return &LogSnapshotter{
		log:     log.With(slog.String("snapshotter", "log")),
		store:   store,
		streams: streams,
	}
}

func (l *LogSnapshotter) SaveSnapshot(ctx context.Context, s *Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	stream := l.streams.SnapshotStream(s.AggregateType, s.AggregateID)
	v, err := l.store.Append(ctx, stream, AnyVersion, []Record{{
		ID:         s.ID,
		Stream:     stream,
		Version:    NoVersion,
		Type:       snapshotRecordType,
		OccurredAt: s.CreatedAt,
		Data:       data,
	}})
	if err != nil {
		return fmt.Errorf("append snapshot to %s: %w", stream, err)
	}

	// first snapshot ever: keep only the latest from now on
	if v == 0 {
		if err := l.store.SetRetention(ctx, stream, 1); err != nil {
			return fmt.Errorf("set retention on %s: %w", stream, err)
		}
		l.log.Debug("snapshot stream capped", slog.String("stream", stream))
	}
	return nil
}

func (l *LogSnapshotter) LoadSnapshot(ctx context.Context, aggType, aggID string) (*Snapshot, error) {
	stream := l.streams.SnapshotStream(aggType, aggID)
	rec, err := l.store.ReadLastBackward(ctx, stream)
	if err != nil {
		if errors.Is(err, ErrStreamNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	if rec.Type != snapshotRecordType {
		return nil, fmt.Errorf("%w: %s in %s", ErrUnknownEventType, rec.Type, stream)
	}
	s := &Snapshot{}
	if err := json.Unmarshal(rec.Data, s); err != nil {
		return nil, fmt.Errorf("decode snapshot from %s: %w", stream, err)
	}
	return s, nil
}

var _ Snapshotter = (*LogSnapshotter)(nil)

// === Key-Value Snapshotter ===

// KeyValueSnapshotter keeps the latest snapshot per aggregate under a single
// key. Saving overwrites, so no retention is needed.
type KeyValueSnapshotter struct {
	store kv.Store
}

func NewKeyValueSnapshotter(store kv.Store) *KeyValueSnapshotter {
	return &KeyValueSnapshotter{store: store}
}

func (k *KeyValueSnapshotter) SaveSnapshot(ctx context.Context, s *Snapshot) error {
	return kv.Put(ctx, k.store, snapshotKey(s.AggregateType, s.AggregateID), s, kv.PutOptions{})
}

func (k *KeyValueSnapshotter) LoadSnapshot(ctx context.Context, aggType, aggID string) (*Snapshot, error) {
	s, err := kv.Get[*Snapshot](ctx, k.store, snapshotKey(aggType, aggID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return s, nil
}

var _ Snapshotter = (*KeyValueSnapshotter)(nil)

// === In-Memory Snapshotter ===

type InMemorySnapshotter struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
	saves     int
}

func NewInMemorySnapshotter() *InMemorySnapshotter {
	return &InMemorySnapshotter{snapshots: map[string]*Snapshot{}}
}

func (i *InMemorySnapshotter) SaveSnapshot(_ context.Context, snapshot *Snapshot) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.snapshots[snapshotKey(snapshot.AggregateType, snapshot.AggregateID)] = snapshot
	i.saves++
	return nil
}

func (i *InMemorySnapshotter) LoadSnapshot(_ context.Context, aggType, aggID string) (*Snapshot, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	s, ok := i.snapshots[snapshotKey(aggType, aggID)]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return s, nil
}

// Saves returns how many snapshots were written.
func (i *InMemorySnapshotter) Saves() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.saves
}

func snapshotKey(aggType, aggID string) string { return aggType + "-" + aggID }

var _ Snapshotter = (*InMemorySnapshotter)(nil)
