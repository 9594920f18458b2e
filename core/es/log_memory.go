package es

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryLog is a simple, correct (optimistic) event log for tests and dev.
type InMemoryLog struct {
	mu      sync.Mutex
	log     *slog.Logger
	streams map[string]*memStream
}

type memStream struct {
	records  []Record
	last     Version
	maxCount int
}

func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{
		log:     slog.Default().With(slog.String("log", "memory")),
		streams: map[string]*memStream{},
	}
}

func (s *InMemoryLog) Append(
	_ context.Context,
	stream string,
	expected ExpectedVersion,
	records []Record,
) (Version, error) {
	if len(records) == 0 {
		return NoVersion, ErrNoRecords
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.streams[stream]
	current := NoVersion
	if cur != nil {
		current = cur.last
	}
	if err := expected.Check(stream, current); err != nil {
		return NoVersion, err
	}

	v := current
	added := make([]Record, 0, len(records))
	for _, r := range records {
		r.Stream = stream
		if err := r.Validate(); err != nil {
			return NoVersion, err
		}
		v++
		r.Version = v
		added = append(added, r)
	}

	if cur == nil {
		cur = &memStream{last: NoVersion}
		s.streams[stream] = cur
	}
	cur.records = append(cur.records, added...)
	cur.last = v
	cur.truncate()

	s.log.Debug(
		"append",
		slog.String("stream", stream),
		v.SlogAttrWithKey("last_version"),
		slog.Int("num_records", len(added)),
		added[len(added)-1].logAttrs(),
	)

	return v, nil
}

func (s *InMemoryLog) ReadForward(
	_ context.Context,
	stream string,
	from Version,
	pageSize int,
) (*Page, error) {
	pageSize = normalizePageSize(pageSize)
	if from < 0 {
		from = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.streams[stream]
	if cur == nil {
		return &Page{NextVersion: from, IsEndOfStream: true}, nil
	}

	out := make([]Record, 0, min(pageSize, len(cur.records)))
	for _, r := range cur.records {
		if r.Version < from {
			continue
		}
		if len(out) == pageSize {
			break
		}
		out = append(out, r)
	}

	next := from
	if len(out) > 0 {
		next = out[len(out)-1].Version + 1
	}
	return &Page{
		Records:       out,
		NextVersion:   next,
		IsEndOfStream: next > cur.last,
	}, nil
}

func (s *InMemoryLog) ReadLastBackward(_ context.Context, stream string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.streams[stream]
	if cur == nil || len(cur.records) == 0 {
		return nil, ErrStreamNotFound
	}
	r := cur.records[len(cur.records)-1]
	return &r, nil
}

func (s *InMemoryLog) SetRetention(_ context.Context, stream string, maxCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.streams[stream]
	if cur == nil {
		cur = &memStream{last: NoVersion}
		s.streams[stream] = cur
	}
	cur.maxCount = maxCount
	cur.truncate()
	return nil
}

// Len returns the number of retained records of stream.
func (s *InMemoryLog) Len(stream string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.streams[stream]; cur != nil {
		return len(cur.records)
	}
	return 0
}

func (m *memStream) truncate() {
	if m.maxCount <= 0 || len(m.records) <= m.maxCount {
		return
	}
	kept := make([]Record, m.maxCount)
	copy(kept, m.records[len(m.records)-m.maxCount:])
	m.records = kept
}

var _ EventLog = (*InMemoryLog)(nil)
