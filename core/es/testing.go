package es

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// === Spy ===

// SpyLog wraps an EventLog and counts calls. Hooks run before the call is
// forwarded and may fail it.
type SpyLog struct {
	EventLog

	mu         sync.Mutex
	appends    int
	reads      []Version
	readLasts  int
	retentions map[string]int

	OnAppend      func(stream string, expected ExpectedVersion) error
	OnReadForward func(stream string, from Version) error
}

func NewSpyLog(inner EventLog) *SpyLog {
	return &SpyLog{EventLog: inner, retentions: map[string]int{}}
}

func (s *SpyLog) Append(ctx context.Context, stream string, expected ExpectedVersion, records []Record) (Version, error) {
	s.mu.Lock()
	s.appends++
	hook := s.OnAppend
	s.mu.Unlock()
	if hook != nil {
		if err := hook(stream, expected); err != nil {
			return NoVersion, err
		}
	}
	return s.EventLog.Append(ctx, stream, expected, records)
}

func (s *SpyLog) ReadForward(ctx context.Context, stream string, from Version, pageSize int) (*Page, error) {
	s.mu.Lock()
	s.reads = append(s.reads, from)
	hook := s.OnReadForward
	s.mu.Unlock()
	if hook != nil {
		if err := hook(stream, from); err != nil {
			return nil, err
		}
	}
	return s.EventLog.ReadForward(ctx, stream, from, pageSize)
}

func (s *SpyLog) ReadLastBackward(ctx context.Context, stream string) (*Record, error) {
	s.mu.Lock()
	s.readLasts++
	s.mu.Unlock()
	return s.EventLog.ReadLastBackward(ctx, stream)
}

func (s *SpyLog) SetRetention(ctx context.Context, stream string, maxCount int) error {
	s.mu.Lock()
	s.retentions[stream]++
	s.mu.Unlock()
	return s.EventLog.SetRetention(ctx, stream, maxCount)
}

func (s *SpyLog) Appends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

// Reads returns the from-versions of every ReadForward call in call order.
func (s *SpyLog) Reads() []Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Version(nil), s.reads...)
}

func (s *SpyLog) RetentionCalls(stream string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retentions[stream]
}

func (s *SpyLog) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends, s.readLasts = 0, 0
	s.reads = nil
	s.retentions = map[string]int{}
}

// === Env ===

type TestingEnv[T Aggregate] struct {
	t       *testing.T
	Log     *InMemoryLog
	Spy     *SpyLog
	Handler *CommandHandler[T]
}

// StartTestEnv wires a CommandHandler to a spied in-memory log.
func StartTestEnv[T Aggregate](
	t *testing.T,
	registry *EventRegistry,
	factory Factory[T],
	opts ...HandlerOption,
) *TestingEnv[T] {
	log := NewInMemoryLog()
	spy := NewSpyLog(log)
	return &TestingEnv[T]{
		t:       t,
		Log:     log,
		Spy:     spy,
		Handler: NewCommandHandler(spy, registry, factory, opts...),
	}
}

func (e *TestingEnv[T]) Load(id string) T {
	agg, err := e.Handler.Hydrator().Load(e.t.Context(), id)
	require.NoError(e.t, err)
	return agg
}

func (e *TestingEnv[T]) Assert() *TestingEnvAssert[T] {
	return &TestingEnvAssert[T]{env: e}
}

type TestingEnvAssert[T Aggregate] struct {
	env *TestingEnv[T]
}

// Version hydrates id and requires it to be at v.
func (a *TestingEnvAssert[T]) Version(id string, v Version) {
	require.Equal(a.env.t, v, a.env.Load(id).GetVersion())
}

// StreamLen requires stream to hold n records.
func (a *TestingEnvAssert[T]) StreamLen(stream string, n int) {
	require.Equal(a.env.t, n, a.env.Log.Len(stream))
}
