// Package perkey serializes work per key while work for different keys runs
// concurrently.
//
// Commands on one aggregate id run one after another, so they never race each
// other on the expected version. Commands on different ids do not wait on
// each other.
package perkey

import (
	"context"
	"errors"
	"sync"
)

var ErrSchedulerClosed = errors.New("scheduler is closed")

// lane admits one task at a time for its key. refs counts callers holding
// or waiting on the lane; the lane is dropped when it reaches zero.
type lane struct {
	sem  chan struct{}
	refs int
}

// Scheduler runs fn for a key only after every earlier fn for that key
// returned. The zero value is not usable; call New.
type Scheduler[K comparable] struct {
	mu     sync.Mutex
	lanes  map[K]*lane
	closed bool
	active sync.WaitGroup
}

func New[K comparable]() *Scheduler[K] {
	return &Scheduler[K]{lanes: map[K]*lane{}}
}

// Do runs fn on the calling goroutine once the key is free.
func (s *Scheduler[K]) Do(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l, err := s.acquire(key)
	if err != nil {
		return err
	}
	defer s.release(key, l)

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()
	return fn()
}

// Len returns how many keys currently have work running or waiting.
func (s *Scheduler[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}

// Close rejects new work and waits for running and queued work to finish.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.active.Wait()
}

func (s *Scheduler[K]) acquire(key K) (*lane, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSchedulerClosed
	}
	l, ok := s.lanes[key]
	if !ok {
		l = &lane{sem: make(chan struct{}, 1)}
		s.lanes[key] = l
	}
	l.refs++
	s.active.Add(1)
	return l, nil
}

func (s *Scheduler[K]) release(key K, l *lane) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.lanes, key)
	}
	s.active.Done()
}
