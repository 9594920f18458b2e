package kv

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	Entry
	expires time.Time
}

// MemStore is an in-process Store. Expired entries are dropped on read.
type MemStore struct {
	mu   sync.Mutex
	now  func() time.Time
	rev  uint64
	data map[string]memEntry
}

func NewMemStore() *MemStore {
	return &MemStore{now: time.Now, data: map[string]memEntry{}}
}

func (m *MemStore) Put(_ context.Context, key string, data []byte, opts PutOptions) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rev++
	e := memEntry{Entry: Entry{Data: append([]byte(nil), data...), Revision: m.rev}}
	if opts.TTL > 0 {
		e.expires = m.now().Add(opts.TTL)
	}
	m.data[key] = e
	return m.rev, nil
}

func (m *MemStore) Get(_ context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.data, key)
		return Entry{}, ErrNotFound
	}
	return e.Entry, nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

var _ Store = (*MemStore)(nil)
