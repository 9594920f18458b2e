// Package kv is the key-value port used for snapshot and stream metadata
// storage.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// Entry is a stored value together with the revision the store assigned to
// the write that produced it.
type Entry struct {
	Data     []byte
	Revision uint64
}

type PutOptions struct {
	// TTL expires the entry after the given duration. Zero keeps it forever.
	TTL time.Duration
}

type Store interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (revision uint64, err error)
	Get(ctx context.Context, key string) (entry Entry, err error)
	Delete(ctx context.Context, key string) error
}

// Put JSON-encodes v under key.
func Put[T any](ctx context.Context, store Store, key string, v T, opts PutOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	_, err = store.Put(ctx, key, data, opts)
	return err
}

// Get decodes the JSON value stored under key.
func Get[T any](ctx context.Context, store Store, key string) (out T, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return
	}
	if err = json.Unmarshal(entry.Data, &out); err != nil {
		err = fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return
}
