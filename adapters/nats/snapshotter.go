package nats

import (
	"github.com/rcknight/ESSnapshots/core/es"
)

// NewSnapshotter keeps the latest snapshot of every aggregate in a JetStream
// key-value bucket.
func NewSnapshotter(cfg KvConfig) (*es.KeyValueSnapshotter, *KvStore, error) {
	store, err := NewKvStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return es.NewKeyValueSnapshotter(store), store, nil
}
