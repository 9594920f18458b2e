package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/rcknight/ESSnapshots/ports/kv"
)

var errKeyTTL = errors.New("nats kv: per-key TTL is not supported")

type KvConfig struct {
	Connect Connector
	Bucket  string
	// Storage defaults to file storage.
	Storage jetstream.StorageType
	// MaxBytes caps the bucket size; zero means 64MiB.
	MaxBytes int64
}

// KvStore implements kv.Store on a JetStream key-value bucket.
type KvStore struct {
	kv      jetstream.KeyValue
	closeNc closeFunc
}

func NewKvStore(cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, esUnavailable(err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = 64 * 1024 * 1024
	}

	bucket, err := js.CreateOrUpdateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Storage:  cfg.Storage,
		MaxBytes: maxBytes,
		History:  1,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("create kv bucket %s: %w", cfg.Bucket, esUnavailable(err))
	}

	return &KvStore{kv: bucket, closeNc: closeNc}, nil
}

func (k *KvStore) Put(ctx context.Context, key string, data []byte, opts kv.PutOptions) (uint64, error) {
	if opts.TTL > 0 {
		return 0, errKeyTTL
	}
	rev, err := k.kv.Put(ctx, key, data)
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, esUnavailable(err))
	}
	return rev, nil
}

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	v, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, esUnavailable(err))
	}
	return kv.Entry{Data: v.Value(), Revision: v.Revision()}, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	if err := k.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, esUnavailable(err))
	}
	return nil
}

// Close releases the connection lease.
func (k *KvStore) Close() { k.closeNc() }

var _ kv.Store = (*KvStore)(nil)
