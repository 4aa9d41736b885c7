package storage

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by a KV when no value is stored under a key.
var ErrKeyNotFound = errors.New("key not found")

// KV is the local key-value persistence used by the reminder store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}
