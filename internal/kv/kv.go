// Package kv is the key-value store boundary the auction ledger persists
// through. Each call commits atomically for its single key; cross-key
// consistency is the caller's concern (the engine serializes all mutations).
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for keys that were never written or were
// deleted.
var ErrNotFound = errors.New("key not found")

// Store is an atomic per-key get/put/delete store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
