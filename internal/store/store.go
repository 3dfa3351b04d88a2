// Package store implements the key-value backends behind the value graph
// and the entity index.
//
// A Store is a flat byte-oriented key-value space:
//   - Get/Put/Remove for single keys, each atomic at the backend level
//   - Keys/Len for enumeration
//   - optional CompareAndSwap (Swapper) for head updates
//
// Two instances are used per object store, one per namespace, and they never
// share key space.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("store: not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// Store handles key-value persistence.
type Store interface {
	// Get retrieves the value under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Has checks if key exists.
	Has(ctx context.Context, key string) (bool, error)

	// Keys lists all keys in unspecified order.
	Keys(ctx context.Context) ([]string, error)

	// Len returns the number of keys.
	Len(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// Swapper is implemented by stores that can atomically replace a value only
// when it still holds an expected previous value.
type Swapper interface {
	// CompareAndSwap stores next under key if the current value equals old.
	// A nil old means the key must be absent. It reports whether the swap
	// happened; a false result with nil error means the expectation failed.
	CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error)
}
