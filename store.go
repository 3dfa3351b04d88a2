package objstore

import "github.com/aweris/objstore/internal/store"

// Store is the key-value backend interface.
// Re-exported from internal/store for convenience.
type Store = store.Store

// Swapper is implemented by backends with native compare-and-swap.
type Swapper = store.Swapper

// ErrNotFound is returned by backends for absent keys.
var ErrNotFound = store.ErrNotFound

// NewMemoryStore returns an in-memory backend.
func NewMemoryStore() Store { return store.NewMemory() }
