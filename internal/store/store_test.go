package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/objstore/internal/compression"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

// backends returns a fresh instance of every backend flavour.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	local, err := NewLocal(dir, "values", LocalOptions{Compression: compression.Zstd, CacheSize: 4})
	require.NoError(t, err)

	lz4Local, err := NewLocal(dir, "lz4", LocalOptions{Compression: compression.LZ4})
	require.NoError(t, err)

	sqlite, err := NewSQLite(filepath.Join(dir, "kv.db"), "values", 2, zerolog.Nop())
	require.NoError(t, err)

	sealedMemory, err := NewSealed(NewMemory(), testKey())
	require.NoError(t, err)

	sealedLocal, err := NewSealed(mustLocal(t, dir, "sealed"), testKey())
	require.NoError(t, err)

	all := map[string]Store{
		"memory":        NewMemory(),
		"local":         local,
		"local-lz4":     lz4Local,
		"sqlite":        sqlite,
		"sealed-memory": sealedMemory,
		"sealed-local":  sealedLocal,
	}
	t.Cleanup(func() {
		for _, s := range all {
			s.Close()
		}
	})
	return all
}

func mustLocal(t *testing.T, dir, namespace string) *Local {
	t.Helper()
	s, err := NewLocal(dir, namespace, LocalOptions{})
	require.NoError(t, err)
	return s
}

func TestStoreBasics(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, "sha256:aa", []byte("first")))
			require.NoError(t, s.Put(ctx, "entity/with:odd chars", []byte("second")))

			got, err := s.Get(ctx, "sha256:aa")
			require.NoError(t, err)
			assert.Equal(t, []byte("first"), got)

			ok, err := s.Has(ctx, "entity/with:odd chars")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, s.Put(ctx, "sha256:aa", []byte("replaced")))
			got, err = s.Get(ctx, "sha256:aa")
			require.NoError(t, err)
			assert.Equal(t, []byte("replaced"), got)

			keys, err := s.Keys(ctx)
			require.NoError(t, err)
			sort.Strings(keys)
			assert.Equal(t, []string{"entity/with:odd chars", "sha256:aa"}, keys)

			n, err := s.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			require.NoError(t, s.Remove(ctx, "sha256:aa"))
			require.NoError(t, s.Remove(ctx, "sha256:aa"))
			_, err = s.Get(ctx, "sha256:aa")
			assert.ErrorIs(t, err, ErrNotFound)

			n, err = s.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			swapper, ok := s.(Swapper)
			require.True(t, ok)

			swapped, err := swapper.CompareAndSwap(ctx, "head", nil, []byte("c1"))
			require.NoError(t, err)
			assert.True(t, swapped)

			swapped, err = swapper.CompareAndSwap(ctx, "head", nil, []byte("c2"))
			require.NoError(t, err)
			assert.False(t, swapped, "create must fail when key exists")

			swapped, err = swapper.CompareAndSwap(ctx, "head", []byte("stale"), []byte("c2"))
			require.NoError(t, err)
			assert.False(t, swapped)

			swapped, err = swapper.CompareAndSwap(ctx, "head", []byte("c1"), []byte("c2"))
			require.NoError(t, err)
			assert.True(t, swapped)

			got, err := s.Get(ctx, "head")
			require.NoError(t, err)
			assert.Equal(t, []byte("c2"), got)

			swapped, err = swapper.CompareAndSwap(ctx, "absent", []byte("c1"), []byte("c2"))
			require.NoError(t, err)
			assert.False(t, swapped)
		})
	}
}

func TestCompareAndSwapSingleWinner(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			swapper := s.(Swapper)
			require.NoError(t, s.Put(ctx, "head", []byte("base")))

			const writers = 8
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					swapped, err := swapper.CompareAndSwap(ctx, "head", []byte("base"), []byte(fmt.Sprintf("next-%d", i)))
					assert.NoError(t, err)
					if swapped {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
		})
	}
}

func TestLocalReadsNeverCacheStaleValues(t *testing.T) {
	ctx := context.Background()
	// A one-entry cache makes nearly every read of "head" a disk read.
	s, err := NewLocal(t.TempDir(), "index", LocalOptions{CacheSize: 1})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Put(ctx, "head", []byte("0")))
	require.NoError(t, s.Put(ctx, "other", []byte("x")))

	const (
		writers    = 4
		increments = 50
	)
	done := make(chan struct{})
	var readers sync.WaitGroup
	for range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				_, err := s.Get(ctx, "head")
				assert.NoError(t, err)
				_, err = s.Get(ctx, "other")
				assert.NoError(t, err)
			}
		}()
	}

	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range increments {
				for {
					current, err := s.Get(ctx, "head")
					if !assert.NoError(t, err) {
						return
					}
					n, err := strconv.Atoi(string(current))
					if !assert.NoError(t, err) {
						return
					}
					swapped, err := s.CompareAndSwap(ctx, "head", current, []byte(strconv.Itoa(n+1)))
					if !assert.NoError(t, err) {
						return
					}
					if swapped {
						break
					}
				}
			}
		}()
	}
	wg.Wait()
	close(done)
	readers.Wait()

	// Every increment must survive: a stale cached read would let a swap
	// against an old value overwrite a newer one.
	got, err := s.Get(ctx, "head")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(writers*increments), string(got))
}

func TestLocalRemoveIsNotUndoneByReaders(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocal(t.TempDir(), "index", LocalOptions{CacheSize: 1})
	require.NoError(t, err)
	defer s.Close()

	for round := range 50 {
		key := "k" + strconv.Itoa(round)
		require.NoError(t, s.Put(ctx, key, []byte("v")))
		require.NoError(t, s.Put(ctx, "evict", []byte("e")))

		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Get(ctx, key)
				if err != nil {
					assert.ErrorIs(t, err, ErrNotFound)
				}
			}()
		}
		require.NoError(t, s.Remove(ctx, key))
		wg.Wait()

		ok, err := s.Has(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, "round %d: removed key came back", round)
	}
}

func TestLocalPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewLocal(dir, "values", LocalOptions{Compression: compression.Zstd})
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "k", []byte("persisted")))
	require.NoError(t, first.Close())

	second, err := NewLocal(dir, "values", LocalOptions{})
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got)
}

func TestLocalNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	values := mustLocal(t, dir, "values")
	entities := mustLocal(t, dir, "entities")
	defer values.Close()
	defer entities.Close()

	require.NoError(t, values.Put(ctx, "k", []byte("v")))
	_, err := entities.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSealedRejectsMovedCiphertext(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	sealed, err := NewSealed(inner, testKey())
	require.NoError(t, err)

	require.NoError(t, sealed.Put(ctx, "a", []byte("secret")))

	raw, err := inner.Get(ctx, "a")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")

	require.NoError(t, inner.Put(ctx, "b", raw))
	_, err = sealed.Get(ctx, "b")
	assert.Error(t, err)
}

func TestNewSealedKeySize(t *testing.T) {
	_, err := NewSealed(NewMemory(), []byte("short"))
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	for _, kind := range []Kind{KindMemory, KindLocal, KindSQLite} {
		s, err := Open(Config{Kind: kind, Dir: dir, Logger: zerolog.Nop()}, "values")
		require.NoError(t, err, kind)
		require.NoError(t, s.Close())
	}

	_, err := Open(Config{Kind: "redis"}, "values")
	assert.Error(t, err)

	_, err = Open(Config{Kind: KindLocal}, "values")
	assert.Error(t, err)

	s, err := Open(Config{Kind: KindMemory, SealKey: testKey()}, "values")
	require.NoError(t, err)
	_, ok := s.(Swapper)
	assert.True(t, ok)
}
