package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/multiformats/go-multibase"

	"github.com/aweris/objstore/internal/compression"
)

// DefaultCacheSize is the number of decoded values kept in memory per
// local store.
const DefaultCacheSize = 1024

// LocalOptions tunes a Local store.
type LocalOptions struct {
	CacheSize        int
	Compression      compression.Algorithm
	CompressionLevel int
}

// Local implements Store on the local filesystem.
//
// Storage layout (namespace-isolated):
//
//	basePath/namespace/
//	  objects/
//	    ab/bab3x...  (one file per key, multibase base32 name, sharded)
//
// Writes go through a temp file and rename, so readers never observe a
// partially written value.
type Local struct {
	dir        string
	namespace  string
	cache      *lru.Cache[string, []byte]
	compressor *compression.Compressor

	// mu orders cache fills against mutations: readers hold it shared
	// across the disk read and the cache fill, so a value read before a
	// write can never be cached after it.
	mu sync.RWMutex
}

var (
	_ Store   = (*Local)(nil)
	_ Swapper = (*Local)(nil)
)

func NewLocal(basePath, namespace string, opts LocalOptions) (*Local, error) {
	objectsDir := filepath.Join(basePath, namespace, "objects")
	if err := os.MkdirAll(objectsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", objectsDir, err)
	}

	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	compressor, err := compression.NewCompressor(opts.Compression, opts.CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	return &Local{
		dir:        objectsDir,
		namespace:  namespace,
		cache:      cache,
		compressor: compressor,
	}, nil
}

func (s *Local) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(key)
}

// read returns the value under key through the cache. Callers hold mu.
func (s *Local) read(key string) ([]byte, error) {
	if data, ok := s.cache.Get(key); ok {
		return bytes.Clone(data), nil
	}

	path, err := s.objectPath(key)
	if err != nil {
		return nil, err
	}
	framed, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	data, err := s.compressor.Decompress(framed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress object: %w", err)
	}

	s.cache.Add(key, data)
	return bytes.Clone(data), nil
}

func (s *Local) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(key, data)
}

func (s *Local) write(key string, data []byte) error {
	path, err := s.objectPath(key)
	if err != nil {
		return err
	}

	framed, err := s.compressor.Compress(data)
	if err != nil {
		return fmt.Errorf("failed to compress object: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := safeWrite(path, framed, 0644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}

	s.cache.Add(key, bytes.Clone(data))
	return nil
}

func (s *Local) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.objectPath(key)
	if err != nil {
		return err
	}
	s.cache.Remove(key)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove object: %w", err)
	}
	return nil
}

func (s *Local) Has(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cache.Contains(key) {
		return true, nil
	}

	path, err := s.objectPath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *Local) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		_, raw, err := multibase.Decode(d.Name())
		if err != nil {
			return fmt.Errorf("decode object name %s: %w", d.Name(), err)
		}
		keys = append(keys, string(raw))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return keys, nil
}

func (s *Local) Len(ctx context.Context) (int, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *Local) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(key)
	switch {
	case errors.Is(err, ErrNotFound):
		if old != nil {
			return false, nil
		}
	case err != nil:
		return false, err
	case old == nil || !bytes.Equal(current, old):
		return false, nil
	}

	if err := s.write(key, next); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Local) Close() error {
	s.cache.Purge()
	return s.compressor.Close()
}

// objectPath returns the filesystem path for key.
// Sharding follows git: objects/<2 chars>/<name>.
func (s *Local) objectPath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("store: empty key")
	}
	name, err := multibase.Encode(multibase.Base32, []byte(key))
	if err != nil {
		return "", fmt.Errorf("encode key: %w", err)
	}
	return filepath.Join(s.dir, name[1:3], name), nil
}

// safeWrite writes data to path atomically: tempfile -> fsync -> rename.
func safeWrite(path string, data []byte, perm os.FileMode) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()

	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err = f.Chmod(perm); err != nil {
		f.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp to target: %w", err)
	}
	return nil
}
