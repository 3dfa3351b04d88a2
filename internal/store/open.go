package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aweris/objstore/internal/compression"
)

// Kind selects a backend implementation.
type Kind string

const (
	KindMemory Kind = "memory"
	KindLocal  Kind = "local"
	KindSQLite Kind = "sqlite"
)

// Config describes how to create a backend instance.
type Config struct {
	Kind Kind

	// Dir is the root directory for local stores and the default location
	// of the sqlite database.
	Dir string

	// Path overrides the sqlite database file.
	Path string

	CacheSize        int
	Compression      compression.Algorithm
	CompressionLevel int
	PoolSize         int

	// SealKey enables encryption at rest when set (KeySize bytes).
	SealKey []byte

	Logger zerolog.Logger
}

// Open creates a backend for namespace. Each namespace is an independent key
// space.
func Open(cfg Config, namespace string) (Store, error) {
	var (
		s   Store
		err error
	)

	switch cfg.Kind {
	case KindMemory, "":
		s = NewMemory()
	case KindLocal:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("store: local backend requires a directory")
		}
		s, err = NewLocal(cfg.Dir, namespace, LocalOptions{
			CacheSize:        cfg.CacheSize,
			Compression:      cfg.Compression,
			CompressionLevel: cfg.CompressionLevel,
		})
	case KindSQLite:
		path := cfg.Path
		if path == "" {
			if cfg.Dir == "" {
				return nil, fmt.Errorf("store: sqlite backend requires a path or directory")
			}
			if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
			path = filepath.Join(cfg.Dir, "objstore.db")
		}
		s, err = NewSQLite(path, namespace, cfg.PoolSize, cfg.Logger)
	default:
		return nil, fmt.Errorf("store: unknown backend kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}

	if len(cfg.SealKey) > 0 {
		sealed, err := NewSealed(s, cfg.SealKey)
		if err != nil {
			s.Close()
			return nil, err
		}
		s = sealed
	}

	cfg.Logger.Debug().Str("kind", string(cfg.Kind)).Str("namespace", namespace).Msg("backend opened")
	return s, nil
}
