// Package config loads objstore settings from a TOML file laid over
// defaults.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/aweris/objstore/internal/compression"
	"github.com/aweris/objstore/internal/store"
)

// Config is the resolved configuration of an object store.
type Config struct {
	Backend          store.Kind
	Dir              string
	DBPath           string
	CacheSize        int
	Compression      string
	CompressionLevel int
	PoolSize         int
	// SealKey is a hex-encoded 32-byte key; empty disables encryption.
	SealKey       string
	HashAlgorithm string
	Concurrency   int
	Remote        string
}

// config.toml key mapping.
type fileConfig struct {
	Backend          string `toml:"backend"`
	Dir              string `toml:"dir"`
	DBPath           string `toml:"db_path"`
	CacheSize        int    `toml:"cache_size"`
	Compression      string `toml:"compression"`
	CompressionLevel int    `toml:"compression_level"`
	PoolSize         int    `toml:"pool_size"`
	SealKey          string `toml:"seal_key"`
	HashAlgorithm    string `toml:"hash_algorithm"`
	Concurrency      int    `toml:"concurrency"`
	Remote           string `toml:"remote"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Backend:       store.KindLocal,
		Dir:           DefaultDir(),
		CacheSize:     store.DefaultCacheSize,
		Compression:   "zstd",
		PoolSize:      4,
		HashAlgorithm: "sha256",
		Concurrency:   8,
	}
}

// DefaultDir follows the XDG data directory convention.
func DefaultDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "objstore")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "objstore")
	}
	return ".objstore"
}

// Load reads path and overlays every key it defines onto Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load objstore config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load objstore config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("backend") {
		cfg.Backend = store.Kind(strings.TrimSpace(raw.Backend))
	}
	if meta.IsDefined("dir") {
		cfg.Dir = ExpandPath(strings.TrimSpace(raw.Dir))
	}
	if meta.IsDefined("db_path") {
		cfg.DBPath = ExpandPath(strings.TrimSpace(raw.DBPath))
	}
	if meta.IsDefined("cache_size") {
		cfg.CacheSize = raw.CacheSize
	}
	if meta.IsDefined("compression") {
		cfg.Compression = strings.TrimSpace(raw.Compression)
	}
	if meta.IsDefined("compression_level") {
		cfg.CompressionLevel = raw.CompressionLevel
	}
	if meta.IsDefined("pool_size") {
		cfg.PoolSize = raw.PoolSize
	}
	if meta.IsDefined("seal_key") {
		cfg.SealKey = strings.TrimSpace(raw.SealKey)
	}
	if meta.IsDefined("hash_algorithm") {
		cfg.HashAlgorithm = strings.TrimSpace(raw.HashAlgorithm)
	}
	if meta.IsDefined("concurrency") {
		cfg.Concurrency = raw.Concurrency
	}
	if meta.IsDefined("remote") {
		cfg.Remote = strings.TrimSpace(raw.Remote)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load objstore config: %w", err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise only fail on first use.
func (c Config) Validate() error {
	switch c.Backend {
	case store.KindMemory, store.KindLocal, store.KindSQLite:
	default:
		return fmt.Errorf("unsupported backend %q (expected memory, local or sqlite)", c.Backend)
	}
	if c.Backend == store.KindLocal && c.Dir == "" {
		return fmt.Errorf("dir is required for the local backend")
	}
	if _, err := compression.ParseAlgorithm(c.Compression); err != nil {
		return err
	}
	if _, err := c.sealKey(); err != nil {
		return err
	}
	if c.CacheSize < 0 || c.PoolSize < 0 || c.Concurrency < 0 {
		return fmt.Errorf("cache_size, pool_size and concurrency must not be negative")
	}
	return nil
}

// Store converts the backend settings into a store.Config.
func (c Config) Store(logger zerolog.Logger) (store.Config, error) {
	algo, err := compression.ParseAlgorithm(c.Compression)
	if err != nil {
		return store.Config{}, err
	}
	key, err := c.sealKey()
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Kind:             c.Backend,
		Dir:              c.Dir,
		Path:             c.DBPath,
		CacheSize:        c.CacheSize,
		Compression:      algo,
		CompressionLevel: c.CompressionLevel,
		PoolSize:         c.PoolSize,
		SealKey:          key,
		Logger:           logger,
	}, nil
}

func (c Config) sealKey() ([]byte, error) {
	if c.SealKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.SealKey)
	if err != nil {
		return nil, fmt.Errorf("seal_key: %w", err)
	}
	if len(key) != store.KeySize {
		return nil, fmt.Errorf("seal_key: got %d bytes, want %d", len(key), store.KeySize)
	}
	return key, nil
}

// ExpandPath resolves a leading "~/" to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
