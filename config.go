package objstore

import (
	"fmt"

	"github.com/aweris/objstore/internal/config"
	"github.com/aweris/objstore/internal/store"
)

// Backend namespaces. The value graph and the entity index never share a
// key space.
const (
	NamespaceValues   = "values"
	NamespaceEntities = "entities"
)

// Config is the file-level configuration of an object store.
type Config = config.Config

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a TOML config file over the defaults.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// Open creates the two backends described by cfg and an object store over
// them. Options override the matching config settings.
func Open(cfg Config, opts ...Option) (*ObjectStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := []Option{
		WithHashAlgorithm(Algorithm(cfg.HashAlgorithm)),
		WithConcurrency(cfg.Concurrency),
	}
	if cfg.Remote != "" {
		base = append(base, WithRemote(cfg.Remote))
	}
	opts = append(base, opts...)
	options := applyOptions(opts)

	backendCfg, err := cfg.Store(options.Logger)
	if err != nil {
		return nil, err
	}

	valueBackend, err := store.Open(backendCfg, NamespaceValues)
	if err != nil {
		return nil, fmt.Errorf("open value backend: %w", err)
	}
	index, err := store.Open(backendCfg, NamespaceEntities)
	if err != nil {
		valueBackend.Close()
		return nil, fmt.Errorf("open entity index: %w", err)
	}

	values, err := NewValueStore(valueBackend, opts...)
	if err != nil {
		valueBackend.Close()
		index.Close()
		return nil, err
	}
	objects, err := NewObjectStore(values, index, opts...)
	if err != nil {
		valueBackend.Close()
		index.Close()
		return nil, err
	}
	return objects, nil
}
