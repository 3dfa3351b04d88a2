package objstore

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aweris/objstore/internal/remote"
)

// DefaultConcurrency bounds parallel child reads and writes.
const DefaultConcurrency = 8

// Authenticator provides credentials for remote registries.
type Authenticator = remote.Authenticator

// Options configures a ValueStore or an ObjectStore.
type Options struct {
	HashAlgorithm Algorithm
	Logger        zerolog.Logger
	Concurrency   int
	Clock         func() time.Time
	Remote        string
	Auth          Authenticator
}

// Option is a functional option for configuring stores.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		HashAlgorithm: SHA256,
		Logger:        zerolog.Nop(),
		Concurrency:   DefaultConcurrency,
		Clock:         time.Now,
	}
}

func applyOptions(opts []Option) *Options {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithHashAlgorithm selects the hash function for new values.
func WithHashAlgorithm(algo Algorithm) Option {
	return func(o *Options) { o.HashAlgorithm = algo }
}

// WithLogger sets the logger. Stores are silent by default.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithConcurrency sets the number of parallel backend operations.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithClock overrides the time source for commit timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		if clock != nil {
			o.Clock = clock
		}
	}
}

// WithRemote sets the OCI image reference used by Push and Pull,
// e.g. "ghcr.io/acme/objects:main".
func WithRemote(imageRef string) Option {
	return func(o *Options) { o.Remote = imageRef }
}

// WithAuth sets custom registry authentication.
func WithAuth(auth Authenticator) Option {
	return func(o *Options) { o.Auth = auth }
}
