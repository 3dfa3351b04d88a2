// Package sqlitepool opens fixed-size pools of SQLite connections with the
// pragmas every objstore database uses.
package sqlitepool

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Config holds the parameters for opening a SQLite connection pool.
type Config struct {
	// Path is the database file. It is created if missing; its parent
	// directory must exist.
	Path string

	// PoolSize defaults to max(runtime.NumCPU(), 4) when zero or negative.
	PoolSize int

	// Logger receives pool open/close messages.
	Logger zerolog.Logger

	// OnConnect runs once per connection after the standard pragmas, e.g. to
	// create schema. An error discards the connection.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool wraps sqlitex.Pool. It is safe for concurrent use; connections are
// not, so each goroutine must Take its own and Put it back.
type Pool struct {
	inner  *sqlitex.Pool
	logger zerolog.Logger
	path   string
}

func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, cfg.OnConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}

	cfg.Logger.Debug().Str("path", cfg.Path).Int("pool_size", poolSize).Msg("sqlite pool opened")

	return &Pool{
		inner:  inner,
		logger: cfg.Logger,
		path:   cfg.Path,
	}, nil
}

// Take borrows a connection, blocking until one is free or ctx is done.
// The caller must Put it back:
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Safe to call with nil.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes all connections, waiting for borrowed ones to return.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error().Err(err).Str("path", p.path).Msg("sqlite pool close error")
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Debug().Str("path", p.path).Msg("sqlite pool closed")
	return nil
}

func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}

	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("sqlitepool: OnConnect: %w", err)
		}
	}
	return nil
}
