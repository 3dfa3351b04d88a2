package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/aweris/objstore/internal/sqlitepool"
)

var namespacePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// SQLite implements Store as one table per namespace in a SQLite database.
// CompareAndSwap is a single conditional statement, so it stays atomic
// across processes sharing the database file.
type SQLite struct {
	pool  *sqlitepool.Pool
	table string
}

var (
	_ Store   = (*SQLite)(nil)
	_ Swapper = (*SQLite)(nil)
)

func NewSQLite(path, namespace string, poolSize int, logger zerolog.Logger) (*SQLite, error) {
	if !namespacePattern.MatchString(namespace) {
		return nil, fmt.Errorf("store: invalid sqlite namespace %q", namespace)
	}
	table := "kv_" + namespace

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					key   TEXT PRIMARY KEY,
					value BLOB NOT NULL
				) WITHOUT ROWID;
			`, table), nil)
		},
	})
	if err != nil {
		return nil, err
	}
	return &SQLite{pool: pool, table: table}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var (
		data  []byte
		found bool
	)
	err = sqlitex.Execute(conn, fmt.Sprintf("SELECT value FROM %s WHERE key = ?", s.table), &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			data = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, data)
			found = true
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite get %s: %w", key, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *SQLite) Put(ctx context.Context, key string, data []byte) error {
	return s.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, s.table), key, data)
}

func (s *SQLite) Remove(ctx context.Context, key string) error {
	return s.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE key = ?", s.table), key)
}

func (s *SQLite) Has(ctx context.Context, key string) (bool, error) {
	var found bool
	err := s.query(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE key = ?", s.table), []any{key}, func(stmt *sqlite.Stmt) error {
		found = true
		return nil
	})
	return found, err
}

func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.query(ctx, fmt.Sprintf("SELECT key FROM %s", s.table), nil, func(stmt *sqlite.Stmt) error {
		keys = append(keys, stmt.ColumnText(0))
		return nil
	})
	return keys, err
}

func (s *SQLite) Len(ctx context.Context) (int, error) {
	var count int
	err := s.query(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table), nil, func(stmt *sqlite.Stmt) error {
		count = stmt.ColumnInt(0)
		return nil
	})
	return count, err
}

func (s *SQLite) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	if old == nil {
		err = sqlitex.Execute(conn, fmt.Sprintf(`
			INSERT INTO %s (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO NOTHING
		`, s.table), &sqlitex.ExecOptions{Args: []any{key, next}})
	} else {
		err = sqlitex.Execute(conn, fmt.Sprintf(
			"UPDATE %s SET value = ? WHERE key = ? AND value = ?", s.table,
		), &sqlitex.ExecOptions{Args: []any{next, key, old}})
	}
	if err != nil {
		return false, fmt.Errorf("sqlite compare-and-swap %s: %w", key, err)
	}
	return conn.Changes() > 0, nil
}

func (s *SQLite) Close() error {
	return s.pool.Close()
}

func (s *SQLite) exec(ctx context.Context, query string, args ...any) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("sqlite exec: %w", err)
	}
	return nil
}

func (s *SQLite) query(ctx context.Context, query string, args []any, fn func(*sqlite.Stmt) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args, ResultFunc: fn}); err != nil {
		return fmt.Errorf("sqlite query: %w", err)
	}
	return nil
}
