package sqlitepool

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func openTestPool(t *testing.T, onConnect func(*sqlite.Conn) error) *Pool {
	t.Helper()
	pool, err := Open(Config{
		Path:      filepath.Join(t.TempDir(), "test.db"),
		PoolSize:  2,
		Logger:    zerolog.Nop(),
		OnConnect: onConnect,
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestPragmasApplied(t *testing.T) {
	pool := openTestPool(t, nil)

	conn, err := pool.Take(context.Background())
	require.NoError(t, err)
	defer pool.Put(conn)

	var journalMode string
	err = sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			journalMode = stmt.ColumnText(0)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "wal", journalMode)
}

func TestOnConnectCreatesSchema(t *testing.T) {
	var called bool
	pool := openTestPool(t, func(conn *sqlite.Conn) error {
		called = true
		return sqlitex.ExecuteScript(conn, `CREATE TABLE IF NOT EXISTS samples (value TEXT NOT NULL);`, nil)
	})

	conn, err := pool.Take(context.Background())
	require.NoError(t, err)
	defer pool.Put(conn)

	assert.True(t, called)
	err = sqlitex.Execute(conn, "INSERT INTO samples (value) VALUES (?)", &sqlitex.ExecOptions{
		Args: []any{"hello"},
	})
	assert.NoError(t, err)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
