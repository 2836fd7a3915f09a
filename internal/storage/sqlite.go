package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteAdapter implements Adapter over modernc.org/sqlite, a pure-Go
// engine opened with WAL journaling and busy-timeout pragmas, used as the
// shared coordination store every agent process attaches to.
type SQLiteAdapter struct {
	db   *sql.DB
	path string
}

// Open opens (creating parent directories as needed) the SQLite file at
// path in WAL mode with foreign keys enabled.
func Open(path string) (*SQLiteAdapter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteAdapter{db: db, path: path}, nil
}

// OpenMemory opens an in-memory database, used by tests that want
// migration/projection behavior without a file on disk.
func OpenMemory() (*SQLiteAdapter, error) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}
	db.SetMaxOpenConns(1) // a shared in-memory db needs a single connection to stay visible across Query calls
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping memory database: %w", err)
	}
	return &SQLiteAdapter{db: db, path: ":memory:"}, nil
}

func (a *SQLiteAdapter) Dialect() Dialect { return DialectSQLite }

func (a *SQLiteAdapter) Path() string { return a.path }

func (a *SQLiteAdapter) DB() *sql.DB { return a.db }

func (a *SQLiteAdapter) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	q, p := ConvertPlaceholders(query, args)
	return a.db.ExecContext(ctx, q, p...)
}

func (a *SQLiteAdapter) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	q, p := ConvertPlaceholders(query, args)
	return a.db.QueryContext(ctx, q, p...)
}

func (a *SQLiteAdapter) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	q, p := ConvertPlaceholders(query, args)
	return a.db.QueryRowContext(ctx, q, p...)
}

// sqlTx adapts *sql.Tx to the Tx interface with the same placeholder
// normalization Exec/Query apply outside a transaction.
type sqlTx struct{ tx *sql.Tx }

func (t *sqlTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	q, p := ConvertPlaceholders(query, args)
	return t.tx.ExecContext(ctx, q, p...)
}

func (t *sqlTx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	q, p := ConvertPlaceholders(query, args)
	return t.tx.QueryContext(ctx, q, p...)
}

func (t *sqlTx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	q, p := ConvertPlaceholders(query, args)
	return t.tx.QueryRowContext(ctx, q, p...)
}

// Transaction runs fn inside a database transaction, committing on a nil
// return and rolling back otherwise — including on panic, which it
// re-panics after rollback.
func (a *SQLiteAdapter) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Checkpoint flushes the write-ahead log. The migration runner calls it
// after migrations apply; Close does not checkpoint.
func (a *SQLiteAdapter) Checkpoint(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}
