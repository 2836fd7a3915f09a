// Package storage is the thin abstraction over an embedded SQL engine:
// query, exec, transaction, checkpoint, close. Concretely backed by
// modernc.org/sqlite, opened with WAL pragmas for concurrent readers.
package storage

import (
	"context"
	"database/sql"
)

// Dialect tags which placeholder style and feature set an Adapter speaks.
// The contract is written against more than one possible backend ($N
// PG-style vs ? embedded-SQL style placeholders); today only SQLite is
// implemented, but callers should not assume it.
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
)

// Tx is the subset of *sql.Tx the adapter exposes to callers inside a
// Transaction callback. It deliberately mirrors *sql.Tx's query surface so
// callers can write normal database/sql code.
type Tx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Adapter is the full storage contract. Every subsystem in this repo
// depends on Adapter, never on *sql.DB directly, so a second dialect can
// be added without touching callers.
type Adapter interface {
	Dialect() Dialect
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	Transaction(ctx context.Context, fn func(tx Tx) error) error
	Checkpoint(ctx context.Context) error
	Close() error
	// DB exposes the underlying *sql.DB for components (e.g. migration
	// introspection) that need engine-specific metadata queries.
	DB() *sql.DB
}
