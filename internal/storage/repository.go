// Package storage contains the storage-agnostic contracts of the ingest path
// and the registry of concrete backends.
//
// A Repository owns one wide table. Rows are appended inside a Tx; columns are
// added inside the same Tx so a reader never observes a row that references a
// column it cannot see.
package storage

import (
	"context"

	"logparsely/internal/ddl"
)

// Dialect describes the identifier and typing rules of a backend.
type Dialect interface {
	// Name is the registered storage kind, e.g. "sqlite".
	Name() string
	// MapType returns the SQL type used for a logical column type.
	MapType(t ddl.Type) string
	// KindOf maps a declared SQL type back to a logical type.
	KindOf(sqlType string) ddl.Type
	// Fold returns the form under which the engine compares identifiers.
	Fold(ident string) string
	// MaxIdentLen is the identifier length limit in bytes, 0 when unlimited.
	MaxIdentLen() int
	// Reserved reports identifiers that would shadow engine metadata.
	Reserved(ident string) bool
	// Strict reports whether a typed column rejects values of other types.
	Strict() bool
	// SeqType is the SQL type of the auto-assigned arrival-order key.
	SeqType() string
}

// ColumnInfo describes a column found in the store.
type ColumnInfo struct {
	Name     string   // physical identifier
	Logical  string   // logical path name when the backend recorded one
	Type     ddl.Type // logical type derived from the declared SQL type
	Internal bool     // one of the _lp_* metadata columns
}

// Tx is one write transaction. DDL and inserts issued through a Tx become
// visible to readers together at Commit.
type Tx interface {
	// AddColumn adds a nullable column. A failed AddColumn leaves the Tx
	// usable.
	AddColumn(ctx context.Context, col ddl.ColumnDef) error
	// WidenColumn changes the declared type of an existing column. Backends
	// with dynamic typing may treat this as a no-op.
	WidenColumn(ctx context.Context, name string, to ddl.Type) error
	// Insert appends one row. values align with columns.
	Insert(ctx context.Context, columns []string, values []any) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository is one open store.
type Repository interface {
	Dialect() Dialect
	// EnsureTable creates the table with its metadata columns if missing and
	// adds any missing nullable metadata columns to an existing table.
	EnsureTable(ctx context.Context) error
	// Columns lists the table's columns in ordinal order.
	Columns(ctx context.Context) ([]ColumnInfo, error)
	Begin(ctx context.Context) (Tx, error)
	Close() error
}
