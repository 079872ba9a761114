// Package postgres implements storage.Repository on Postgres using pgx v5.
// Every DDL statement inside a transaction runs under its own savepoint, so a
// failed ALTER does not abort the batch it belongs to.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"logparsely/internal/ddl"
	"logparsely/internal/storage"
)

// Kind is the storage kind this package registers.
const Kind = "postgres"

// ErrNoSeqColumn is returned by EnsureTable for an existing table that lacks
// the arrival-order key.
var ErrNoSeqColumn = errors.New("postgres: table has no " + storage.ColSeq + " column")

// Config holds Postgres repository configuration.
type Config struct {
	DSN   string // connection string for pgxpool
	Table string // possibly schema-qualified, e.g. "public.logs"
}

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
	d    Dialect
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, nil, fmt.Errorf("postgres: table must not be empty")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", describe(err))
	}
	closeFn := func() { pool.Close() }
	return &Repository{pool: pool, cfg: cfg, d: Dialect{}}, closeFn, nil
}

// Dialect implements storage.Repository.
func (r *Repository) Dialect() storage.Dialect { return r.d }

// EnsureTable creates the table with its metadata columns, or adds the
// nullable metadata columns an existing table lacks.
func (r *Repository) EnsureTable(ctx context.Context) error {
	stmt, err := createTableSQL(r.cfg.Table, r.d)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", r.cfg.Table, describe(err))
	}

	cols, err := r.Columns(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c.Name] = true
	}
	if !have[storage.ColSeq] {
		return ErrNoSeqColumn
	}
	for _, c := range storage.BaseTable(r.cfg.Table, r.d).Columns {
		if have[c.Name] || c.PrimaryKey {
			continue
		}
		q, err := addColumnSQL(r.cfg.Table, c)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres: add %s: %w", c.Name, describe(err))
		}
	}
	return nil
}

// Columns lists the table's columns in ordinal order. The logical name is
// read back from the column comment.
func (r *Repository) Columns(ctx context.Context) ([]storage.ColumnInfo, error) {
	rows, err := r.pool.Query(ctx, columnsSQL, quoteFQN(r.cfg.Table))
	if err != nil {
		return nil, fmt.Errorf("postgres: list columns of %s: %w", r.cfg.Table, describe(err))
	}
	defer rows.Close()

	var out []storage.ColumnInfo
	for rows.Next() {
		var name, typ, comment string
		if err := rows.Scan(&name, &typ, &comment); err != nil {
			return nil, fmt.Errorf("postgres: scan column: %w", err)
		}
		out = append(out, storage.ColumnInfo{
			Name:     name,
			Logical:  comment,
			Type:     r.d.KindOf(typ),
			Internal: storage.IsInternal(name),
		})
	}
	return out, rows.Err()
}

// Begin starts a write transaction.
func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	t, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", describe(err))
	}
	return &tx{tx: t, table: r.cfg.Table, d: r.d}, nil
}

// Close closes the pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

type tx struct {
	tx    pgx.Tx
	table string
	d     Dialect
}

// savepoint runs stmts under a nested transaction (SAVEPOINT) and rolls back
// to it on failure, leaving the outer transaction usable.
func (t *tx) savepoint(ctx context.Context, stmts ...string) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return describe(err)
	}
	for _, s := range stmts {
		if _, err := sp.Exec(ctx, s); err != nil {
			_ = sp.Rollback(ctx)
			return describe(err)
		}
	}
	return sp.Commit(ctx)
}

func (t *tx) AddColumn(ctx context.Context, col ddl.ColumnDef) error {
	if col.SQLType == "" {
		col.SQLType = t.d.MapType(col.Type)
	}
	q, err := addColumnSQL(t.table, col)
	if err != nil {
		return err
	}
	stmts := []string{q}
	if col.Comment != "" {
		stmts = append(stmts, commentSQL(t.table, col.Name, col.Comment))
	}
	if err := t.savepoint(ctx, stmts...); err != nil {
		return fmt.Errorf("postgres: add column %s: %w", col.Name, err)
	}
	return nil
}

func (t *tx) WidenColumn(ctx context.Context, name string, to ddl.Type) error {
	if err := t.savepoint(ctx, widenSQL(t.table, name, t.d.MapType(to))); err != nil {
		return fmt.Errorf("postgres: widen column %s: %w", name, err)
	}
	return nil
}

func (t *tx) Insert(ctx context.Context, columns []string, values []any) error {
	if len(columns) != len(values) {
		return fmt.Errorf("postgres: insert: %d columns, %d values", len(columns), len(values))
	}
	if _, err := t.tx.Exec(ctx, insertSQL(t.table, columns), values...); err != nil {
		return fmt.Errorf("postgres: insert: %w", describe(err))
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", describe(err))
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

// describe folds the server's detail and SQLSTATE into the message.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w (%s: %s)", err, pgErr.SQLState(), pgErr.Detail)
	}
	return err
}
