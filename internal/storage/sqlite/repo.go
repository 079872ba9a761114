package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"logparsely/internal/ddl"
	"logparsely/internal/storage"

	_ "modernc.org/sqlite"
)

// Kind is the storage kind this package registers.
const Kind = "sqlite"

// ErrNoSeqColumn is returned by EnsureTable for an existing table that lacks
// the arrival-order key.
var ErrNoSeqColumn = errors.New("sqlite: table has no " + storage.ColSeq + " column")

// Repository is a SQLite-backed implementation of storage.Repository. It holds
// a single connection: SQLite admits one writer at a time, and readers use
// their own connections.
type Repository struct {
	db  *sql.DB
	cfg Config
	d   Dialect
}

// NewRepository opens (creating if needed) the database file at cfg.Path in
// WAL mode and returns a Repository plus a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, nil, fmt.Errorf("sqlite: path must not be empty")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, nil, fmt.Errorf("sqlite: table must not be empty")
	}

	db, err := sql.Open("sqlite", DSN(cfg.Path, cfg.BusyTimeout))
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Ping with a deadline to fail fast on unwritable paths.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping %s: %w", cfg.Path, err)
	}

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: read journal_mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: journal_mode=%s, want wal", mode)
	}

	closeFn := func() { db.Close() }
	return &Repository{db: db, cfg: cfg, d: Dialect{}}, closeFn, nil
}

// Dialect implements storage.Repository.
func (r *Repository) Dialect() storage.Dialect { return r.d }

// EnsureTable creates the table with its metadata columns, or brings an
// existing table up to date with the metadata columns it lacks.
func (r *Repository) EnsureTable(ctx context.Context) error {
	td := storage.BaseTable(r.cfg.Table, r.d)
	stmt, err := ddl.BuildCreateTableSQL(td, ddl.QuoteDouble)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlite: create table %s: %w", r.cfg.Table, err)
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
	for _, c := range td.Columns {
		if have[c.Name] || c.PrimaryKey {
			continue
		}
		q, err := ddl.BuildAddColumnSQL(r.cfg.Table, c, ddl.QuoteDouble)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite: add %s: %w", c.Name, err)
		}
	}
	return nil
}

// Columns lists the table's columns in ordinal order.
func (r *Repository) Columns(ctx context.Context) ([]storage.ColumnInfo, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name, type FROM pragma_table_info(?) ORDER BY cid", r.cfg.Table)
	if err != nil {
		return nil, fmt.Errorf("sqlite: table_info %s: %w", r.cfg.Table, err)
	}
	defer rows.Close()

	var out []storage.ColumnInfo
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, fmt.Errorf("sqlite: scan table_info: %w", err)
		}
		out = append(out, storage.ColumnInfo{
			Name:     name,
			Type:     r.d.KindOf(typ),
			Internal: storage.IsInternal(name),
		})
	}
	return out, rows.Err()
}

// Begin starts a write transaction (BEGIN IMMEDIATE via the DSN).
func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	t, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	return &tx{tx: t, table: r.cfg.Table, d: r.d, stmts: map[string]*sql.Stmt{}}, nil
}

// Close closes the underlying connection.
func (r *Repository) Close() error { return r.db.Close() }

type tx struct {
	tx    *sql.Tx
	table string
	d     Dialect
	stmts map[string]*sql.Stmt // INSERT statements keyed by column list
}

func (t *tx) AddColumn(ctx context.Context, col ddl.ColumnDef) error {
	if col.SQLType == "" {
		col.SQLType = t.d.MapType(col.Type)
	}
	col.Nullable = true
	q, err := ddl.BuildAddColumnSQL(t.table, col, ddl.QuoteDouble)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("sqlite: add column %s: %w", col.Name, err)
	}
	// The table shape changed; statements prepared against it are stale.
	t.closeStmts()
	return nil
}

// WidenColumn is a no-op: column affinity keeps fractional values intact.
func (t *tx) WidenColumn(context.Context, string, ddl.Type) error { return nil }

func (t *tx) Insert(ctx context.Context, columns []string, values []any) error {
	if len(columns) != len(values) {
		return fmt.Errorf("sqlite: insert: %d columns, %d values", len(columns), len(values))
	}
	key := strings.Join(columns, "\x00")
	stmt, ok := t.stmts[key]
	if !ok {
		var err error
		stmt, err = t.tx.PrepareContext(ctx, insertSQL(t.table, columns))
		if err != nil {
			return fmt.Errorf("sqlite: prepare insert: %w", err)
		}
		t.stmts[key] = stmt
	}
	if _, err := stmt.ExecContext(ctx, values...); err != nil {
		return fmt.Errorf("sqlite: insert: %w", err)
	}
	return nil
}

func (t *tx) Commit(context.Context) error {
	t.closeStmts()
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (t *tx) Rollback(context.Context) error {
	t.closeStmts()
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("sqlite: rollback: %w", err)
	}
	return nil
}

func (t *tx) closeStmts() {
	for k, s := range t.stmts {
		s.Close()
		delete(t.stmts, k)
	}
}

// insertSQL builds INSERT INTO <table> (<cols>) VALUES (?, ...). An empty
// column list inserts a row of defaults.
func insertSQL(table string, columns []string) string {
	if len(columns) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", ddl.QuoteFQN(table, ddl.QuoteDouble))
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = ddl.QuoteDouble(c)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		ddl.QuoteFQN(table, ddl.QuoteDouble),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "),
	)
}
