// Package ddl defines a small, backend-agnostic model for SQL DDL and helpers
// to render the statements the ingest path needs: CREATE TABLE for the base
// table and ALTER TABLE ... ADD COLUMN for columns discovered at runtime.
//
// Quoting is supplied by the caller so one renderer serves every backend:
//
//   - Identifiers are passed through Quote; dotted FQNs are quoted per part.
//   - ColumnDef.Default is emitted as raw SQL (the caller is responsible for
//     dialect correctness).
package ddl

import (
	"fmt"
	"strings"
)

// Quote quotes a single identifier segment.
type Quote func(ident string) string

// QuoteDouble is the standard SQL double-quote form, valid for SQLite and
// Postgres.
func QuoteDouble(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// QuoteFQN quotes each dot-separated part of fqn.
func QuoteFQN(fqn string, q Quote) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, q(p))
	}
	return strings.Join(out, ".")
}

// BuildCreateTableSQL renders a CREATE TABLE IF NOT EXISTS statement.
//
// Rules:
//
//   - t.FQN must be non-empty.
//   - Each column must have a non-empty Name and SQLType.
//   - A column is rendered as <Name> <SQLType> [NOT NULL] [DEFAULT <Default>].
//   - Columns with PrimaryKey == true are rendered as a trailing
//     PRIMARY KEY (...) clause.
func BuildCreateTableSQL(t TableDef, q Quote) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, 1)

	for _, c := range t.Columns {
		col, err := columnClause(c, q)
		if err != nil {
			return "", fmt.Errorf("ddl: table %s: %w", fqn, err)
		}
		cols = append(cols, col)
		if c.PrimaryKey {
			pks = append(pks, q(c.Name))
		}
	}

	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s\n);",
		QuoteFQN(fqn, q),
		strings.Join(cols, ",\n  "),
	)
	return stmt, nil
}

// BuildAddColumnSQL renders ALTER TABLE <fqn> ADD COLUMN <clause>. Primary key
// columns cannot be added this way.
func BuildAddColumnSQL(fqn string, c ColumnDef, q Quote) (string, error) {
	if strings.TrimSpace(fqn) == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if c.PrimaryKey {
		return "", fmt.Errorf("ddl: column %s: cannot add a primary key column", c.Name)
	}
	col, err := columnClause(c, q)
	if err != nil {
		return "", fmt.Errorf("ddl: table %s: %w", fqn, err)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", QuoteFQN(fqn, q), col), nil
}

func columnClause(c ColumnDef, q Quote) (string, error) {
	if c.Name == "" {
		return "", fmt.Errorf("column with empty name")
	}
	typ := strings.TrimSpace(c.SQLType)
	if typ == "" {
		return "", fmt.Errorf("column %s missing SQLType", c.Name)
	}

	var sb strings.Builder
	sb.WriteString(q(c.Name))
	sb.WriteByte(' ')
	sb.WriteString(typ)
	if !c.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if def := strings.TrimSpace(c.Default); def != "" {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(def)
	}
	return sb.String(), nil
}
