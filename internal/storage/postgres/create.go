package postgres

import (
	"fmt"
	"strings"

	"logparsely/internal/ddl"
	"logparsely/internal/storage"
)

// SQL builders for the Postgres backend. They are pure so statements can be
// checked without a server.

func quoteIdent(id string) string { return ddl.QuoteDouble(id) }

func quoteFQN(f string) string { return ddl.QuoteFQN(f, quoteIdent) }

// quoteLiteral quotes s as a string constant. Backslashes switch to the E''
// form so the result is correct whatever standard_conforming_strings says.
func quoteLiteral(s string) string {
	s = strings.ReplaceAll(s, `'`, `''`)
	if strings.Contains(s, `\`) {
		return `E'` + strings.ReplaceAll(s, `\`, `\\`) + `'`
	}
	return `'` + s + `'`
}

func createTableSQL(table string, d Dialect) (string, error) {
	return ddl.BuildCreateTableSQL(storage.BaseTable(table, d), quoteIdent)
}

func addColumnSQL(table string, col ddl.ColumnDef) (string, error) {
	col.Nullable = true
	return ddl.BuildAddColumnSQL(table, col, quoteIdent)
}

func commentSQL(table, column, comment string) string {
	return fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s", quoteFQN(table), quoteIdent(column), quoteLiteral(comment))
}

func widenSQL(table, column, sqlType string) string {
	c := quoteIdent(column)
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s", quoteFQN(table), c, sqlType, c, sqlType)
}

// columnsSQL lists live columns with their formatted type and comment. $1 is
// the quoted table name.
const columnsSQL = `SELECT a.attname, format_type(a.atttypid, a.atttypmod), COALESCE(col_description(a.attrelid, a.attnum), '')
FROM pg_attribute a
WHERE a.attrelid = $1::regclass AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`

func insertSQL(table string, columns []string) string {
	if len(columns) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quoteFQN(table))
	}
	cols := make([]string, len(columns))
	ph := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = quoteIdent(c)
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteFQN(table), strings.Join(cols, ", "), strings.Join(ph, ", "))
}
