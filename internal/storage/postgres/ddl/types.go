// Package ddl contains Postgres-specific type mapping.
package ddl

import (
	"strings"

	"logparsely/internal/ddl"
)

// MapType maps a logical type into a Postgres SQL type.
//
//	boolean  -> BOOLEAN
//	integer  -> BIGINT
//	float    -> DOUBLE PRECISION
//	others   -> TEXT
func MapType(t ddl.Type) string {
	switch t {
	case ddl.TypeBoolean:
		return "BOOLEAN"
	case ddl.TypeInteger:
		return "BIGINT"
	case ddl.TypeFloat:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

// KindOf maps the output of format_type() back to a logical type. Types the
// ingest path never creates are reported as strings, which keeps them out of
// type reconciliation.
func KindOf(formatted string) ddl.Type {
	f := strings.ToLower(strings.TrimSpace(formatted))
	switch {
	case f == "boolean":
		return ddl.TypeBoolean
	case f == "bigint", f == "integer", f == "smallint":
		return ddl.TypeInteger
	case f == "double precision", f == "real", strings.HasPrefix(f, "numeric"):
		return ddl.TypeFloat
	default:
		return ddl.TypeString
	}
}
