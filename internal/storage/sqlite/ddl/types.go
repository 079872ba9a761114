// Package ddl contains SQLite-specific type mapping.
//
// SQLite types are affinities rather than constraints, so any value can be
// written to any column. Affinity also converts: text such as "007" written
// to an INTEGER column is stored as the integer 7. Non-string columns are
// therefore declared with names containing BLOB, which gives them no
// affinity, and the logical type is carried in the rest of the name so it
// survives a restart.
package ddl

import (
	"strings"

	"logparsely/internal/ddl"
)

// Declared types for non-string columns. None may contain "INT", "CHAR",
// "CLOB" or "TEXT", which SQLite checks before "BLOB".
const (
	BooleanType = "LP_BOOL_BLOB"
	IntegerType = "LP_I64_BLOB"
	FloatType   = "LP_F64_BLOB"
)

// MapType maps a logical type into a SQLite declared type.
//
//   - boolean -> LP_BOOL_BLOB (stored as 0/1)
//   - integer -> LP_I64_BLOB
//   - float   -> LP_F64_BLOB
//   - others  -> TEXT
func MapType(t ddl.Type) string {
	switch t {
	case ddl.TypeBoolean:
		return BooleanType
	case ddl.TypeInteger:
		return IntegerType
	case ddl.TypeFloat:
		return FloatType
	default:
		return "TEXT"
	}
}

// KindOf maps a declared type back to a logical type, following SQLite's
// affinity rules for names MapType does not produce.
func KindOf(declared string) ddl.Type {
	d := strings.ToUpper(strings.TrimSpace(declared))
	switch d {
	case BooleanType:
		return ddl.TypeBoolean
	case IntegerType:
		return ddl.TypeInteger
	case FloatType:
		return ddl.TypeFloat
	}
	switch {
	case strings.Contains(d, "BOOL"):
		return ddl.TypeBoolean
	case strings.Contains(d, "INT"):
		return ddl.TypeInteger
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"):
		return ddl.TypeString
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"):
		return ddl.TypeFloat
	default:
		return ddl.TypeString
	}
}
