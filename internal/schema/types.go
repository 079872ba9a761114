// Package schema owns the mapping from flattened paths to table columns.
//
// The Registry is the only writer of schema state. It decides which column a
// path lives in, what type that column is declared with, and how a value
// that does not fit the declared type is stored. Columns are created lazily,
// at the first non-null observation of a path, and are never dropped or
// renamed.
package schema

import (
	"logparsely/internal/ddl"
	"logparsely/internal/flatten"
)

// TypeOf returns the column type for a scalar of kind k.
func TypeOf(k flatten.Kind) ddl.Type {
	switch k {
	case flatten.KindBool:
		return ddl.TypeBoolean
	case flatten.KindInt:
		return ddl.TypeInteger
	case flatten.KindFloat:
		return ddl.TypeFloat
	case flatten.KindString:
		return ddl.TypeString
	default:
		return ddl.TypeNull
	}
}
