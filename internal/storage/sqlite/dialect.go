package sqlite

import (
	"logparsely/internal/ddl"
	sqliteddl "logparsely/internal/storage/sqlite/ddl"
)

// Dialect describes SQLite identifier and typing rules.
type Dialect struct{}

func (Dialect) Name() string                { return Kind }
func (Dialect) MapType(t ddl.Type) string   { return sqliteddl.MapType(t) }
func (Dialect) KindOf(decl string) ddl.Type { return sqliteddl.KindOf(decl) }

// Fold lowers ASCII letters only; SQLite compares identifiers
// case-insensitively for ASCII and exactly for everything else.
func (Dialect) Fold(ident string) string {
	b := []byte(ident)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func (Dialect) MaxIdentLen() int { return 0 }

// Reserved reports the rowid aliases. A user column with one of these names
// would hide the real rowid from queries.
func (d Dialect) Reserved(ident string) bool {
	switch d.Fold(ident) {
	case "rowid", "oid", "_rowid_":
		return true
	}
	return false
}

func (Dialect) Strict() bool { return false }

// SeqType makes the sequence column an alias of the rowid.
func (Dialect) SeqType() string { return "INTEGER" }
