package postgres

import (
	"logparsely/internal/ddl"
	pgddl "logparsely/internal/storage/postgres/ddl"
)

// MaxIdentLen is NAMEDATALEN-1; longer identifiers are silently truncated by
// the server, so callers must shorten them first.
const MaxIdentLen = 63

// Dialect describes Postgres identifier and typing rules for quoted
// identifiers.
type Dialect struct{}

func (Dialect) Name() string                     { return Kind }
func (Dialect) MapType(t ddl.Type) string        { return pgddl.MapType(t) }
func (Dialect) KindOf(formatted string) ddl.Type { return pgddl.KindOf(formatted) }

// Fold is the identity: quoted identifiers are compared exactly.
func (Dialect) Fold(ident string) string { return ident }
func (Dialect) MaxIdentLen() int         { return MaxIdentLen }

// Reserved reports the system column names, which cannot be used for user
// columns.
func (Dialect) Reserved(ident string) bool {
	switch ident {
	case "tableoid", "xmin", "cmin", "xmax", "cmax", "ctid":
		return true
	}
	return false
}

// Strict is true: a BIGINT column rejects 'abc'.
func (Dialect) Strict() bool    { return true }
func (Dialect) SeqType() string { return "BIGINT GENERATED BY DEFAULT AS IDENTITY" }
