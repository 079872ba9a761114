package storage

import (
	"strings"

	"logparsely/internal/ddl"
)

// Metadata columns present in every table. They share the InternalPrefix,
// which the schema registry never hands out to a path.
const (
	InternalPrefix = "_lp_"

	ColSeq        = "_lp_seq"         // arrival order, primary key
	ColLine       = "_lp_line"        // source line number
	ColIngestedAt = "_lp_ingested_at" // RFC3339Nano arrival time
	ColRaw        = "_lp_raw"         // unparsable line, when kept
	ColOverflow   = "_lp_overflow"    // JSON object of values that had no usable column

	// ColValue holds a document that is a bare scalar. Unlike the columns
	// above it is created lazily like any other path column.
	ColValue = "_lp_value"
)

// IsInternal reports whether name is one of the metadata columns.
func IsInternal(name string) bool {
	switch name {
	case ColSeq, ColLine, ColIngestedAt, ColRaw, ColOverflow:
		return true
	}
	return false
}

// HasInternalPrefix reports whether ident, folded by d, falls in the
// namespace reserved for metadata columns.
func HasInternalPrefix(d Dialect, ident string) bool {
	return strings.HasPrefix(d.Fold(ident), d.Fold(InternalPrefix))
}

// BaseTable is the table definition created by EnsureTable.
func BaseTable(table string, d Dialect) ddl.TableDef {
	return ddl.TableDef{
		FQN: table,
		Columns: []ddl.ColumnDef{
			{Name: ColSeq, SQLType: d.SeqType(), PrimaryKey: true},
			{Name: ColLine, Type: ddl.TypeInteger, SQLType: d.MapType(ddl.TypeInteger), Nullable: true},
			{Name: ColIngestedAt, Type: ddl.TypeString, SQLType: d.MapType(ddl.TypeString), Nullable: true},
			{Name: ColRaw, Type: ddl.TypeString, SQLType: d.MapType(ddl.TypeString), Nullable: true},
			{Name: ColOverflow, Type: ddl.TypeString, SQLType: d.MapType(ddl.TypeString), Nullable: true},
		},
	}
}
