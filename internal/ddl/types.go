package ddl

import "strconv"

// Type is the logical storage type of a column. Backends map it to a SQL type.
type Type uint8

const (
	TypeNull Type = iota // only nulls observed; never materialized as a column
	TypeBoolean
	TypeInteger
	TypeFloat
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	default:
		return "type(" + strconv.Itoa(int(t)) + ")"
	}
}

// ColumnDef describes a single column in a table definition.
//
// Fields:
//   - Name: physical column name (unquoted; quoting happens at render time)
//   - Type: logical type, used by backends that derive SQLType themselves
//   - SQLType: target SQL type (e.g., TEXT, BIGINT)
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: whether the column is part of the primary key
//   - Default: raw default expression
//   - Comment: free text kept with the column where the backend supports it
type ColumnDef struct {
	Name       string
	Type       Type
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
	Comment    string
}

// TableDef holds the table name (FQN) and an ordered list of columns. The FQN
// may be dotted ("schema.table"); renderers quote each part.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}
