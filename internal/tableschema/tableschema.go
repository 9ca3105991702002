// Package tableschema defines the optional per-table column contract
// consulted during delta ingest and flush serialisation.
package tableschema

// ColumnType is a table schema's declared column type.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeNumber  ColumnType = "number"
	TypeBoolean ColumnType = "boolean"
	TypeJSON    ColumnType = "json"
	TypeNull    ColumnType = "null"
)

// Column is one column declaration within a Schema.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Schema is an optional per-table column allow-list and type contract.
// The zero value (no columns) means "no schema": ingest performs no
// column filtering and flush serialises as JSON-lines.
type Schema struct {
	Table   string   `json:"table"`
	Columns []Column `json:"columns"`
}

// Present reports whether a real schema is in effect.
func (s Schema) Present() bool {
	return len(s.Columns) > 0
}

// ColumnType returns the declared type for name, if any.
func (s Schema) ColumnType(name string) (ColumnType, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c.Type, true
		}
	}
	return "", false
}

// ColumnNames returns the schema's column names in declaration order.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}
