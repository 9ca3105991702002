package buffer

import (
	"fmt"

	"github.com/adred-codev/ws_poc/internal/delta"
	"github.com/adred-codev/ws_poc/internal/errs"
	"github.com/adred-codev/ws_poc/internal/tableschema"
)

func valueMatchesType(v any, t tableschema.ColumnType) bool {
	switch t {
	case tableschema.TypeString:
		_, ok := v.(string)
		return ok
	case tableschema.TypeNumber:
		_, ok := v.(float64)
		return ok
	case tableschema.TypeBoolean:
		_, ok := v.(bool)
		return ok
	case tableschema.TypeNull:
		return v == nil
	case tableschema.TypeJSON:
		return true
	default:
		return false
	}
}

// ApplySchema validates d against schema (when schema.Present()): every
// remaining column must be declared and type-consistent. Unknown
// columns are dropped, not rejected, since the schema acts as a column
// allow-list. A declared column whose value does not match its type is
// a SchemaMismatch.
func ApplySchema(d delta.Delta, schema tableschema.Schema) (delta.Delta, error) {
	if !schema.Present() {
		return d, nil
	}

	kept := make([]delta.Column, 0, len(d.Columns))
	for _, c := range d.Columns {
		t, declared := schema.ColumnType(c.Column)
		if !declared {
			continue
		}
		if !valueMatchesType(c.Value, t) {
			return delta.Delta{}, errs.New(errs.KindSchemaMismatch,
				fmt.Sprintf("column %q: value does not match declared type %q", c.Column, t))
		}
		kept = append(kept, c)
	}
	d.Columns = kept
	return d, nil
}
