package columnar

import (
	"reflect"
	"testing"

	"github.com/adred-codev/ws_poc/internal/delta"
	"github.com/adred-codev/ws_poc/internal/hlc"
	"github.com/adred-codev/ws_poc/internal/tableschema"
)

func TestSerializeJSONLinesWhenNoSchema(t *testing.T) {
	deltas := []delta.Delta{
		{Op: delta.OpInsert, Table: "todos", RowID: "1", ClientID: "a", HLC: hlc.Encode(100, 0), DeltaID: "id1",
			Columns: []delta.Column{{Column: "title", Value: "buy milk"}}},
		{Op: delta.OpDelete, Table: "todos", RowID: "2", ClientID: "b", HLC: hlc.Encode(200, 0), DeltaID: "id2"},
	}

	data, ext, err := Serialize(deltas, tableschema.Schema{})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if ext != ExtJSONLines {
		t.Fatalf("ext = %q, want %q", ext, ExtJSONLines)
	}

	got, err := Deserialize(data, ext)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if !reflect.DeepEqual(got, deltas) {
		t.Fatalf("round-trip mismatch\n got  %+v\n want %+v", got, deltas)
	}
}

func TestSerializeColumnarWhenSchemaPresent(t *testing.T) {
	schema := tableschema.Schema{
		Table: "todos",
		Columns: []tableschema.Column{
			{Name: "title", Type: tableschema.TypeString},
			{Name: "done", Type: tableschema.TypeBoolean},
		},
	}
	deltas := []delta.Delta{
		{Op: delta.OpInsert, Table: "todos", RowID: "1", ClientID: "a", HLC: hlc.Encode(100, 0), DeltaID: "id1",
			Columns: []delta.Column{{Column: "title", Value: "buy milk"}}},
		{Op: delta.OpUpdate, Table: "todos", RowID: "2", ClientID: "b", HLC: hlc.Encode(200, 0), DeltaID: "id2",
			Columns: []delta.Column{{Column: "title", Value: "eggs"}, {Column: "done", Value: true}}},
		{Op: delta.OpDelete, Table: "todos", RowID: "3", ClientID: "c", HLC: hlc.Encode(300, 0), DeltaID: "id3"},
	}

	data, ext, err := Serialize(deltas, schema)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if ext != ExtColumnar {
		t.Fatalf("ext = %q, want %q", ext, ExtColumnar)
	}

	got, err := Deserialize(data, ext)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if len(got) != len(deltas) {
		t.Fatalf("got %d rows, want %d", len(got), len(deltas))
	}

	// Row 1 has no "done" column: must decode as missing (null), not present.
	if _, ok := got[0].ColumnValue("done"); ok {
		t.Fatalf("row 0 should not carry a done column, got %+v", got[0])
	}
	titleVal, ok := got[0].ColumnValue("title")
	if !ok || titleVal != "buy milk" {
		t.Fatalf("row 0 title = %v, want %q", titleVal, "buy milk")
	}

	if got[2].Op != delta.OpDelete || len(got[2].Columns) != 0 {
		t.Fatalf("row 2 should be an empty-column DELETE, got %+v", got[2])
	}

	for i := range deltas {
		if got[i].HLC != deltas[i].HLC || got[i].DeltaID != deltas[i].DeltaID {
			t.Fatalf("row %d identity mismatch: got %+v want %+v", i, got[i], deltas[i])
		}
	}
}

func TestDeserializeUnknownExtension(t *testing.T) {
	_, err := Deserialize([]byte("x"), "parquet")
	if err == nil {
		t.Fatalf("expected error for unknown extension")
	}
}
