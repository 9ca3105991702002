package delta

import (
	"reflect"
	"testing"

	"github.com/adred-codev/ws_poc/internal/hlc"
)

func TestEncodeDecodeBinaryRoundTrip(t *testing.T) {
	cases := []Delta{
		{
			Op: OpInsert, Table: "todos", RowID: "row-1", ClientID: "client-a",
			HLC: hlc.Encode(123456, 7), DeltaID: "abc123",
			Columns: []Column{
				{Column: "title", Value: "buy milk"},
				{Column: "done", Value: false},
				{Column: "priority", Value: float64(3)},
			},
		},
		{
			Op: OpDelete, Table: "todos", RowID: "row-2", ClientID: "client-b",
			HLC: hlc.Encode(999, 0), DeltaID: "def456",
		},
		{
			Op: OpUpdate, Table: "t", RowID: "", ClientID: "c",
			HLC: 0, DeltaID: "",
			Columns: []Column{{Column: "nested", Value: map[string]any{"a": []any{float64(1), float64(2)}}}},
		},
	}

	for i, d := range cases {
		enc, err := EncodeBinary(d)
		if err != nil {
			t.Fatalf("case %d: encode: %v", i, err)
		}
		dec, n, err := DecodeBinary(enc)
		if err != nil {
			t.Fatalf("case %d: decode: %v", i, err)
		}
		if n != len(enc) {
			t.Fatalf("case %d: consumed %d bytes, want %d", i, n, len(enc))
		}
		if !reflect.DeepEqual(dec, d) {
			t.Fatalf("case %d: round-trip mismatch\n got  %+v\n want %+v", i, dec, d)
		}
	}
}

func TestEncodeDecodeBinaryListRoundTrip(t *testing.T) {
	deltas := []Delta{
		{Op: OpInsert, Table: "a", RowID: "1", ClientID: "x", HLC: hlc.Encode(1, 0), Columns: []Column{{Column: "c", Value: "v"}}},
		{Op: OpDelete, Table: "a", RowID: "2", ClientID: "y", HLC: hlc.Encode(2, 0)},
	}

	enc, err := EncodeBinaryList(deltas)
	if err != nil {
		t.Fatalf("encode list: %v", err)
	}
	dec, err := DecodeBinaryList(enc)
	if err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if !reflect.DeepEqual(dec, deltas) {
		t.Fatalf("round-trip mismatch\n got  %+v\n want %+v", dec, deltas)
	}
}

func TestEncodeDecodeBinaryListEmpty(t *testing.T) {
	enc, err := EncodeBinaryList(nil)
	if err != nil {
		t.Fatalf("encode empty list: %v", err)
	}
	dec, err := DecodeBinaryList(enc)
	if err != nil {
		t.Fatalf("decode empty list: %v", err)
	}
	if len(dec) != 0 {
		t.Fatalf("expected empty slice, got %v", dec)
	}
}

func TestDecodeBinaryRejectsUnknownOp(t *testing.T) {
	_, _, err := DecodeBinary([]byte{0x09, 0, 0, 0, 0, 0, 0, 0, 0})
	if err == nil {
		t.Fatalf("expected error for unknown op byte")
	}
}

func TestDecodeBinaryRejectsTruncated(t *testing.T) {
	_, _, err := DecodeBinary([]byte{0x00, 0, 0})
	if err == nil {
		t.Fatalf("expected error for truncated header")
	}
}
