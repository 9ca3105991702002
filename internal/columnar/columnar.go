// Package columnar implements the two on-disk flush formats a gateway
// may write: a schema-driven columnar layout when a table schema is in
// effect, and newline-delimited JSON otherwise. Both formats are
// self-describing enough to reconstruct the exact delta list, including
// HLCs and deltaIds, with missing columns represented as null.
//
// Neither format depends on a third-party columnar library: the real
// ecosystem choices seen across the retrieved examples (parquet, arrow)
// appear only as unused entries in dependency manifests, never behind
// demonstrated code, so adopting one here would have no grounding.
package columnar

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/adred-codev/ws_poc/internal/delta"
	"github.com/adred-codev/ws_poc/internal/hlc"
	"github.com/adred-codev/ws_poc/internal/tableschema"
)

// ExtColumnar and ExtJSONLines are the file extensions Serialize chooses
// between, per spec's flushes/<gatewayId>/<snapshotHlc>-<uuid>.<ext> key
// layout.
const (
	ExtColumnar  = "col"
	ExtJSONLines = "jsonl"
)

type columnarRow struct {
	Op       string `json:"op"`
	Table    string `json:"table"`
	RowID    string `json:"rowId"`
	ClientID string `json:"clientId"`
	HLC      string `json:"hlc"`
	DeltaID  string `json:"deltaId"`
	Values   []any  `json:"values"`
}

type columnarFile struct {
	Columns []string      `json:"columns"`
	Rows    []columnarRow `json:"rows"`
}

// Serialize encodes deltas as columnar data when schema is present, or
// as JSON-lines otherwise, returning the bytes and the extension the
// caller should store them under.
func Serialize(deltas []delta.Delta, schema tableschema.Schema) ([]byte, string, error) {
	if schema.Present() {
		data, err := serializeColumnar(deltas, schema)
		return data, ExtColumnar, err
	}
	data, err := serializeJSONLines(deltas)
	return data, ExtJSONLines, err
}

func serializeColumnar(deltas []delta.Delta, schema tableschema.Schema) ([]byte, error) {
	columns := schema.ColumnNames()
	file := columnarFile{Columns: columns, Rows: make([]columnarRow, 0, len(deltas))}

	for _, d := range deltas {
		values := make([]any, len(columns))
		for i, col := range columns {
			v, ok := d.ColumnValue(col)
			if ok {
				values[i] = v
			}
		}
		file.Rows = append(file.Rows, columnarRow{
			Op: string(d.Op), Table: d.Table, RowID: d.RowID, ClientID: d.ClientID,
			HLC: d.HLC.String(), DeltaID: d.DeltaID, Values: values,
		})
	}

	return json.Marshal(file)
}

func serializeJSONLines(deltas []delta.Delta) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range deltas {
		if err := enc.Encode(d); err != nil {
			return nil, fmt.Errorf("columnar: encode jsonl row: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// Deserialize reconstructs the delta list from data written by
// Serialize, given the extension it was stored under.
func Deserialize(data []byte, ext string) ([]delta.Delta, error) {
	switch ext {
	case ExtColumnar:
		return deserializeColumnar(data)
	case ExtJSONLines:
		return deserializeJSONLines(data)
	default:
		return nil, fmt.Errorf("columnar: unknown extension %q", ext)
	}
}

func deserializeColumnar(data []byte) ([]delta.Delta, error) {
	var file columnarFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("columnar: decode columnar file: %w", err)
	}

	out := make([]delta.Delta, 0, len(file.Rows))
	for _, row := range file.Rows {
		ts, err := parseHLCString(row.HLC)
		if err != nil {
			return nil, err
		}

		var columns []delta.Column
		if delta.Op(row.Op) != delta.OpDelete {
			for i, col := range file.Columns {
				if i >= len(row.Values) || row.Values[i] == nil {
					continue
				}
				columns = append(columns, delta.Column{Column: col, Value: row.Values[i]})
			}
		}

		out = append(out, delta.Delta{
			Op: delta.Op(row.Op), Table: row.Table, RowID: row.RowID, ClientID: row.ClientID,
			HLC: ts, DeltaID: row.DeltaID, Columns: columns,
		})
	}
	return out, nil
}

func deserializeJSONLines(data []byte) ([]delta.Delta, error) {
	var out []delta.Delta
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var d delta.Delta
		if err := json.Unmarshal(line, &d); err != nil {
			return nil, fmt.Errorf("columnar: decode jsonl row: %w", err)
		}
		out = append(out, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("columnar: scan jsonl: %w", err)
	}
	return out, nil
}

func parseHLCString(s string) (hlc.Timestamp, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("columnar: invalid hlc string %q: %w", s, err)
	}
	return hlc.Timestamp(v), nil
}
