// Package delta defines the row-level change record that flows through
// the gateway: its identity, its column set, and the deterministic ID
// derivation used for idempotent dedup.
package delta

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/adred-codev/ws_poc/internal/hlc"
)

// Op identifies the kind of row-level change a Delta carries.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Column is a single column/value pair. Value holds anything JSON can
// represent: scalars, objects, arrays, or nil.
type Column struct {
	Column string `json:"column"`
	Value  any    `json:"value"`
}

// RowKey is the composite identity an LWW merge operates over.
type RowKey struct {
	Table string
	RowID string
}

// Delta is a single row-level change record.
type Delta struct {
	Op       Op            `json:"op"`
	Table    string        `json:"table"`
	RowID    string        `json:"rowId"`
	ClientID string        `json:"clientId"`
	Columns  []Column      `json:"columns"`
	HLC      hlc.Timestamp `json:"hlc,string"`
	DeltaID  string        `json:"deltaId"`
}

// Key returns the row key this delta addresses.
func (d Delta) Key() RowKey {
	return RowKey{Table: d.Table, RowID: d.RowID}
}

// stableQuintuple is the JSON shape used for delta ID derivation: column
// order does not affect the ID, so columns are sorted by name before
// serialisation.
type stableQuintuple struct {
	ClientID string   `json:"clientId"`
	HLC      string   `json:"hlc"`
	Table    string   `json:"table"`
	RowID    string   `json:"rowId"`
	Columns  []Column `json:"columns"`
}

// ComputeDeltaID derives the deterministic delta ID: the lowercase hex
// SHA-256 of a stable JSON serialisation of
// (clientId, hlc-as-string, table, rowId, columns), with columns sorted
// by name so input order never affects the result.
func ComputeDeltaID(clientID string, ts hlc.Timestamp, table, rowID string, columns []Column) string {
	sorted := make([]Column, len(columns))
	copy(sorted, columns)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Column < sorted[j].Column })

	q := stableQuintuple{
		ClientID: clientID,
		HLC:      ts.String(),
		Table:    table,
		RowID:    rowID,
		Columns:  sorted,
	}
	// encoding/json sorts map keys but stableQuintuple is a struct with a
	// fixed field order; that order is itself part of the stable
	// serialisation contract, so no map is involved here.
	b, err := json.Marshal(q)
	if err != nil {
		// q contains only JSON-marshalable values by construction.
		panic(fmt.Sprintf("delta: unmarshalable quintuple: %v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// WithComputedID returns a copy of d with DeltaID set from its fields.
func (d Delta) WithComputedID() Delta {
	d.DeltaID = ComputeDeltaID(d.ClientID, d.HLC, d.Table, d.RowID, d.Columns)
	return d
}

// Validate checks the structural invariants from spec.md §3: DELETE
// carries no columns, non-DELETE carries at least one.
func (d Delta) Validate() error {
	switch d.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("delta: invalid op %q", d.Op)
	}
	if d.Table == "" || d.RowID == "" || d.ClientID == "" {
		return fmt.Errorf("delta: table, rowId and clientId are required")
	}
	if d.Op == OpDelete && len(d.Columns) != 0 {
		return fmt.Errorf("delta: DELETE must carry no columns")
	}
	if d.Op != OpDelete && len(d.Columns) == 0 {
		return fmt.Errorf("delta: %s must carry at least one column", d.Op)
	}
	return nil
}

// ColumnValue returns the value of the named column and whether it was
// present.
func (d Delta) ColumnValue(name string) (any, bool) {
	for _, c := range d.Columns {
		if c.Column == name {
			return c.Value, true
		}
	}
	return nil, false
}
