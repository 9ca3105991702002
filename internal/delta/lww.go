package delta

import (
	"errors"
	"fmt"
)

// ErrConflict is returned by Resolve when the two deltas do not address
// the same row; this indicates a programmer error in the caller, never a
// legitimate runtime condition.
var ErrConflict = errors.New("delta: conflicting deltas address different rows")

// PickWinner returns the delta that wins a Last-Write-Wins comparison:
// higher HLC wins; on an HLC tie, the lexicographically greater clientId
// wins.
func PickWinner(a, b Delta) Delta {
	if a.HLC != b.HLC {
		if a.HLC > b.HLC {
			return a
		}
		return b
	}
	if a.ClientID > b.ClientID {
		return a
	}
	return b
}

// Resolve merges two deltas for the same row key under column-level LWW,
// per spec.md §4.3:
//
//   - both DELETE: the winner, with empty columns.
//   - one DELETE: if the DELETE wins, emit a tombstone (empty columns);
//     otherwise the non-DELETE side survives unchanged (resurrection).
//   - neither DELETE: merge columns, taking each column's value from
//     whichever side has it, and from the HLC-winning side when both do.
//     Op is INSERT only if both sides are INSERT, else UPDATE.
//
// local and remote must address the same (table, rowId); otherwise
// Resolve fails with ErrConflict.
func Resolve(local, remote Delta) (Delta, error) {
	if local.Table != remote.Table || local.RowID != remote.RowID {
		return Delta{}, fmt.Errorf("%w: local=%s/%s remote=%s/%s", ErrConflict, local.Table, local.RowID, remote.Table, remote.RowID)
	}

	winner := PickWinner(local, remote)

	if local.Op == OpDelete && remote.Op == OpDelete {
		winner.Columns = nil
		return winner, nil
	}

	if local.Op == OpDelete || remote.Op == OpDelete {
		if winner.Op == OpDelete {
			winner.Columns = nil
			return winner, nil
		}
		// The non-DELETE side won: resurrection, emitted unchanged.
		if local.Op != OpDelete {
			return local, nil
		}
		return remote, nil
	}

	winnerIsLocal := local.HLC > remote.HLC || (local.HLC == remote.HLC && local.ClientID >= remote.ClientID)

	merged := mergeColumns(local, remote, winnerIsLocal)
	merged.Op = OpUpdate
	if local.Op == OpInsert && remote.Op == OpInsert {
		merged.Op = OpInsert
	}
	merged.ClientID = winner.ClientID
	merged.HLC = winner.HLC
	merged.DeltaID = winner.DeltaID
	merged.Table = local.Table
	merged.RowID = local.RowID
	return merged, nil
}

// mergeColumns combines the column sets of local and remote: a column
// present on only one side passes through; a column present on both
// takes the winning side's value. Column order follows local's columns
// first, then any remote-only columns in remote's order.
func mergeColumns(local, remote Delta, winnerIsLocal bool) Delta {

	localVals := make(map[string]any, len(local.Columns))
	for _, c := range local.Columns {
		localVals[c.Column] = c.Value
	}
	remoteVals := make(map[string]any, len(remote.Columns))
	for _, c := range remote.Columns {
		remoteVals[c.Column] = c.Value
	}

	seen := make(map[string]bool, len(local.Columns)+len(remote.Columns))
	var out []Column

	appendCol := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		lv, lok := localVals[name]
		rv, rok := remoteVals[name]
		switch {
		case lok && rok:
			if winnerIsLocal {
				out = append(out, Column{Column: name, Value: lv})
			} else {
				out = append(out, Column{Column: name, Value: rv})
			}
		case lok:
			out = append(out, Column{Column: name, Value: lv})
		case rok:
			out = append(out, Column{Column: name, Value: rv})
		}
	}

	for _, c := range local.Columns {
		appendCol(c.Column)
	}
	for _, c := range remote.Columns {
		appendCol(c.Column)
	}

	result := local
	result.Columns = out
	return result
}
