// Package buffer implements the in-memory delta buffer and flush engine
// described in spec §4.6: an ordered, row-indexed log of deltas awaiting
// persistence to the object store.
package buffer

import (
	"sort"

	"github.com/adred-codev/ws_poc/internal/delta"
	"github.com/adred-codev/ws_poc/internal/hlc"
)

// Buffer is the per-gateway ordered, row-indexed delta log. Not safe for
// concurrent use; the owning gateway session serialises access.
type Buffer struct {
	byRow   map[delta.RowKey]delta.Delta
	seenIDs map[string]bool
	bytes   int
}

// New creates an empty Buffer.
func New() *Buffer {
	return &Buffer{
		byRow:   make(map[delta.RowKey]delta.Delta),
		seenIDs: make(map[string]bool),
	}
}

func estimateBytes(d delta.Delta) int {
	enc, err := delta.EncodeBinary(d)
	if err != nil {
		return 0
	}
	return len(enc)
}

// Upsert applies an incoming delta against the buffer's current state
// for its row key: LWW-merges it with any prior buffered delta for the
// same row, or inserts it fresh. Returns the delta now stored for that
// row key, and whether incoming's deltaId was newly represented (i.e.
// not already accepted earlier in this buffer's lifetime, including
// across prior flushes).
func (b *Buffer) Upsert(incoming delta.Delta) (delta.Delta, bool, error) {
	if b.seenIDs[incoming.DeltaID] {
		existing, ok := b.byRow[incoming.Key()]
		if !ok {
			// The delta was accepted earlier and has since been flushed;
			// it no longer has a live row entry but is still a duplicate.
			return incoming, false, nil
		}
		return existing, false, nil
	}

	key := incoming.Key()
	winner := incoming
	if prior, exists := b.byRow[key]; exists {
		resolved, err := delta.Resolve(prior, incoming)
		if err != nil {
			return delta.Delta{}, false, err
		}
		b.bytes -= estimateBytes(prior)
		winner = resolved
	}

	b.byRow[key] = winner
	b.bytes += estimateBytes(winner)
	b.seenIDs[incoming.DeltaID] = true
	return winner, true, nil
}

// HasSeen reports whether deltaId has ever been accepted by this buffer,
// including deltas already flushed out of the live log.
func (b *Buffer) HasSeen(deltaID string) bool {
	return b.seenIDs[deltaID]
}

// Len returns the number of distinct rows currently buffered.
func (b *Buffer) Len() int {
	return len(b.byRow)
}

// ByteSize returns the estimated wire size of the live buffer.
func (b *Buffer) ByteSize() int {
	return b.bytes
}

// Ordered returns the buffered deltas sorted ascending by HLC, with
// ties broken by clientId for a stable, deterministic order.
func (b *Buffer) Ordered() []delta.Delta {
	out := make([]delta.Delta, 0, len(b.byRow))
	for _, d := range b.byRow {
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].HLC != out[j].HLC {
			return out[i].HLC < out[j].HLC
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out
}

// OldestWallMS returns the wall-clock component of the oldest buffered
// delta's HLC, and whether the buffer is non-empty.
func (b *Buffer) OldestWallMS() (uint64, bool) {
	if len(b.byRow) == 0 {
		return 0, false
	}
	var oldest hlc.Timestamp
	first := true
	for _, d := range b.byRow {
		if first || d.HLC < oldest {
			oldest = d.HLC
			first = false
		}
	}
	wall, _ := hlc.Decode(oldest)
	return wall, true
}

// Since returns the buffered deltas with HLC strictly greater than
// since, ascending.
func (b *Buffer) Since(since hlc.Timestamp) []delta.Delta {
	all := b.Ordered()
	out := make([]delta.Delta, 0, len(all))
	for _, d := range all {
		if d.HLC > since {
			out = append(out, d)
		}
	}
	return out
}

// Clear empties the live buffer (used by a successful flush). Deltas
// remain permanently recorded as seen for dedup purposes.
func (b *Buffer) Clear() {
	b.byRow = make(map[delta.RowKey]delta.Delta)
	b.bytes = 0
}

// Restore re-inserts a previously removed snapshot back into the live
// buffer, used to recover from a failed flush. Deltas are re-merged
// with delta.Resolve against any row already live, so any pushes that arrived during the failed flush
// attempt are preserved rather than clobbered.
func (b *Buffer) Restore(snapshot []delta.Delta) error {
	for _, d := range snapshot {
		if _, exists := b.byRow[d.Key()]; exists {
			prior := b.byRow[d.Key()]
			resolved, err := delta.Resolve(prior, d)
			if err != nil {
				return err
			}
			b.bytes -= estimateBytes(prior)
			b.byRow[d.Key()] = resolved
			b.bytes += estimateBytes(resolved)
			continue
		}
		b.byRow[d.Key()] = d
		b.bytes += estimateBytes(d)
	}
	return nil
}

// ShouldFlush reports whether the buffer has crossed one of the
// configured flush thresholds: byte size, entry count, or age.
func (b *Buffer) ShouldFlush(cfg Config, nowWallMS uint64) bool {
	if b.bytes >= cfg.MaxBufferBytes {
		return true
	}
	if len(b.byRow) >= cfg.MaxDeltasPerPush {
		return true
	}
	if oldest, ok := b.OldestWallMS(); ok {
		if int64(nowWallMS-oldest) >= cfg.MaxBufferAgeMs {
			return true
		}
	}
	return false
}
