// Package shard implements table-to-shard routing: parsing the shard
// configuration document, partitioning deltas by the shard that owns
// their table, and merging fanned-out responses back into one ordered
// stream.
package shard

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/adred-codev/ws_poc/internal/delta"
	"github.com/adred-codev/ws_poc/internal/hlc"
)

// Entry is one shard's table ownership declaration.
type Entry struct {
	Tables    []string `json:"tables"`
	GatewayID string   `json:"gatewayId"`
}

// Config is the parsed shard-routing document: a table maps to the
// first shard whose Tables list contains it, otherwise to Default.
type Config struct {
	Shards  []Entry `json:"shards"`
	Default string  `json:"default"`
}

// ParseShardConfig decodes rawJSON into a Config, returning ok=false if
// it is not a well-formed shard document: invalid JSON, not an object,
// a missing/empty default, a non-array shards field, or any shard with
// a missing/empty gatewayId or an empty/non-string tables list.
func ParseShardConfig(rawJSON []byte) (Config, bool) {
	var raw struct {
		Shards  []Entry `json:"shards"`
		Default string  `json:"default"`
	}
	dec := json.NewDecoder(bytes.NewReader(rawJSON))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return Config{}, false
	}
	if raw.Default == "" {
		return Config{}, false
	}
	for _, s := range raw.Shards {
		if s.GatewayID == "" {
			return Config{}, false
		}
		if len(s.Tables) == 0 {
			return Config{}, false
		}
		for _, t := range s.Tables {
			if t == "" {
				return Config{}, false
			}
		}
	}
	return Config{Shards: raw.Shards, Default: raw.Default}, true
}

// shardForTable returns the gatewayId owning table, or Default when no
// shard claims it.
func (c Config) shardForTable(table string) string {
	for _, s := range c.Shards {
		for _, t := range s.Tables {
			if t == table {
				return s.GatewayID
			}
		}
	}
	return c.Default
}

// ResolveShardGatewayIds returns the deduplicated set of gatewayIds that
// own any of tables. An empty tables list resolves to every shard's
// gatewayId plus Default.
func ResolveShardGatewayIds(cfg Config, tables []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	if len(tables) == 0 {
		for _, s := range cfg.Shards {
			add(s.GatewayID)
		}
		add(cfg.Default)
		return out
	}

	for _, t := range tables {
		add(cfg.shardForTable(t))
	}
	return out
}

// ExtractTableNames returns the deduplicated set of tables referenced
// by deltas, in first-seen order.
func ExtractTableNames(deltas []delta.Delta) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range deltas {
		if !seen[d.Table] {
			seen[d.Table] = true
			out = append(out, d.Table)
		}
	}
	return out
}

// PartitionDeltasByShard groups deltas by owning gatewayId, preserving
// each delta's relative insertion order within its bucket.
func PartitionDeltasByShard(cfg Config, deltas []delta.Delta) map[string][]delta.Delta {
	out := make(map[string][]delta.Delta)
	for _, d := range deltas {
		id := cfg.shardForTable(d.Table)
		out[id] = append(out[id], d)
	}
	return out
}

// PullResponse is one shard's pull reply, the unit MergePullResponses combines.
type PullResponse struct {
	Deltas    []delta.Delta
	ServerHLC hlc.Timestamp
	HasMore   bool
}

// MergePullResponses combines per-shard pull responses into one: deltas
// sorted ascending by HLC (stable for ties), serverHlc the max across
// inputs, and hasMore true if any input set it.
func MergePullResponses(responses []PullResponse) PullResponse {
	var merged PullResponse
	for _, r := range responses {
		merged.Deltas = append(merged.Deltas, r.Deltas...)
		if r.ServerHLC > merged.ServerHLC {
			merged.ServerHLC = r.ServerHLC
		}
		merged.HasMore = merged.HasMore || r.HasMore
	}
	sort.SliceStable(merged.Deltas, func(i, j int) bool {
		return merged.Deltas[i].HLC < merged.Deltas[j].HLC
	})
	return merged
}
