package shard

import (
	"testing"

	"github.com/adred-codev/ws_poc/internal/delta"
	"github.com/adred-codev/ws_poc/internal/hlc"
)

func testDelta(table, rowID string, ts hlc.Timestamp) delta.Delta {
	return delta.Delta{
		Op: delta.OpInsert, Table: table, RowID: rowID, ClientID: "c",
		HLC: ts, Columns: []delta.Column{{Column: "x", Value: 1}},
	}.WithComputedID()
}

func TestParseShardConfigValid(t *testing.T) {
	raw := []byte(`{
		"default": "gw-default",
		"shards": [
			{"tables": ["orders", "order_items"], "gatewayId": "gw-a"},
			{"tables": ["users"], "gatewayId": "gw-b"}
		]
	}`)
	cfg, ok := ParseShardConfig(raw)
	if !ok {
		t.Fatalf("expected valid config")
	}
	if cfg.Default != "gw-default" || len(cfg.Shards) != 2 {
		t.Fatalf("got %+v", cfg)
	}
}

func TestParseShardConfigRejectsInvalidJSON(t *testing.T) {
	if _, ok := ParseShardConfig([]byte(`not json`)); ok {
		t.Fatalf("expected invalid JSON to fail")
	}
}

func TestParseShardConfigRejectsNonObject(t *testing.T) {
	if _, ok := ParseShardConfig([]byte(`[1,2,3]`)); ok {
		t.Fatalf("expected non-object to fail")
	}
}

func TestParseShardConfigRejectsMissingDefault(t *testing.T) {
	raw := []byte(`{"shards": [{"tables": ["t"], "gatewayId": "gw-a"}]}`)
	if _, ok := ParseShardConfig(raw); ok {
		t.Fatalf("expected missing default to fail")
	}
}

func TestParseShardConfigRejectsEmptyDefault(t *testing.T) {
	raw := []byte(`{"default": "", "shards": []}`)
	if _, ok := ParseShardConfig(raw); ok {
		t.Fatalf("expected empty default to fail")
	}
}

func TestParseShardConfigRejectsShardMissingGatewayId(t *testing.T) {
	raw := []byte(`{"default": "gw-d", "shards": [{"tables": ["t"], "gatewayId": ""}]}`)
	if _, ok := ParseShardConfig(raw); ok {
		t.Fatalf("expected empty gatewayId to fail")
	}
}

func TestParseShardConfigRejectsShardEmptyTables(t *testing.T) {
	raw := []byte(`{"default": "gw-d", "shards": [{"tables": [], "gatewayId": "gw-a"}]}`)
	if _, ok := ParseShardConfig(raw); ok {
		t.Fatalf("expected empty tables to fail")
	}
}

func TestParseShardConfigRejectsNonStringTable(t *testing.T) {
	raw := []byte(`{"default": "gw-d", "shards": [{"tables": [1], "gatewayId": "gw-a"}]}`)
	if _, ok := ParseShardConfig(raw); ok {
		t.Fatalf("expected non-string table to fail")
	}
}

func TestResolveShardGatewayIdsSpecificTables(t *testing.T) {
	cfg := Config{
		Default: "gw-default",
		Shards: []Entry{
			{Tables: []string{"orders"}, GatewayID: "gw-a"},
			{Tables: []string{"users"}, GatewayID: "gw-b"},
		},
	}
	got := ResolveShardGatewayIds(cfg, []string{"orders", "unknown"})
	want := []string{"gw-a", "gw-default"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestResolveShardGatewayIdsEmptyTablesReturnsEveryShardPlusDefault(t *testing.T) {
	cfg := Config{
		Default: "gw-default",
		Shards: []Entry{
			{Tables: []string{"orders"}, GatewayID: "gw-a"},
			{Tables: []string{"users"}, GatewayID: "gw-b"},
		},
	}
	got := ResolveShardGatewayIds(cfg, nil)
	if len(got) != 3 {
		t.Fatalf("got %v, want 3 ids", got)
	}
}

func TestResolveShardGatewayIdsDeduplicates(t *testing.T) {
	cfg := Config{
		Default: "gw-a",
		Shards: []Entry{
			{Tables: []string{"orders", "order_items"}, GatewayID: "gw-a"},
		},
	}
	got := ResolveShardGatewayIds(cfg, []string{"orders", "order_items"})
	if len(got) != 1 || got[0] != "gw-a" {
		t.Fatalf("got %v, want [gw-a]", got)
	}
}

func TestExtractTableNamesDeduplicatesInFirstSeenOrder(t *testing.T) {
	deltas := []delta.Delta{
		testDelta("orders", "1", hlc.Encode(1, 0)),
		testDelta("users", "1", hlc.Encode(2, 0)),
		testDelta("orders", "2", hlc.Encode(3, 0)),
	}
	got := ExtractTableNames(deltas)
	want := []string{"orders", "users"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPartitionDeltasByShardUnknownTableGoesToDefault(t *testing.T) {
	cfg := Config{
		Default: "gw-default",
		Shards:  []Entry{{Tables: []string{"orders"}, GatewayID: "gw-a"}},
	}
	deltas := []delta.Delta{
		testDelta("orders", "1", hlc.Encode(1, 0)),
		testDelta("unknown", "2", hlc.Encode(2, 0)),
	}
	parts := PartitionDeltasByShard(cfg, deltas)
	if len(parts["gw-a"]) != 1 || len(parts["gw-default"]) != 1 {
		t.Fatalf("got %+v", parts)
	}
}

func TestPartitionDeltasByShardPreservesOrderWithinBucket(t *testing.T) {
	cfg := Config{Default: "gw-a"}
	deltas := []delta.Delta{
		testDelta("t", "1", hlc.Encode(1, 0)),
		testDelta("t", "2", hlc.Encode(2, 0)),
		testDelta("t", "3", hlc.Encode(3, 0)),
	}
	parts := PartitionDeltasByShard(cfg, deltas)
	bucket := parts["gw-a"]
	if len(bucket) != 3 || bucket[0].RowID != "1" || bucket[1].RowID != "2" || bucket[2].RowID != "3" {
		t.Fatalf("got %+v", bucket)
	}
}

func TestMergePullResponsesSortsByHLCAscendingAndAggregatesFlags(t *testing.T) {
	responses := []PullResponse{
		{Deltas: []delta.Delta{testDelta("t", "b", hlc.Encode(30, 0))}, ServerHLC: hlc.Encode(30, 0), HasMore: false},
		{Deltas: []delta.Delta{testDelta("t", "a", hlc.Encode(10, 0))}, ServerHLC: hlc.Encode(10, 0), HasMore: true},
	}
	merged := MergePullResponses(responses)
	if len(merged.Deltas) != 2 {
		t.Fatalf("got %d deltas, want 2", len(merged.Deltas))
	}
	if merged.Deltas[0].RowID != "a" || merged.Deltas[1].RowID != "b" {
		t.Fatalf("not sorted ascending by hlc: %+v", merged.Deltas)
	}
	if merged.ServerHLC != hlc.Encode(30, 0) {
		t.Fatalf("serverHlc = %v, want max", merged.ServerHLC)
	}
	if !merged.HasMore {
		t.Fatalf("hasMore should be OR of inputs")
	}
}

func TestMergePullResponsesStableForTies(t *testing.T) {
	ts := hlc.Encode(10, 0)
	responses := []PullResponse{
		{Deltas: []delta.Delta{testDelta("t", "first", ts)}},
		{Deltas: []delta.Delta{testDelta("t", "second", ts)}},
	}
	merged := MergePullResponses(responses)
	if merged.Deltas[0].RowID != "first" || merged.Deltas[1].RowID != "second" {
		t.Fatalf("stable sort violated: %+v", merged.Deltas)
	}
}
