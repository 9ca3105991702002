package syncrules

import (
	"reflect"
	"testing"

	"github.com/adred-codev/ws_poc/internal/delta"
)

func row(table string, cols map[string]any) delta.Delta {
	d := delta.Delta{Op: delta.OpUpdate, Table: table, RowID: "r", ClientID: "c"}
	for k, v := range cols {
		d.Columns = append(d.Columns, delta.Column{Column: k, Value: v})
	}
	return d
}

func TestScenarioJWTSubFilter(t *testing.T) {
	rules := Rules{
		Buckets: []Bucket{
			{Name: "u", Tables: nil, Filters: []Filter{{Column: "user_id", Op: OpEq, Value: "jwt:sub"}}},
		},
	}
	ctx := Context{Rules: rules, Claims: Claims{"sub": "u1"}}

	deltas := []delta.Delta{
		row("todos", map[string]any{"user_id": "u1"}),
		row("todos", map[string]any{"user_id": "u2"}),
	}

	got := FilterDeltas(deltas, ctx)
	if len(got) != 1 {
		t.Fatalf("got %d deltas, want 1", len(got))
	}
	v, _ := got[0].ColumnValue("user_id")
	if v != "u1" {
		t.Fatalf("got user_id=%v, want u1", v)
	}
}

func TestEmptyRuleSetPassesEverything(t *testing.T) {
	ctx := Context{Rules: Rules{}, Claims: Claims{}}
	deltas := []delta.Delta{row("a", map[string]any{"x": 1}), row("b", map[string]any{"y": 2})}
	got := FilterDeltas(deltas, ctx)
	if len(got) != len(deltas) {
		t.Fatalf("got %d, want %d", len(got), len(deltas))
	}
}

func TestEmptyTablesMeansAllTables(t *testing.T) {
	rules := Rules{Buckets: []Bucket{{Name: "all", Tables: nil, Filters: nil}}}
	ctx := Context{Rules: rules}
	deltas := []delta.Delta{row("a", map[string]any{"x": 1}), row("b", map[string]any{"y": 2})}
	got := FilterDeltas(deltas, ctx)
	if len(got) != 2 {
		t.Fatalf("got %d, want 2", len(got))
	}
}

func TestBucketTableRestriction(t *testing.T) {
	rules := Rules{Buckets: []Bucket{{Name: "a-only", Tables: []string{"a"}}}}
	ctx := Context{Rules: rules}
	deltas := []delta.Delta{row("a", map[string]any{"x": 1}), row("b", map[string]any{"y": 2})}
	got := FilterDeltas(deltas, ctx)
	if len(got) != 1 || got[0].Table != "a" {
		t.Fatalf("got %+v, want only table a", got)
	}
}

func TestFilterOpNumericComparison(t *testing.T) {
	rules := Rules{Buckets: []Bucket{{Name: "b", Filters: []Filter{{Column: "score", Op: OpGte, Value: "10"}}}}}
	ctx := Context{Rules: rules}
	deltas := []delta.Delta{
		row("t", map[string]any{"score": float64(5)}),
		row("t", map[string]any{"score": float64(10)}),
		row("t", map[string]any{"score": float64(20)}),
	}
	got := FilterDeltas(deltas, ctx)
	if len(got) != 2 {
		t.Fatalf("got %d, want 2", len(got))
	}
}

func TestFilterOpInWithJWTArrayClaim(t *testing.T) {
	rules := Rules{Buckets: []Bucket{{Name: "teams", Filters: []Filter{{Column: "team", Op: OpIn, Value: "jwt:teams"}}}}}
	ctx := Context{Rules: rules, Claims: Claims{"teams": []string{"red", "blue"}}}
	deltas := []delta.Delta{
		row("t", map[string]any{"team": "red"}),
		row("t", map[string]any{"team": "green"}),
	}
	got := FilterDeltas(deltas, ctx)
	if len(got) != 1 {
		t.Fatalf("got %d, want 1", len(got))
	}
}

func TestFilterMissingColumnRejects(t *testing.T) {
	rules := Rules{Buckets: []Bucket{{Name: "b", Filters: []Filter{{Column: "missing", Op: OpEq, Value: "x"}}}}}
	ctx := Context{Rules: rules}
	deltas := []delta.Delta{row("t", map[string]any{"other": "y"})}
	got := FilterDeltas(deltas, ctx)
	if len(got) != 0 {
		t.Fatalf("got %d, want 0", len(got))
	}
}

func TestFilterAbsentClaimRejects(t *testing.T) {
	rules := Rules{Buckets: []Bucket{{Name: "b", Filters: []Filter{{Column: "user_id", Op: OpEq, Value: "jwt:sub"}}}}}
	ctx := Context{Rules: rules, Claims: Claims{}}
	deltas := []delta.Delta{row("t", map[string]any{"user_id": "u1"})}
	got := FilterDeltas(deltas, ctx)
	if len(got) != 0 {
		t.Fatalf("got %d, want 0 (absent claim resolves empty, must reject)", len(got))
	}
}

func TestFilterDeltasIdempotent(t *testing.T) {
	rules := Rules{Buckets: []Bucket{{Name: "b", Tables: []string{"t"}, Filters: []Filter{{Column: "x", Op: OpGt, Value: "1"}}}}}
	ctx := Context{Rules: rules}
	deltas := []delta.Delta{
		row("t", map[string]any{"x": float64(0)}),
		row("t", map[string]any{"x": float64(2)}),
		row("other", map[string]any{"x": float64(5)}),
	}

	once := FilterDeltas(deltas, ctx)
	twice := FilterDeltas(once, ctx)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("filterDeltas not idempotent: once=%+v twice=%+v", once, twice)
	}
}

func TestValidateSyncRules(t *testing.T) {
	cases := []struct {
		name    string
		rules   Rules
		wantErr bool
	}{
		{"valid empty", Rules{Version: 1}, false},
		{"valid with bucket", Rules{Version: 1, Buckets: []Bucket{{Name: "b", Tables: []string{"t"}, Filters: []Filter{{Column: "x", Op: OpEq, Value: "v"}}}}}, false},
		{"zero version", Rules{Version: 0}, true},
		{"negative version", Rules{Version: -1}, true},
		{"empty bucket name", Rules{Version: 1, Buckets: []Bucket{{Name: ""}}}, true},
		{"duplicate bucket name", Rules{Version: 1, Buckets: []Bucket{{Name: "a"}, {Name: "a"}}}, true},
		{"empty table name", Rules{Version: 1, Buckets: []Bucket{{Name: "a", Tables: []string{""}}}}, true},
		{"empty filter column", Rules{Version: 1, Buckets: []Bucket{{Name: "a", Filters: []Filter{{Column: "", Op: OpEq, Value: "v"}}}}}, true},
		{"bad op", Rules{Version: 1, Buckets: []Bucket{{Name: "a", Filters: []Filter{{Column: "x", Op: "bogus", Value: "v"}}}}}, true},
		{"empty filter value", Rules{Version: 1, Buckets: []Bucket{{Name: "a", Filters: []Filter{{Column: "x", Op: OpEq, Value: ""}}}}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSyncRules(tc.rules)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateSyncRules(%+v) error = %v, wantErr %v", tc.rules, err, tc.wantErr)
			}
		})
	}
}
