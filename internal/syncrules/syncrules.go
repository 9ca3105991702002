// Package syncrules evaluates per-client row-level filtering rules
// (buckets of table + column predicates) against JWT claims, deciding
// which deltas a given client is allowed to see.
package syncrules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/adred-codev/ws_poc/internal/delta"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpIn  Op = "in"
	OpGt  Op = "gt"
	OpLt  Op = "lt"
	OpGte Op = "gte"
	OpLte Op = "lte"
)

var validOps = map[Op]bool{
	OpEq: true, OpNeq: true, OpIn: true, OpGt: true, OpLt: true, OpGte: true, OpLte: true,
}

// Filter is a single column predicate within a bucket.
type Filter struct {
	Column string `json:"column"`
	Op     Op     `json:"op"`
	Value  string `json:"value"`
}

// Bucket is a named subset of (table, row-predicate) pairs.
type Bucket struct {
	Name    string   `json:"name"`
	Tables  []string `json:"tables"`
	Filters []Filter `json:"filters"`
}

// Rules is a versioned set of buckets, persisted per gateway.
type Rules struct {
	Version int      `json:"version"`
	Buckets []Bucket `json:"buckets"`
}

// Claims is the set of JWT claims available for "jwt:<claim>" substitution.
// Values are either a single string or a list of strings.
type Claims map[string]any

// Context bundles the rule set and claims an evaluation runs against.
type Context struct {
	Rules  Rules
	Claims Claims
}

// resolveFilterValue resolves a filter's raw value against claims. A
// value beginning with "jwt:" is replaced by the named claim, rendered
// as a string list (a string claim becomes a one-element list, a
// string-list claim is used as-is, an absent claim resolves to the
// empty list). Any other value is treated as a literal one-element list.
func resolveFilterValue(v string, claims Claims) []string {
	const prefix = "jwt:"
	if !strings.HasPrefix(v, prefix) {
		return []string{v}
	}
	claim, ok := claims[strings.TrimPrefix(v, prefix)]
	if !ok {
		return nil
	}
	switch c := claim.(type) {
	case string:
		return []string{c}
	case []string:
		return append([]string{}, c...)
	case []any:
		out := make([]string, 0, len(c))
		for _, e := range c {
			out = append(out, fmt.Sprintf("%v", e))
		}
		return out
	default:
		return []string{fmt.Sprintf("%v", c)}
	}
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

// compareOrdered compares dv against rv[0] numerically when both parse
// as finite numbers, otherwise lexicographically.
func compareOrdered(dv, rv string) int {
	df, derr := strconv.ParseFloat(dv, 64)
	rf, rerr := strconv.ParseFloat(rv, 64)
	if derr == nil && rerr == nil {
		switch {
		case df < rf:
			return -1
		case df > rf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(dv, rv)
}

// filterMatchesDelta reports whether a single filter accepts d under claims.
func filterMatchesDelta(d delta.Delta, f Filter, claims Claims) bool {
	value, ok := d.ColumnValue(f.Column)
	if !ok {
		return false
	}
	dv := fmt.Sprintf("%v", value)

	rv := resolveFilterValue(f.Value, claims)
	if len(rv) == 0 {
		return false
	}

	switch f.Op {
	case OpEq, OpIn:
		return contains(rv, dv)
	case OpNeq:
		return !contains(rv, dv)
	case OpGt:
		return compareOrdered(dv, rv[0]) > 0
	case OpLt:
		return compareOrdered(dv, rv[0]) < 0
	case OpGte:
		return compareOrdered(dv, rv[0]) >= 0
	case OpLte:
		return compareOrdered(dv, rv[0]) <= 0
	default:
		return false
	}
}

// deltaMatchesBucket reports whether d falls within bucket b under claims.
func deltaMatchesBucket(d delta.Delta, b Bucket, claims Claims) bool {
	if len(b.Tables) > 0 && !contains(b.Tables, d.Table) {
		return false
	}
	for _, f := range b.Filters {
		if !filterMatchesDelta(d, f, claims) {
			return false
		}
	}
	return true
}

// filterDeltas returns the subset of deltas admitted by ctx. A rule set
// with no buckets admits everything; otherwise a delta passes if it
// matches at least one bucket.
func filterDeltas(deltas []delta.Delta, ctx Context) []delta.Delta {
	if len(ctx.Rules.Buckets) == 0 {
		return deltas
	}
	out := make([]delta.Delta, 0, len(deltas))
	for _, d := range deltas {
		for _, b := range ctx.Rules.Buckets {
			if deltaMatchesBucket(d, b, ctx.Claims) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// FilterDeltas is the exported entry point used by the gateway and
// shard router to apply a client's sync rules to a slice of deltas.
func FilterDeltas(deltas []delta.Delta, ctx Context) []delta.Delta {
	return filterDeltas(deltas, ctx)
}

// ValidateSyncRules checks the structural invariants of a rule set:
// a positive version, unique non-empty bucket names, non-empty table
// names, and well-formed filters with a value and an allowed op.
func ValidateSyncRules(r Rules) error {
	if r.Version <= 0 {
		return fmt.Errorf("syncrules: version must be positive, got %d", r.Version)
	}
	seen := make(map[string]bool, len(r.Buckets))
	for _, b := range r.Buckets {
		if b.Name == "" {
			return fmt.Errorf("syncrules: bucket name must be non-empty")
		}
		if seen[b.Name] {
			return fmt.Errorf("syncrules: duplicate bucket name %q", b.Name)
		}
		seen[b.Name] = true

		for _, tbl := range b.Tables {
			if tbl == "" {
				return fmt.Errorf("syncrules: bucket %q has an empty table name", b.Name)
			}
		}
		for _, f := range b.Filters {
			if f.Column == "" {
				return fmt.Errorf("syncrules: bucket %q has a filter with an empty column", b.Name)
			}
			if !validOps[f.Op] {
				return fmt.Errorf("syncrules: bucket %q has an unknown op %q", b.Name, f.Op)
			}
			if f.Value == "" {
				return fmt.Errorf("syncrules: bucket %q filter on %q has an empty value", b.Name, f.Column)
			}
		}
	}
	return nil
}
