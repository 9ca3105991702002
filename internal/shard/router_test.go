package shard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adred-codev/ws_poc/internal/delta"
	"github.com/adred-codev/ws_poc/internal/hlc"
	"github.com/rs/zerolog"
)

func newRouterForServers(t *testing.T, cfg Config, servers map[string]*httptest.Server) *Router {
	t.Helper()
	resolve := func(gatewayID string) string {
		srv, ok := servers[gatewayID]
		if !ok {
			t.Fatalf("no test server registered for gateway %q", gatewayID)
		}
		return srv.URL
	}
	return NewRouter(cfg, resolve, zerolog.Nop())
}

func TestShardedPushPartitionsAndAggregatesServerHLC(t *testing.T) {
	var gotA, gotB int
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Deltas []delta.Delta `json:"deltas"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotA = len(body.Deltas)
		json.NewEncoder(w).Encode(pushResponse{Accepted: len(body.Deltas), ServerHLC: hlc.Encode(10, 0)})
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Deltas []delta.Delta `json:"deltas"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotB = len(body.Deltas)
		json.NewEncoder(w).Encode(pushResponse{Accepted: len(body.Deltas), ServerHLC: hlc.Encode(20, 0)})
	}))
	defer srvB.Close()

	cfg := Config{
		Default: "gw-b",
		Shards:  []Entry{{Tables: []string{"orders"}, GatewayID: "gw-a"}},
	}
	r := newRouterForServers(t, cfg, map[string]*httptest.Server{"gw-a": srvA, "gw-b": srvB})

	deltas := []delta.Delta{
		testDelta("orders", "1", hlc.Encode(1, 0)),
		testDelta("users", "2", hlc.Encode(2, 0)),
	}
	body, _ := json.Marshal(struct {
		Deltas []delta.Delta `json:"deltas"`
	}{Deltas: deltas})

	status, respBody := r.ShardedPush(context.Background(), body, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %s", status, respBody)
	}
	if gotA != 1 || gotB != 1 {
		t.Fatalf("partition sizes = %d,%d, want 1,1", gotA, gotB)
	}

	var out struct {
		Accepted  int           `json:"accepted"`
		ServerHLC hlc.Timestamp `json:"serverHlc,string"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Accepted != 2 || out.ServerHLC != hlc.Encode(20, 0) {
		t.Fatalf("got %+v", out)
	}
}

func TestShardedPushSurfacesNonSuccessShardResponse(t *testing.T) {
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"bad delta"}`))
	}))
	defer srvA.Close()

	cfg := Config{Default: "gw-a"}
	r := newRouterForServers(t, cfg, map[string]*httptest.Server{"gw-a": srvA})

	body, _ := json.Marshal(struct {
		Deltas []delta.Delta `json:"deltas"`
	}{Deltas: []delta.Delta{testDelta("t", "1", hlc.Encode(1, 0))}})

	status, respBody := r.ShardedPush(context.Background(), body, nil)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", status)
	}
	if string(respBody) != `{"error":"bad delta"}` {
		t.Fatalf("body = %s", respBody)
	}
}

func TestShardedPullMergesAcrossShardsAndSkipsErrors(t *testing.T) {
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(struct {
			Deltas    []delta.Delta `json:"deltas"`
			ServerHLC hlc.Timestamp `json:"serverHlc,string"`
			HasMore   bool          `json:"hasMore"`
		}{Deltas: []delta.Delta{testDelta("t", "a", hlc.Encode(10, 0))}, ServerHLC: hlc.Encode(10, 0)})
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srvB.Close()

	cfg := Config{Default: "gw-b", Shards: []Entry{{Tables: []string{"t"}, GatewayID: "gw-a"}}}
	r := newRouterForServers(t, cfg, map[string]*httptest.Server{"gw-a": srvA, "gw-b": srvB})

	status, respBody := r.ShardedPull(context.Background(), "since=0", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var out struct {
		Deltas []delta.Delta `json:"deltas"`
	}
	json.Unmarshal(respBody, &out)
	if len(out.Deltas) != 1 {
		t.Fatalf("got %d deltas, want 1 (erroring shard skipped)", len(out.Deltas))
	}
}

func TestShardedAdminShortCircuitsOnFirstFailure(t *testing.T) {
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"forbidden"}`))
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srvB.Close()

	cfg := Config{Default: "gw-b", Shards: []Entry{{Tables: []string{"t"}, GatewayID: "gw-a"}}}
	r := newRouterForServers(t, cfg, map[string]*httptest.Server{"gw-a": srvA, "gw-b": srvB})

	status, respBody := r.ShardedAdmin(context.Background(), "/v1/admin/reset", []byte(`{}`), nil)
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}
	if string(respBody) != `{"error":"forbidden"}` {
		t.Fatalf("body = %s", respBody)
	}
}

func TestShardedAdminReportsAppliedAndShardCountOnAllSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := Config{Default: "gw-a"}
	r := newRouterForServers(t, cfg, map[string]*httptest.Server{"gw-a": srv})

	status, respBody := r.ShardedAdmin(context.Background(), "/v1/admin/reset", []byte(`{}`), nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var out struct {
		Applied bool `json:"applied"`
		Shards  int  `json:"shards"`
	}
	json.Unmarshal(respBody, &out)
	if !out.Applied || out.Shards != 1 {
		t.Fatalf("got %+v", out)
	}
}

func TestShardedCheckpointMergesSortsAndTakesMaxHeader(t *testing.T) {
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Checkpoint-Hlc", "100")
		w.Write([]byte("shard-a-payload"))
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Checkpoint-Hlc", "200")
		w.Write([]byte("shard-b-payload"))
	}))
	defer srvB.Close()

	cfg := Config{Default: "gw-b", Shards: []Entry{{Tables: []string{"t"}, GatewayID: "gw-a"}}}
	r := newRouterForServers(t, cfg, map[string]*httptest.Server{"gw-a": srvA, "gw-b": srvB})

	decode := func(body []byte) ([]delta.Delta, error) {
		switch string(body) {
		case "shard-a-payload":
			return []delta.Delta{testDelta("t", "a", hlc.Encode(5, 0))}, nil
		case "shard-b-payload":
			return []delta.Delta{testDelta("t", "b", hlc.Encode(1, 0))}, nil
		}
		return nil, nil
	}
	var encoded []delta.Delta
	encode := func(deltas []delta.Delta) ([]byte, error) {
		encoded = deltas
		return []byte("merged"), nil
	}

	status, respBody, maxHLC := r.ShardedCheckpoint(context.Background(), decode, encode)
	if status != http.StatusOK || string(respBody) != "merged" {
		t.Fatalf("status = %d, body = %s", status, respBody)
	}
	if maxHLC != 200 {
		t.Fatalf("maxHLC = %d, want 200", maxHLC)
	}
	if len(encoded) != 2 || encoded[0].RowID != "b" || encoded[1].RowID != "a" {
		t.Fatalf("merged deltas not sorted ascending by hlc: %+v", encoded)
	}
}
