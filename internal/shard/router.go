package shard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/adred-codev/ws_poc/internal/delta"
	"github.com/adred-codev/ws_poc/internal/hlc"
	"github.com/adred-codev/ws_poc/internal/metrics"
	"github.com/rs/zerolog"
)

// AddressResolver maps a shard's gatewayId to the base URL of the
// gateway instance that owns it (e.g. "http://gw-a.internal:8080").
type AddressResolver func(gatewayID string) string

// Router fans HTTP requests out across the shards named in Config and
// merges their responses. One Router is built per SHARD_CONFIG reload.
type Router struct {
	cfg      Config
	resolve  AddressResolver
	client   *http.Client
	logger   zerolog.Logger
}

// NewRouter builds a Router over cfg, using resolve to turn a shard's
// gatewayId into the base URL to forward requests to.
func NewRouter(cfg Config, resolve AddressResolver, logger zerolog.Logger) *Router {
	return &Router{
		cfg:     cfg,
		resolve: resolve,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

type shardResult struct {
	gatewayID  string
	statusCode int
	body       []byte
	headers    http.Header
	err        error
}

func applyForwardedHeaders(req *http.Request, fwdHeaders http.Header) {
	for _, key := range []string{"X-Client-Id", "X-Auth-Claims"} {
		if v := fwdHeaders.Get(key); v != "" {
			req.Header.Set(key, v)
		}
	}
}

func (r *Router) postJSON(ctx context.Context, gatewayID, path string, body []byte, fwdHeaders http.Header) shardResult {
	url := r.resolve(gatewayID) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return shardResult{gatewayID: gatewayID, err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	applyForwardedHeaders(req, fwdHeaders)
	return r.do(req, gatewayID)
}

func (r *Router) getQuery(ctx context.Context, gatewayID, path, rawQuery string, fwdHeaders http.Header) shardResult {
	url := r.resolve(gatewayID) + path
	if rawQuery != "" {
		url += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return shardResult{gatewayID: gatewayID, err: err}
	}
	applyForwardedHeaders(req, fwdHeaders)
	return r.do(req, gatewayID)
}

func (r *Router) do(req *http.Request, gatewayID string) shardResult {
	resp, err := r.client.Do(req)
	if err != nil {
		return shardResult{gatewayID: gatewayID, err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return shardResult{gatewayID: gatewayID, err: err}
	}
	return shardResult{gatewayID: gatewayID, statusCode: resp.StatusCode, body: body, headers: resp.Header}
}

// fanOut runs fn against every gatewayID concurrently and returns the
// results in the same order as gatewayIDs.
func fanOut(gatewayIDs []string, fn func(gatewayID string) shardResult) []shardResult {
	results := make([]shardResult, len(gatewayIDs))
	var wg sync.WaitGroup
	for i, id := range gatewayIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = fn(id)
		}(i, id)
	}
	wg.Wait()
	return results
}

func isSuccess(status int) bool { return status >= 200 && status < 300 }

// pushResponse is the JSON body a gateway's /push endpoint replies with.
type pushResponse struct {
	Accepted  int           `json:"accepted"`
	ServerHLC hlc.Timestamp `json:"serverHlc,string"`
}

// ShardedPush parses body as a list of deltas, partitions them by
// owning shard, and POSTs each partition to its shard's /push. Any
// non-2xx shard response short-circuits with that status and body.
// On success it fires a best-effort cross-shard broadcast of each
// shard's ingested deltas to every other shard.
func (r *Router) ShardedPush(ctx context.Context, body []byte, fwdHeaders http.Header) (status int, respBody []byte) {
	var in struct {
		Deltas []delta.Delta `json:"deltas"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return http.StatusBadRequest, []byte(`{"error":"Invalid JSON body"}`)
	}

	partitions := PartitionDeltasByShard(r.cfg, in.Deltas)
	gatewayIDs := make([]string, 0, len(partitions))
	for id := range partitions {
		gatewayIDs = append(gatewayIDs, id)
	}
	sort.Strings(gatewayIDs)

	results := fanOut(gatewayIDs, func(id string) shardResult {
		payload, _ := json.Marshal(struct {
			Deltas []delta.Delta `json:"deltas"`
		}{Deltas: partitions[id]})
		return r.postJSON(ctx, id, "/push", payload, fwdHeaders)
	})

	var maxServerHLC hlc.Timestamp
	for i, res := range results {
		if res.err != nil {
			metrics.RecordShardFanoutError("push")
			r.logger.Error().Err(res.err).Str("gateway_id", gatewayIDs[i]).Msg("shard push failed")
			return http.StatusBadGateway, []byte(fmt.Sprintf(`{"error":"shard %s unreachable"}`, gatewayIDs[i]))
		}
		if !isSuccess(res.statusCode) {
			return res.statusCode, res.body
		}
		var pr pushResponse
		if err := json.Unmarshal(res.body, &pr); err == nil && pr.ServerHLC > maxServerHLC {
			maxServerHLC = pr.ServerHLC
		}
	}

	go r.broadcastAcrossShards(gatewayIDs, partitions, maxServerHLC)

	out, _ := json.Marshal(struct {
		Accepted  int           `json:"accepted"`
		ServerHLC hlc.Timestamp `json:"serverHlc,string"`
	}{Accepted: len(in.Deltas), ServerHLC: maxServerHLC})
	return http.StatusOK, out
}

// broadcastAcrossShards sends each source shard's ingested deltas to
// every other shard's /internal/broadcast, fire-and-forget. Failures
// are swallowed: cross-shard broadcast is best-effort by design.
func (r *Router) broadcastAcrossShards(sourceIDs []string, partitions map[string][]delta.Delta, serverHLC hlc.Timestamp) {
	all := ResolveShardGatewayIds(r.cfg, nil)
	for _, sourceID := range sourceIDs {
		deltas := partitions[sourceID]
		if len(deltas) == 0 {
			continue
		}
		payload, _ := json.Marshal(struct {
			Deltas    []delta.Delta `json:"deltas"`
			ServerHLC hlc.Timestamp `json:"serverHlc,string"`
		}{Deltas: deltas, ServerHLC: serverHLC})

		for _, targetID := range all {
			if targetID == sourceID {
				continue
			}
			res := r.postJSON(context.Background(), targetID, "/internal/broadcast/"+targetID, payload, nil)
			if res.err != nil {
				r.logger.Debug().Err(res.err).Str("gateway_id", targetID).Msg("cross-shard broadcast failed")
			}
		}
	}
}

// ShardedPull fans a pull request's query string out to every shard,
// merging successful responses with MergePullResponses. Shards that
// error are logged and skipped; partial results are preferred to total
// failure.
func (r *Router) ShardedPull(ctx context.Context, rawQuery string, fwdHeaders http.Header) (status int, respBody []byte) {
	gatewayIDs := ResolveShardGatewayIds(r.cfg, nil)
	results := fanOut(gatewayIDs, func(id string) shardResult {
		return r.getQuery(ctx, id, "/pull", rawQuery, fwdHeaders)
	})

	var responses []PullResponse
	for i, res := range results {
		if res.err != nil || !isSuccess(res.statusCode) {
			metrics.RecordShardFanoutError("pull")
			r.logger.Warn().Str("gateway_id", gatewayIDs[i]).Int("status", res.statusCode).Msg("shard pull skipped")
			continue
		}
		var pr struct {
			Deltas    []delta.Delta `json:"deltas"`
			ServerHLC hlc.Timestamp `json:"serverHlc,string"`
			HasMore   bool          `json:"hasMore"`
		}
		if err := json.Unmarshal(res.body, &pr); err != nil {
			r.logger.Warn().Str("gateway_id", gatewayIDs[i]).Msg("shard pull response malformed")
			continue
		}
		responses = append(responses, PullResponse{Deltas: pr.Deltas, ServerHLC: pr.ServerHLC, HasMore: pr.HasMore})
	}

	merged := MergePullResponses(responses)
	out, _ := json.Marshal(struct {
		Deltas    []delta.Delta `json:"deltas"`
		ServerHLC hlc.Timestamp `json:"serverHlc,string"`
		HasMore   bool          `json:"hasMore"`
	}{Deltas: merged.Deltas, ServerHLC: merged.ServerHLC, HasMore: merged.HasMore})
	return http.StatusOK, out
}

// ShardedAdmin fans the same admin request body out to every shard.
// The first non-2xx response short-circuits and is returned verbatim;
// on all-success it reports {applied:true, shards:N}.
func (r *Router) ShardedAdmin(ctx context.Context, path string, body []byte, fwdHeaders http.Header) (status int, respBody []byte) {
	gatewayIDs := ResolveShardGatewayIds(r.cfg, nil)
	results := fanOut(gatewayIDs, func(id string) shardResult {
		return r.postJSON(ctx, id, path, body, fwdHeaders)
	})

	for i, res := range results {
		if res.err != nil {
			metrics.RecordShardFanoutError("admin")
			return http.StatusBadGateway, []byte(fmt.Sprintf(`{"error":"shard %s unreachable"}`, gatewayIDs[i]))
		}
		if !isSuccess(res.statusCode) {
			return res.statusCode, res.body
		}
	}

	out, _ := json.Marshal(struct {
		Applied bool `json:"applied"`
		Shards  int  `json:"shards"`
	}{Applied: true, Shards: len(gatewayIDs)})
	return http.StatusOK, out
}

// ShardedCheckpoint fans GET /checkpoint out to every shard, decodes
// each binary SyncResponse, merges the deltas sorted ascending by HLC,
// and re-encodes as a single binary response with X-Checkpoint-Hlc set
// to the max observed across shards. Shards that error are skipped.
func (r *Router) ShardedCheckpoint(ctx context.Context, decode func([]byte) ([]delta.Delta, error), encode func([]delta.Delta) ([]byte, error)) (status int, respBody []byte, checkpointHLC hlc.Timestamp) {
	gatewayIDs := ResolveShardGatewayIds(r.cfg, nil)
	results := fanOut(gatewayIDs, func(id string) shardResult {
		return r.getQuery(ctx, id, "/checkpoint", "", nil)
	})

	var merged []delta.Delta
	var maxHLC hlc.Timestamp
	for i, res := range results {
		if res.err != nil || !isSuccess(res.statusCode) {
			metrics.RecordShardFanoutError("checkpoint")
			r.logger.Warn().Str("gateway_id", gatewayIDs[i]).Msg("shard checkpoint skipped")
			continue
		}
		deltas, err := decode(res.body)
		if err != nil {
			r.logger.Warn().Str("gateway_id", gatewayIDs[i]).Err(err).Msg("shard checkpoint body undecodable")
			continue
		}
		merged = append(merged, deltas...)

		if raw := res.headers.Get("X-Checkpoint-Hlc"); raw != "" {
			if v, err := strconv.ParseUint(raw, 10, 64); err == nil && hlc.Timestamp(v) > maxHLC {
				maxHLC = hlc.Timestamp(v)
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].HLC < merged[j].HLC })

	encoded, err := encode(merged)
	if err != nil {
		return http.StatusInternalServerError, []byte(`{"error":"failed to encode checkpoint"}`), 0
	}
	return http.StatusOK, encoded, maxHLC
}
