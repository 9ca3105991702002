package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/adred-codev/ws_poc/internal/delta"
	"github.com/adred-codev/ws_poc/internal/errs"
	"github.com/adred-codev/ws_poc/internal/gateway"
	"github.com/adred-codev/ws_poc/internal/hlc"
	"github.com/adred-codev/ws_poc/internal/syncrules"
	"github.com/adred-codev/ws_poc/internal/tableschema"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONPublic(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

// handleInternalBroadcast receives a cross-shard broadcast forwarded by
// the router (shard.Router.broadcastAcrossShards) and fans the deltas
// out to this gatewayId's locally-attached sockets. Unauthenticated:
// this route is reached only from the router over the internal network,
// never from a client. Unavailable in router mode, where there is no
// local session to broadcast from.
func (s *Server) handleInternalBroadcast(w http.ResponseWriter, r *http.Request) {
	if s.Shard != nil {
		writeError(w, errs.KindInternal, "internal broadcast not available on this server")
		return
	}
	gatewayID := chi.URLParam(r, "gatewayId")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errs.KindValidation, "failed to read request body")
		return
	}

	var in struct {
		Deltas []delta.Delta `json:"deltas"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, errs.KindValidation, "invalid JSON body")
		return
	}

	s.Lookup(gatewayID).Broadcast(in.Deltas, nil)
	writeJSON(w, http.StatusOK, struct {
		Accepted int `json:"accepted"`
	}{Accepted: len(in.Deltas)})
}

// handleWS upgrades an already-authenticated request to a WebSocket
// connection. Unavailable in router mode, where there is no local
// session to attach sockets to.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.WS == nil {
		writeError(w, errs.KindInternal, "websocket upgrade not available on this server")
		return
	}
	gatewayID := chi.URLParam(r, "gatewayId")
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, errs.KindAuth, "missing verified claims")
		return
	}
	s.WS.Upgrade(w, r, gatewayID, claims, claims.ClientID)
}

// pushBody is the JSON shape of a push request per spec §6.
type pushBody struct {
	ClientID    string        `json:"clientId"`
	Deltas      []delta.Delta `json:"deltas"`
	LastSeenHLC hlc.Timestamp `json:"lastSeenHlc,string"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	gatewayID := chi.URLParam(r, "gatewayId")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errs.KindValidation, "failed to read request body")
		return
	}

	if s.Shard != nil {
		status, respBody := s.Shard.ShardedPush(r.Context(), body, forwardedHeaders(r.Context()))
		writeRaw(w, status, respBody)
		return
	}

	var req pushBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errs.KindValidation, "Invalid JSON body")
		return
	}
	claims, _ := claimsFromContext(r.Context())
	if req.ClientID != "" && req.ClientID != claims.ClientID {
		writeError(w, errs.KindForbidden, "Client ID mismatch")
		return
	}

	session := s.Lookup(gatewayID)
	result, err := session.HandlePush(r.Context(), gateway.PushRequest{
		ClientID:    claims.ClientID,
		Deltas:      req.Deltas,
		LastSeenHLC: req.LastSeenHLC,
	})
	if err != nil {
		writeErrFrom(w, err)
		return
	}

	session.Broadcast(result.Deltas, nil)

	writeJSON(w, http.StatusOK, struct {
		Accepted  int           `json:"accepted"`
		ServerHLC hlc.Timestamp `json:"serverHlc,string"`
	}{Accepted: result.Accepted, ServerHLC: result.ServerHLC})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	gatewayID := chi.URLParam(r, "gatewayId")

	if s.Shard != nil {
		status, respBody := s.Shard.ShardedPull(r.Context(), r.URL.RawQuery, forwardedHeaders(r.Context()))
		writeRaw(w, status, respBody)
		return
	}

	q := r.URL.Query()
	sinceStr := q.Get("since")
	since, err := strconv.ParseUint(sinceStr, 10, 64)
	if sinceStr == "" || err != nil {
		writeError(w, errs.KindValidation, "missing or invalid since parameter")
		return
	}

	limit := 100
	if l := q.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			writeError(w, errs.KindValidation, "invalid limit parameter")
			return
		}
		limit = parsed
		if limit > 10000 {
			limit = 10000
		}
	}

	claims, _ := claimsFromContext(r.Context())
	session := s.Lookup(gatewayID)

	rules, err := session.SyncRules(r.Context())
	if err != nil {
		writeErrFrom(w, err)
		return
	}
	rulesCtx := syncrules.Context{Rules: rules, Claims: syncrules.Claims(claims.CustomClaims)}

	result, err := session.HandlePull(r.Context(), gateway.PullRequest{
		ClientID:  claims.ClientID,
		SinceHLC:  hlc.Timestamp(since),
		MaxDeltas: limit,
	}, &rulesCtx)
	if err != nil {
		writeErrFrom(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Deltas    []delta.Delta `json:"deltas"`
		ServerHLC hlc.Timestamp `json:"serverHlc,string"`
		HasMore   bool          `json:"hasMore"`
	}{Deltas: result.Deltas, ServerHLC: result.ServerHLC, HasMore: result.HasMore})
}

func (s *Server) handleAdminFlush(w http.ResponseWriter, r *http.Request) {
	gatewayID := chi.URLParam(r, "gatewayId")

	if s.Shard != nil {
		status, respBody := s.Shard.ShardedAdmin(r.Context(), "/v1/admin/flush/"+gatewayID, nil, forwardedHeaders(r.Context()))
		writeRaw(w, status, respBody)
		return
	}

	session := s.Lookup(gatewayID)
	if _, err := session.Flush(r.Context()); err != nil {
		writeErrFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Flushed bool `json:"flushed"`
	}{Flushed: true})
}

func (s *Server) handleAdminSchema(w http.ResponseWriter, r *http.Request) {
	gatewayID := chi.URLParam(r, "gatewayId")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errs.KindValidation, "failed to read request body")
		return
	}

	if s.Shard != nil {
		status, respBody := s.Shard.ShardedAdmin(r.Context(), "/v1/admin/schema/"+gatewayID, body, forwardedHeaders(r.Context()))
		writeRaw(w, status, respBody)
		return
	}

	var schema tableschema.Schema
	if err := json.Unmarshal(body, &schema); err != nil {
		writeError(w, errs.KindValidation, "Invalid JSON body")
		return
	}
	session := s.Lookup(gatewayID)
	if err := session.SaveSchema(r.Context(), schema); err != nil {
		writeErrFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Applied bool `json:"applied"`
	}{Applied: true})
}

func (s *Server) handleAdminSyncRules(w http.ResponseWriter, r *http.Request) {
	gatewayID := chi.URLParam(r, "gatewayId")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errs.KindValidation, "failed to read request body")
		return
	}

	if s.Shard != nil {
		status, respBody := s.Shard.ShardedAdmin(r.Context(), "/v1/admin/sync-rules/"+gatewayID, body, forwardedHeaders(r.Context()))
		writeRaw(w, status, respBody)
		return
	}

	var rules syncrules.Rules
	if err := json.Unmarshal(body, &rules); err != nil {
		writeError(w, errs.KindValidation, "Invalid JSON body")
		return
	}
	session := s.Lookup(gatewayID)
	if err := session.SaveSyncRules(r.Context(), rules); err != nil {
		writeErrFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Applied bool `json:"applied"`
	}{Applied: true})
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(body)
}
