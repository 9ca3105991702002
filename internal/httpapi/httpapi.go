// Package httpapi exposes the gateway core over HTTP: bearer-JWT
// authentication, role-gated admin routes, request forwarding to the
// owning gateway session (directly or via the shard router), and the
// error-kind-to-status translation from spec §4.10.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/adred-codev/ws_poc/internal/auth"
	"github.com/adred-codev/ws_poc/internal/delta"
	"github.com/adred-codev/ws_poc/internal/gateway"
	"github.com/adred-codev/ws_poc/internal/hlc"
	"github.com/adred-codev/ws_poc/internal/wsproto"
	"github.com/rs/zerolog"
)

// GatewayLookup resolves a gatewayId path segment to its owning Session,
// creating one on first reference if none exists yet.
type GatewayLookup func(gatewayID string) *gateway.Session

// Server wires the HTTP surface to the gateway core. WS is nil when this
// server only fronts sharded gateways it never holds sessions for
// itself (the router has no WebSocket surface of its own).
type Server struct {
	Lookup   GatewayLookup
	Verifier *auth.Verifier
	Shard    ShardForwarder
	Logger   zerolog.Logger
	WS       *wsproto.Upgrader
}

// ShardForwarder is the subset of shard.Router's surface the HTTP layer
// needs. Left nil in single-gateway mode (no SHARD_CONFIG configured).
type ShardForwarder interface {
	ShardedPush(ctx context.Context, body []byte, fwdHeaders http.Header) (int, []byte)
	ShardedPull(ctx context.Context, rawQuery string, fwdHeaders http.Header) (int, []byte)
	ShardedAdmin(ctx context.Context, path string, body []byte, fwdHeaders http.Header) (int, []byte)
	ShardedCheckpoint(ctx context.Context, decode func([]byte) ([]delta.Delta, error), encode func([]delta.Delta) ([]byte, error)) (status int, respBody []byte, checkpointHLC hlc.Timestamp)
}

type ctxKey int

const ctxKeyClaims ctxKey = iota

func withClaims(ctx context.Context, claims auth.Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, claims)
}

func claimsFromContext(ctx context.Context) (auth.Claims, bool) {
	claims, ok := ctx.Value(ctxKeyClaims).(auth.Claims)
	return claims, ok
}

// forwardedHeaders builds the X-Client-Id / X-Auth-Claims headers spec
// §4.10 requires request forwarding to add, derived from the verified
// claims already attached to ctx.
func forwardedHeaders(ctx context.Context) http.Header {
	h := make(http.Header)
	claims, ok := claimsFromContext(ctx)
	if !ok {
		return h
	}
	h.Set("X-Client-Id", claims.ClientID)
	if encoded, err := json.Marshal(claims.CustomClaims); err == nil {
		h.Set("X-Auth-Claims", string(encoded))
	}
	return h
}

// NewRouter builds the chi mux implementing spec §4.10's route table.
func NewRouter(s *Server) http.Handler {
	return newRouter(s)
}
