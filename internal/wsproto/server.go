package wsproto

import (
	"context"
	"net/http"

	"github.com/adred-codev/ws_poc/internal/auth"
	"github.com/adred-codev/ws_poc/internal/gateway"
	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
)

// GatewayLookup resolves a gatewayId (path param) to its owning Session,
// creating one on first reference.
type GatewayLookup func(gatewayID string) *gateway.Session

// Upgrader promotes an already-authenticated HTTP request to a
// WebSocket connection and attaches it to the gateway session named by
// the request. Authentication happens upstream (same bearer-JWT
// middleware the HTTP surface uses); Upgrade only needs the verified
// claims.
type Upgrader struct {
	Lookup GatewayLookup
	Logger zerolog.Logger
}

// Upgrade performs the WebSocket handshake and starts the connection's
// read and write pumps. claims and clientID come from the verified JWT
// the caller extracted before routing here.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, gatewayID string, claims auth.Claims, clientID string) {
	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		u.Logger.Error().Err(err).Str("gateway_id", gatewayID).Msg("websocket upgrade failed")
		return
	}

	session := u.Lookup(gatewayID)
	att := Attachment{ClientID: clientID, Claims: claims}
	conn := NewConn(netConn, att, u.Logger)

	session.AcceptSocket(conn)

	handler := &Handler{Session: session, Conn: conn}
	// The HTTP handler's context is canceled the instant ServeHTTP
	// returns, which happens right after these two goroutines are
	// spawned — well before the socket itself closes. Use a
	// connection-lifetime context instead, or every store call made
	// from the read pump would start life already canceled.
	ctx := context.Background()

	go conn.WritePump()
	go func() {
		conn.ReadPump(func(frame []byte) (bool, ws.StatusCode, string) {
			return handler.OnMessage(ctx, frame)
		})
		session.RemoveSocket(conn)
	}()
}

// ensure Conn satisfies gateway.Socket at compile time.
var _ gateway.Socket = (*Conn)(nil)
