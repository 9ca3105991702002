package wsproto

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/adred-codev/ws_poc/internal/auth"
	"github.com/adred-codev/ws_poc/internal/delta"
	"github.com/adred-codev/ws_poc/internal/gateway"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = 50 * time.Second

	sendBufferSize = 256
)

// Attachment is the per-socket durable data: the authenticated claims
// and clientId, captured at upgrade time and carried for the life of
// the connection.
type Attachment struct {
	ClientID string
	Claims   auth.Claims
}

// Conn is one attached WebSocket session: the authenticated attachment
// plus the plumbing the read and write pumps share. It implements
// gateway.Socket so a Session can broadcast to it.
type Conn struct {
	conn net.Conn
	send chan []byte

	attachment Attachment
	closeOnce  sync.Once

	logger zerolog.Logger
}

// NewConn wraps an upgraded net.Conn with its authenticated attachment.
func NewConn(netConn net.Conn, att Attachment, logger zerolog.Logger) *Conn {
	return &Conn{
		conn:       netConn,
		send:       make(chan []byte, sendBufferSize),
		attachment: att,
		logger:     logger,
	}
}

// Attachment returns the socket's durable claims/clientId, satisfying
// gateway.Socket.
func (c *Conn) Attachment() gateway.Attachment {
	return gateway.Attachment{Claims: c.attachment.Claims, ClientID: c.attachment.ClientID}
}

// SendBroadcast encodes deltas as a tag-0x03 SyncResponse and enqueues
// it for delivery on the write pump, satisfying gateway.Socket. A full
// send buffer drops the broadcast rather than blocking the caller; the
// client will catch up on its next pull.
func (c *Conn) SendBroadcast(deltas []delta.Delta) error {
	frame, err := EncodeSyncResponse(SyncResponse{Deltas: deltas})
	if err != nil {
		return fmt.Errorf("wsproto: encode broadcast: %w", err)
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return fmt.Errorf("wsproto: send buffer full for client %s", c.attachment.ClientID)
	}
}

// closeWithCode sends a close frame carrying code and reason, then
// closes the underlying connection. Best-effort: write errors are
// ignored, the conn is closing either way.
func (c *Conn) closeWithCode(code ws.StatusCode, reason string) {
	body := ws.NewCloseFrameBody(code, reason)
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, body)
	c.Close()
}

// Close closes the underlying connection exactly once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// WritePump batches frames queued on send and flushes them to the
// connection, pinging on pingPeriod to keep NAT/load-balancer idle
// timeouts from tearing the connection down. Mirrors the batching
// write loop every server in this codebase uses on its hot path.
func (c *Conn) WritePump() {
	writer := bufio.NewWriter(c.conn)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpBinary, frame); err != nil {
				c.logger.Debug().Err(err).Str("client_id", c.attachment.ClientID).Msg("write failed")
				return
			}

			n := len(c.send)
			for i := 0; i < n; i++ {
				frame = <-c.send
				if err := wsutil.WriteServerMessage(writer, ws.OpBinary, frame); err != nil {
					c.logger.Debug().Err(err).Str("client_id", c.attachment.ClientID).Msg("write failed")
					return
				}
			}
			if err := writer.Flush(); err != nil {
				c.logger.Debug().Err(err).Str("client_id", c.attachment.ClientID).Msg("flush failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump reads frames from the connection and dispatches them to
// onMessage until the connection errors, closes, or is torn down by a
// protocol violation.
func (c *Conn) ReadPump(onMessage func(frame []byte) (shouldClose bool, code ws.StatusCode, reason string)) {
	defer func() {
		close(c.send)
		c.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpClose:
			return
		case ws.OpPing, ws.OpPong:
			continue
		case ws.OpText:
			c.closeWithCode(ws.StatusUnsupportedData, "Binary frames only")
			return
		case ws.OpBinary:
			if shouldClose, code, reason := onMessage(msg); shouldClose {
				c.closeWithCode(code, reason)
				return
			}
		}
	}
}
