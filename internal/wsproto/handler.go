package wsproto

import (
	"context"
	"fmt"

	"github.com/adred-codev/ws_poc/internal/errs"
	"github.com/adred-codev/ws_poc/internal/gateway"
	"github.com/adred-codev/ws_poc/internal/syncrules"
	"github.com/gobwas/ws"
)

// Handler binds a Conn's incoming frames to its owning gateway session.
type Handler struct {
	Session *gateway.Session
	Conn    *Conn
}

// OnMessage implements the §4.8 message-handling contract: it is called
// by the read pump for every binary frame after the tag byte has been
// checked against the minimum frame length. It returns whether the
// connection must close, and with what code/reason.
func (h *Handler) OnMessage(ctx context.Context, frame []byte) (shouldClose bool, code ws.StatusCode, reason string) {
	if len(frame) < 2 {
		return true, ws.StatusProtocolError, "Message too short"
	}

	tag := Tag(frame[0])
	body := frame[1:]

	switch tag {
	case TagSyncPush:
		return h.handlePush(ctx, body)
	case TagSyncPull:
		return h.handlePull(ctx, body)
	default:
		return true, ws.StatusProtocolError, fmt.Sprintf("Unknown message tag: 0x%02x", byte(tag))
	}
}

func (h *Handler) handlePush(ctx context.Context, body []byte) (bool, ws.StatusCode, string) {
	if len(body) > MaxPushBodyBytes {
		return true, ws.StatusMessageTooBig, "Push body exceeds 1 MiB"
	}

	push, err := DecodeSyncPush(body)
	if err != nil {
		return true, ws.StatusPolicyViolation, err.Error()
	}
	if push.ClientID != h.Conn.attachment.ClientID {
		return true, ws.StatusPolicyViolation, "Client ID mismatch"
	}
	if len(push.Deltas) > MaxPushDeltas {
		return true, ws.StatusPolicyViolation, fmt.Sprintf("push exceeds %d deltas", MaxPushDeltas)
	}

	result, err := h.Session.HandlePush(ctx, gateway.PushRequest{
		ClientID:    push.ClientID,
		Deltas:      push.Deltas,
		LastSeenHLC: push.LastSeenHLC,
	})
	if err != nil {
		return true, ws.StatusPolicyViolation, string(errs.KindOf(err)) + ": " + err.Error()
	}

	reply, err := EncodeSyncResponse(SyncResponse{ServerHLC: result.ServerHLC})
	if err != nil {
		return true, ws.StatusInternalServerError, "failed to encode reply"
	}
	select {
	case h.Conn.send <- reply:
	default:
		return true, ws.StatusInternalServerError, "send buffer full"
	}

	if len(result.Deltas) > 0 {
		h.Session.Broadcast(result.Deltas, h.Conn)
	}

	return false, 0, ""
}

func (h *Handler) handlePull(ctx context.Context, body []byte) (bool, ws.StatusCode, string) {
	pull, err := DecodeSyncPull(body)
	if err != nil {
		return true, ws.StatusPolicyViolation, err.Error()
	}

	rules, err := h.Session.SyncRules(ctx)
	if err != nil {
		return true, ws.StatusInternalServerError, "failed to load sync rules"
	}
	rulesCtx := syncrules.Context{
		Rules:  rules,
		Claims: syncrules.Claims(h.Conn.attachment.Claims.CustomClaims),
	}

	result, err := h.Session.HandlePull(ctx, gateway.PullRequest{
		ClientID:  pull.ClientID,
		SinceHLC:  pull.SinceHLC,
		MaxDeltas: int(pull.MaxDeltas),
	}, &rulesCtx)
	if err != nil {
		return true, ws.StatusPolicyViolation, string(errs.KindOf(err)) + ": " + err.Error()
	}

	reply, err := EncodeSyncResponse(SyncResponse{Deltas: result.Deltas, ServerHLC: result.ServerHLC, HasMore: result.HasMore})
	if err != nil {
		return true, ws.StatusInternalServerError, "failed to encode reply"
	}
	select {
	case h.Conn.send <- reply:
	default:
		return true, ws.StatusInternalServerError, "send buffer full"
	}

	return false, 0, ""
}
