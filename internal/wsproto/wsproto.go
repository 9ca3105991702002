// Package wsproto implements the binary tag-framed WebSocket protocol a
// gateway session speaks with its clients: SyncPush and SyncPull
// requests, and the SyncResponse frame used both as a request reply and
// as the broadcast envelope.
package wsproto

import (
	"encoding/binary"
	"fmt"

	"github.com/adred-codev/ws_poc/internal/delta"
	"github.com/adred-codev/ws_poc/internal/hlc"
)

// Tag identifies the kind of message a frame's first byte carries.
type Tag byte

const (
	TagSyncPush     Tag = 0x01
	TagSyncPull     Tag = 0x02
	TagSyncResponse Tag = 0x03
)

// MaxPushBodyBytes bounds a decoded SyncPush frame body per §4.8.
const MaxPushBodyBytes = 1 << 20 // 1 MiB

// MaxPushDeltas bounds the number of deltas a single SyncPush may carry.
const MaxPushDeltas = 10_000

// SyncPush is the decoded body of a tag-0x01 frame.
type SyncPush struct {
	ClientID    string
	LastSeenHLC hlc.Timestamp
	Deltas      []delta.Delta
}

// EncodeSyncPush frames a SyncPush as tag(1) || clientId || lastSeenHlc(8) || deltas.
func EncodeSyncPush(p SyncPush) ([]byte, error) {
	buf := []byte{byte(TagSyncPush)}
	buf = appendLenPrefixed(buf, []byte(p.ClientID))
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.LastSeenHLC))
	enc, err := delta.EncodeBinaryList(p.Deltas)
	if err != nil {
		return nil, fmt.Errorf("wsproto: encode push deltas: %w", err)
	}
	return append(buf, enc...), nil
}

// DecodeSyncPush parses a tag-0x01 frame body. frame must already have
// its leading tag byte stripped by the caller.
func DecodeSyncPush(frame []byte) (SyncPush, error) {
	clientID, rest, err := readLenPrefixed(frame)
	if err != nil {
		return SyncPush{}, err
	}
	if len(rest) < 8 {
		return SyncPush{}, fmt.Errorf("wsproto: truncated lastSeenHlc")
	}
	lastSeen := hlc.Timestamp(binary.BigEndian.Uint64(rest[:8]))
	deltas, err := delta.DecodeBinaryList(rest[8:])
	if err != nil {
		return SyncPush{}, fmt.Errorf("wsproto: decode push deltas: %w", err)
	}
	return SyncPush{ClientID: string(clientID), LastSeenHLC: lastSeen, Deltas: deltas}, nil
}

// SyncPull is the decoded body of a tag-0x02 frame.
type SyncPull struct {
	ClientID  string
	SinceHLC  hlc.Timestamp
	MaxDeltas uint32
}

// EncodeSyncPull frames a SyncPull as tag(1) || clientId || sinceHlc(8) || maxDeltas(4).
func EncodeSyncPull(p SyncPull) []byte {
	buf := []byte{byte(TagSyncPull)}
	buf = appendLenPrefixed(buf, []byte(p.ClientID))
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.SinceHLC))
	buf = binary.BigEndian.AppendUint32(buf, p.MaxDeltas)
	return buf
}

// DecodeSyncPull parses a tag-0x02 frame body, tag byte already stripped.
func DecodeSyncPull(frame []byte) (SyncPull, error) {
	clientID, rest, err := readLenPrefixed(frame)
	if err != nil {
		return SyncPull{}, err
	}
	if len(rest) < 12 {
		return SyncPull{}, fmt.Errorf("wsproto: truncated sync pull")
	}
	since := hlc.Timestamp(binary.BigEndian.Uint64(rest[:8]))
	maxDeltas := binary.BigEndian.Uint32(rest[8:12])
	return SyncPull{ClientID: string(clientID), SinceHLC: since, MaxDeltas: maxDeltas}, nil
}

// SyncResponse is the reply to a push or pull, and the broadcast
// envelope sent to every other attached socket.
type SyncResponse struct {
	Deltas    []delta.Delta
	ServerHLC hlc.Timestamp
	HasMore   bool
}

// EncodeSyncResponse frames a SyncResponse as
// tag(1) || serverHlc(8) || hasMore(1) || deltas.
func EncodeSyncResponse(r SyncResponse) ([]byte, error) {
	buf := []byte{byte(TagSyncResponse)}
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.ServerHLC))
	if r.HasMore {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	enc, err := delta.EncodeBinaryList(r.Deltas)
	if err != nil {
		return nil, fmt.Errorf("wsproto: encode response deltas: %w", err)
	}
	return append(buf, enc...), nil
}

// DecodeSyncResponse parses a tag-0x03 frame body, tag byte stripped.
func DecodeSyncResponse(frame []byte) (SyncResponse, error) {
	if len(frame) < 9 {
		return SyncResponse{}, fmt.Errorf("wsproto: truncated sync response")
	}
	serverHLC := hlc.Timestamp(binary.BigEndian.Uint64(frame[:8]))
	hasMore := frame[8] != 0
	deltas, err := delta.DecodeBinaryList(frame[9:])
	if err != nil {
		return SyncResponse{}, fmt.Errorf("wsproto: decode response deltas: %w", err)
	}
	return SyncResponse{Deltas: deltas, ServerHLC: serverHLC, HasMore: hasMore}, nil
}

func appendLenPrefixed(buf, v []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(v)))
	return append(buf, v...)
}

func readLenPrefixed(b []byte) (value, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("wsproto: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, fmt.Errorf("wsproto: truncated length-prefixed value")
	}
	return b[:n], b[n:], nil
}
