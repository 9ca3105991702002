// Package gateway implements the per-gateway session object: the
// serialisation point owning one HLC clock, one delta buffer, a cached
// schema and sync rules, attached WebSocket sockets, and the flush
// retry counter.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/adred-codev/ws_poc/internal/auth"
	"github.com/adred-codev/ws_poc/internal/buffer"
	"github.com/adred-codev/ws_poc/internal/columnar"
	"github.com/adred-codev/ws_poc/internal/delta"
	"github.com/adred-codev/ws_poc/internal/errs"
	"github.com/adred-codev/ws_poc/internal/hlc"
	"github.com/adred-codev/ws_poc/internal/metrics"
	"github.com/adred-codev/ws_poc/internal/objectstore"
	"github.com/adred-codev/ws_poc/internal/syncrules"
	"github.com/adred-codev/ws_poc/internal/tableschema"
	"github.com/adred-codev/ws_poc/internal/usage"
	"github.com/google/uuid"
)

// Attachment is the per-socket durable data a WebSocket session carries
// across a hibernation round-trip: the verified claims and clientId it
// authenticated with.
type Attachment struct {
	Claims   auth.Claims
	ClientID string
}

// Socket is the minimal surface a gateway session needs from an
// attached WebSocket session in order to broadcast to it. The wsproto
// package supplies the implementation; defining it here (rather than
// importing wsproto) keeps the dependency direction one-way.
type Socket interface {
	Attachment() Attachment
	SendBroadcast(deltas []delta.Delta) error
}

// durable key names under which schema and sync rules are persisted.
const (
	keyTableSchema = "tableSchema"
	keySyncRules   = "syncRules"
)

// Session is one logical gateway: every mutation of its buffer, clock,
// retry counter, or pending alarm is serialised through mu.
type Session struct {
	mu sync.Mutex

	gatewayID string
	clock     *hlc.Clock
	buf       *buffer.Buffer
	cfg       buffer.Config

	schema     tableschema.Schema
	schemaSet  bool
	rules      syncrules.Rules
	rulesSet   bool

	sockets map[Socket]struct{}

	retryCount int
	alarm      buffer.AlarmScheduler

	store objectstore.Adapter
	agg   *usage.Aggregator
}

// New creates a gateway Session. Schema and sync rules are loaded
// lazily from store on first reference, per spec's "created on first
// reference" lifecycle.
func New(gatewayID string, cfg buffer.Config, store objectstore.Adapter, agg *usage.Aggregator) *Session {
	return &Session{
		gatewayID: gatewayID,
		clock:     hlc.New(),
		buf:       buffer.New(),
		cfg:       cfg,
		sockets:   make(map[Socket]struct{}),
		store:     store,
		agg:       agg,
	}
}

func durableKey(gatewayID, name string) string {
	return fmt.Sprintf("gateways/%s/%s", gatewayID, name)
}

// loadSchema lazily loads the cached schema from durable storage. Caller
// must hold mu.
func (s *Session) loadSchema(ctx context.Context) error {
	if s.schemaSet {
		return nil
	}
	data, err := s.store.Get(ctx, durableKey(s.gatewayID, keyTableSchema))
	if err != nil {
		if err == objectstore.ErrNotFound {
			s.schemaSet = true
			return nil
		}
		return errs.Wrap(errs.KindAdapterError, "load table schema", err)
	}
	var schema tableschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return errs.Wrap(errs.KindInternal, "decode stored table schema", err)
	}
	s.schema = schema
	s.schemaSet = true
	return nil
}

// loadRules lazily loads the cached sync rules from durable storage.
// Caller must hold mu.
func (s *Session) loadRules(ctx context.Context) error {
	if s.rulesSet {
		return nil
	}
	data, err := s.store.Get(ctx, durableKey(s.gatewayID, keySyncRules))
	if err != nil {
		if err == objectstore.ErrNotFound {
			s.rulesSet = true
			return nil
		}
		return errs.Wrap(errs.KindAdapterError, "load sync rules", err)
	}
	var rules syncrules.Rules
	if err := json.Unmarshal(data, &rules); err != nil {
		return errs.Wrap(errs.KindInternal, "decode stored sync rules", err)
	}
	s.rules = rules
	s.rulesSet = true
	return nil
}

// SaveSchema persists a new table schema, then adopts it for subsequent
// ingest and flushes. The schema is stored as given; its column names
// and types are not checked here.
func (s *Session) SaveSchema(ctx context.Context, schema tableschema.Schema) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "marshal table schema", err)
	}
	if err := s.store.Put(ctx, durableKey(s.gatewayID, keyTableSchema), data, "application/json"); err != nil {
		return errs.Wrap(errs.KindAdapterError, "persist table schema", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema = schema
	s.schemaSet = true
	return nil
}

// SaveSyncRules validates and persists a new sync-rules document, then
// adopts it for subsequent pulls and broadcasts.
func (s *Session) SaveSyncRules(ctx context.Context, rules syncrules.Rules) error {
	if err := syncrules.ValidateSyncRules(rules); err != nil {
		return errs.Wrap(errs.KindValidation, "invalid sync rules", err)
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "marshal sync rules", err)
	}
	if err := s.store.Put(ctx, durableKey(s.gatewayID, keySyncRules), data, "application/json"); err != nil {
		return errs.Wrap(errs.KindAdapterError, "persist sync rules", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
	s.rulesSet = true
	return nil
}

// PushRequest is the input to HandlePush.
type PushRequest struct {
	ClientID    string
	Deltas      []delta.Delta
	LastSeenHLC hlc.Timestamp
}

// PushResult is the successful output of HandlePush.
type PushResult struct {
	Accepted  int
	ServerHLC hlc.Timestamp
	Deltas    []delta.Delta
}

func payloadBytes(deltas []delta.Delta) int {
	total := 0
	for _, d := range deltas {
		enc, err := delta.EncodeBinary(d)
		if err != nil {
			continue
		}
		total += len(enc)
	}
	return total
}

// HandlePush ingests a batch of deltas per spec §4.6.1: schema
// validation, HLC receive, backpressure admission, then deltaId dedup
// and LWW merge into the buffer, in that order per delta.
func (s *Session) HandlePush(ctx context.Context, push PushRequest) (PushResult, error) {
	if len(push.Deltas) > s.cfg.MaxDeltasPerPush {
		return PushResult{}, errs.New(errs.KindValidation, fmt.Sprintf("push exceeds maxDeltasPerPush (%d)", s.cfg.MaxDeltasPerPush))
	}
	if payloadBytes(push.Deltas) > s.cfg.MaxPushPayloadBytes {
		return PushResult{}, errs.New(errs.KindValidation, "push payload exceeds maxPushPayloadBytes")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadSchema(ctx); err != nil {
		return PushResult{}, err
	}

	accepted := 0
	stored := make([]delta.Delta, 0, len(push.Deltas))

	for _, d := range push.Deltas {
		validated, err := buffer.ApplySchema(d, s.schema)
		if err != nil {
			return PushResult{}, err
		}

		ts, err := s.clock.Recv(validated.HLC)
		if err != nil {
			return PushResult{}, errs.Wrap(errs.KindClockDrift, "push delta clock drift", err)
		}
		validated.HLC = ts

		if s.buf.ByteSize() >= s.cfg.HighWaterBytes() && !s.buf.HasSeen(validated.DeltaID) {
			return PushResult{}, errs.New(errs.KindBackpressure, "buffer at high watermark")
		}

		winner, isNew, err := s.buf.Upsert(validated)
		if err != nil {
			return PushResult{}, errs.Wrap(errs.KindConflict, "lww resolve", err)
		}
		if isNew {
			accepted++
		}
		stored = append(stored, winner)
	}

	if s.agg != nil && accepted > 0 {
		s.agg.Record(s.gatewayID, usage.EventPushDeltas, int64(accepted), time.Now())
	}
	metrics.RecordPush(s.gatewayID, accepted)
	metrics.RecordBufferState(s.gatewayID, s.buf.ByteSize(), s.buf.Len())

	s.scheduleAfterPushLocked()

	return PushResult{Accepted: accepted, ServerHLC: s.clock.Now(), Deltas: stored}, nil
}

// SyncRules returns the session's currently active sync rules, loading
// them from durable storage on first reference. Callers that need to
// build a syncrules.Context for HandlePull (e.g. the WebSocket and HTTP
// front ends) use this to obtain the Rules half of that context.
func (s *Session) SyncRules(ctx context.Context) (syncrules.Rules, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadRules(ctx); err != nil {
		return syncrules.Rules{}, err
	}
	return s.rules, nil
}

// PullRequest is the input to HandlePull.
type PullRequest struct {
	ClientID  string
	SinceHLC  hlc.Timestamp
	MaxDeltas int
}

// PullResult is the output of HandlePull.
type PullResult struct {
	Deltas    []delta.Delta
	ServerHLC hlc.Timestamp
	HasMore   bool
}

// HandlePull scans the buffer for deltas after sinceHlc, optionally
// filters them per the caller's sync-rules context, and caps the result
// at min(maxDeltas, maxPullLimit). Per the resolved Open Question, the
// returned serverHlc always advances via clock.Now().
func (s *Session) HandlePull(ctx context.Context, pull PullRequest, rulesCtx *syncrules.Context) (PullResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadRules(ctx); err != nil {
		return PullResult{}, err
	}

	matching := s.buf.Since(pull.SinceHLC)
	if rulesCtx != nil {
		matching = syncrules.FilterDeltas(matching, *rulesCtx)
	}

	limit := pull.MaxDeltas
	if limit <= 0 || limit > s.cfg.MaxPullLimit {
		limit = s.cfg.MaxPullLimit
	}

	hasMore := len(matching) > limit
	if hasMore {
		matching = matching[:limit]
	}

	if s.agg != nil && len(matching) > 0 {
		s.agg.Record(s.gatewayID, usage.EventPullDeltas, int64(len(matching)), time.Now())
	}
	metrics.RecordPull(s.gatewayID, len(matching))

	return PullResult{Deltas: matching, ServerHLC: s.clock.Now(), HasMore: hasMore}, nil
}

// scheduleAfterPushLocked applies the scheduling rule from §4.6.4:
// flush now if thresholds are crossed, otherwise at the max buffer age.
// Caller must hold mu.
func (s *Session) scheduleAfterPushLocked() {
	now := time.Now()
	if s.buf.ShouldFlush(s.cfg, uint64(now.UnixMilli())) {
		s.alarm.Schedule(now)
	} else {
		s.alarm.Schedule(now.Add(time.Duration(s.cfg.MaxBufferAgeMs) * time.Millisecond))
	}
}

// PendingAlarm reports the gateway's next scheduled flush time, if any.
func (s *Session) PendingAlarm() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarm.Pending()
}

// FireAlarm runs the scheduled-flush state machine from §4.6.4: called
// by the owning scheduler when the pending alarm's time has arrived.
func (s *Session) FireAlarm(ctx context.Context) {
	s.mu.Lock()
	if s.buf.Len() == 0 {
		s.alarm.Clear()
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if _, err := s.Flush(ctx); err != nil {
		s.mu.Lock()
		s.retryCount++
		backoff := buffer.RetryBackoff(s.cfg, s.retryCount)
		s.alarm.Schedule(time.Now().Add(backoff))
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.retryCount = 0
	if s.buf.Len() > 0 {
		s.alarm.Schedule(time.Now())
	} else {
		s.alarm.Clear()
	}
	s.mu.Unlock()
}

// Flush snapshots the buffer under the session lock, releases the lock
// for the (potentially slow) object-store write, then reacquires it to
// commit the outcome. A failed write restores the snapshot exactly.
func (s *Session) Flush(ctx context.Context) (buffer.FlushResult, error) {
	s.mu.Lock()
	snapshot := s.buf.Ordered()
	if len(snapshot) == 0 {
		s.mu.Unlock()
		return buffer.FlushResult{}, nil
	}
	s.buf.Clear()
	schema := s.schema
	snapshotHLC := s.clock.Now()
	s.mu.Unlock()

	started := time.Now()

	data, ext, err := columnar.Serialize(snapshot, schema)
	if err != nil {
		s.mu.Lock()
		_ = s.buf.Restore(snapshot)
		s.mu.Unlock()
		metrics.RecordFlush(s.gatewayID, time.Since(started).Seconds(), 0, false)
		return buffer.FlushResult{}, errs.Wrap(errs.KindFlushFailed, "serialise flush snapshot", err)
	}

	contentType := "application/x-ndjson"
	if ext == columnar.ExtColumnar {
		contentType = "application/json"
	}
	key := fmt.Sprintf("flushes/%s/%s-%s.%s", s.gatewayID, snapshotHLC.String(), uuid.NewString(), ext)

	if err := s.store.Put(ctx, key, data, contentType); err != nil {
		s.mu.Lock()
		_ = s.buf.Restore(snapshot)
		s.mu.Unlock()
		metrics.RecordFlush(s.gatewayID, time.Since(started).Seconds(), 0, false)
		return buffer.FlushResult{}, errs.Wrap(errs.KindFlushFailed, "write flush object", err)
	}

	if s.agg != nil {
		now := time.Now()
		s.agg.Record(s.gatewayID, usage.EventFlushBytes, int64(len(data)), now)
		s.agg.Record(s.gatewayID, usage.EventFlushDeltas, int64(len(snapshot)), now)
	}
	metrics.RecordFlush(s.gatewayID, time.Since(started).Seconds(), len(data), true)
	s.mu.Lock()
	metrics.RecordBufferState(s.gatewayID, s.buf.ByteSize(), s.buf.Len())
	s.mu.Unlock()

	return buffer.FlushResult{Key: key, Bytes: len(data), Deltas: len(snapshot)}, nil
}

// AcceptSocket registers an attached socket for broadcast fan-out.
func (s *Session) AcceptSocket(sock Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[sock] = struct{}{}
	metrics.RecordWSConnectionDelta(s.gatewayID, 1)
	if s.agg != nil {
		s.agg.Record(s.gatewayID, usage.EventWSConnection, 1, time.Now())
	}
}

// RemoveSocket deregisters a closed or errored socket.
func (s *Session) RemoveSocket(sock Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sockets[sock]; !ok {
		return
	}
	delete(s.sockets, sock)
	metrics.RecordWSConnectionDelta(s.gatewayID, -1)
}

// Broadcast sends deltas to every attached socket other than exclude,
// each filtered through that socket's own sync-rules claims. Per-socket
// send failures are swallowed: the socket may already have closed.
func (s *Session) Broadcast(deltas []delta.Delta, exclude Socket) {
	s.mu.Lock()
	rules := s.rules
	targets := make([]Socket, 0, len(s.sockets))
	for sock := range s.sockets {
		if sock == exclude {
			continue
		}
		targets = append(targets, sock)
	}
	s.mu.Unlock()

	for _, sock := range targets {
		att := sock.Attachment()
		claims := syncrules.Claims(att.Claims.CustomClaims)
		filtered := syncrules.FilterDeltas(deltas, syncrules.Context{Rules: rules, Claims: claims})
		if len(filtered) == 0 {
			continue
		}
		if err := sock.SendBroadcast(filtered); err != nil {
			metrics.RecordBroadcastDrop("send_failed")
		}
	}
}

// GatewayID returns the session's owning gateway identifier.
func (s *Session) GatewayID() string { return s.gatewayID }

// Store returns the session's object-store adapter, for callers (the
// checkpoint reader) that need durable reads outside the push/pull path.
func (s *Session) Store() objectstore.Adapter { return s.store }
