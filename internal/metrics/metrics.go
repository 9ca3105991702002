// Package metrics exposes the gateway's Prometheus instrumentation:
// push/pull counters, buffer gauges, flush duration/retry metrics, and
// WebSocket connection counts, grounded in the teacher's top-level
// metrics.go but scoped to the delta-sync domain instead of a chat
// fan-out server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PushDeltasTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_push_deltas_total",
		Help: "Total deltas accepted via push, by gateway",
	}, []string{"gateway_id"})

	PullDeltasTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_pull_deltas_total",
		Help: "Total deltas served via pull, by gateway",
	}, []string{"gateway_id"})

	BufferBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_buffer_bytes",
		Help: "Current in-memory delta buffer size, by gateway",
	}, []string{"gateway_id"})

	BufferLogSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_buffer_log_size",
		Help: "Current delta count held in the buffer, by gateway",
	}, []string{"gateway_id"})

	FlushDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_flush_duration_seconds",
		Help:    "Duration of buffer flush to the object store",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway_id"})

	FlushRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_flush_retries_total",
		Help: "Total flush retry attempts, by gateway",
	}, []string{"gateway_id"})

	FlushBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_flush_bytes_total",
		Help: "Total bytes written by successful flushes, by gateway",
	}, []string{"gateway_id"})

	WSConnectionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_ws_connections_active",
		Help: "Current attached WebSocket sessions, by gateway",
	}, []string{"gateway_id"})

	BroadcastDropsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_broadcast_drops_total",
		Help: "Broadcast sends dropped by reason",
	}, []string{"reason"})

	ShardFanoutErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_shard_fanout_errors_total",
		Help: "Shard router fan-out failures by operation",
	}, []string{"operation"})

	ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Total errors by kind",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		PushDeltasTotal,
		PullDeltasTotal,
		BufferBytes,
		BufferLogSize,
		FlushDuration,
		FlushRetriesTotal,
		FlushBytesTotal,
		WSConnectionsActive,
		BroadcastDropsTotal,
		ShardFanoutErrorsTotal,
		ErrorsTotal,
	)
}

// Handler serves the Prometheus exposition format at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPush updates push-path metrics for one accepted request.
func RecordPush(gatewayID string, accepted int) {
	if accepted > 0 {
		PushDeltasTotal.WithLabelValues(gatewayID).Add(float64(accepted))
	}
}

// RecordPull updates pull-path metrics for one served response.
func RecordPull(gatewayID string, served int) {
	if served > 0 {
		PullDeltasTotal.WithLabelValues(gatewayID).Add(float64(served))
	}
}

// RecordBufferState samples the buffer's current size, called after
// every accepted push or completed flush.
func RecordBufferState(gatewayID string, byteSize, logSize int) {
	BufferBytes.WithLabelValues(gatewayID).Set(float64(byteSize))
	BufferLogSize.WithLabelValues(gatewayID).Set(float64(logSize))
}

// RecordFlush observes one flush attempt's outcome and duration.
func RecordFlush(gatewayID string, durationSeconds float64, bytesWritten int, ok bool) {
	FlushDuration.WithLabelValues(gatewayID).Observe(durationSeconds)
	if ok {
		FlushBytesTotal.WithLabelValues(gatewayID).Add(float64(bytesWritten))
		return
	}
	FlushRetriesTotal.WithLabelValues(gatewayID).Inc()
}

// RecordWSConnectionDelta adjusts the active WS connection gauge by
// delta (+1 on accept, -1 on remove).
func RecordWSConnectionDelta(gatewayID string, delta float64) {
	WSConnectionsActive.WithLabelValues(gatewayID).Add(delta)
}

// RecordBroadcastDrop tracks a broadcast send that was dropped.
func RecordBroadcastDrop(reason string) {
	BroadcastDropsTotal.WithLabelValues(reason).Inc()
}

// RecordShardFanoutError tracks a shard router fan-out failure.
func RecordShardFanoutError(operation string) {
	ShardFanoutErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordError tracks an error surfaced at the HTTP edge, by kind.
func RecordError(kind string) {
	ErrorsTotal.WithLabelValues(kind).Inc()
}
