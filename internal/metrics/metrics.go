package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shard status label values.
const (
	StatusConnecting = "connecting"
	StatusActive     = "active"
	StatusDead       = "dead"
)

// Failure stage label values.
const (
	StageConnect   = "connect"
	StageHandshake = "handshake"
	StageAuth      = "auth"
	StageRuntime   = "runtime"
)

var ShardsTotal = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "shardgate_shards_total",
	Help: "Total number of shards this process is configured to run",
})

var ShardStatuses = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "shardgate_shards_status",
	Help: "Shard statuses",
}, []string{"status"})

var HeartbeatsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shardgate_heartbeats_sent_total",
	Help: "Heartbeats submitted to the command queue",
}, []string{"shard"})

var HeartbeatAcks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shardgate_heartbeat_acks_total",
	Help: "Heartbeat acknowledgements received",
}, []string{"shard"})

var EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shardgate_events_received_total",
	Help: "Frames received from the gateway, by opcode",
}, []string{"shard", "op"})

var DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shardgate_decode_errors_total",
	Help: "Inbound frames that could not be decoded",
}, []string{"shard"})

var DroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shardgate_dropped_events_total",
	Help: "Events dropped because a subscriber buffer was full",
}, []string{"shard"})

var ShardFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shardgate_shard_failures_total",
	Help: "Shard failures by stage",
}, []string{"stage"})

var BucketWaits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "shardgate_bucket_waits_total",
	Help: "Bucket cooldowns waited during startup",
})

var SessionStartsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "shardgate_session_starts_remaining",
	Help: "Session starts left in the current window, as last reported by the gateway",
})

var RecommendedShards = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "shardgate_recommended_shards",
	Help: "Shard count last recommended by the gateway",
})

var StaleShards = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "shardgate_stale_shards",
	Help: "Active shards with no heartbeat ACK within two intervals",
})

// ShardLabel formats a shard index as a label value.
func ShardLabel(index int) string {
	return strconv.Itoa(index)
}

// SetShardStatuses replaces the status gauge values. Known statuses missing
// from counts are reset to zero.
func SetShardStatuses(counts map[string]int) {
	for _, status := range []string{StatusConnecting, StatusActive, StatusDead} {
		ShardStatuses.WithLabelValues(status).Set(float64(counts[status]))
	}
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
