// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Shard totals and per-status counts
//   - Heartbeats sent and acknowledged per shard
//   - Inbound events by opcode, decode errors and dropped events
//   - Startup failures by stage and bucket cooldown waits
package metrics
