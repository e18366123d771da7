// Package connection implements the shard session manager.
//
// The Manager:
//   - Resolves how many shards to run from a Policy and the gateway metadata
//   - Opens shards in index order, waiting out a cooldown between session-start buckets
//   - Handshakes each shard (Hello, then Identify) and registers it
//
// Each Shard runs four loops under one errgroup: a dispatcher that serializes
// queued commands, a writer that owns the write half of the connection, a
// heartbeat scheduler and a receiver that tracks the sequence number and fans
// events out to subscribers. Any loop failing ends the shard.
package connection
