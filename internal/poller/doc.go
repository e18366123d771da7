// Package poller implements the gateway health poller.
//
// The poller:
//   - Re-reads gateway metadata on an interval (session starts left, recommended shards)
//   - Warns when the gateway recommends more shards than are running
//   - Counts active shards whose heartbeats have gone unacknowledged
package poller
