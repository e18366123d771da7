// Package database provides the PostgreSQL connection pool and the shard-state journal.
//
// The journal keeps one row per shard lifecycle transition (active, failed,
// dead) so the history of a process's sessions can be queried after the fact.
package database
