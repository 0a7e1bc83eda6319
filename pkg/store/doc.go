/*
Package store implements the orchestrator's durable State Store: a single
local SQLite file holding settings, node state, and task history.

It is deliberately a real SQL engine rather than a key/value store — the
schema's `Store-busy` failure kind is SQLITE_BUSY itself, surfaced through
WithTx's bounded retry, and node/task rows are queried relationally (e.g.
ListRunningTasks, LastTaskForNode) rather than scanned bucket-by-bucket.

The store is opened by both the orchestrator process and any refresh
worker subprocess it spawns; WAL mode plus a busy_timeout pragma let both
hold the file open concurrently, and WithTx's retry loop absorbs the
transient SQLITE_BUSY/SQLITE_LOCKED errors that result from that overlap.
*/
package store
