// Package store provides SQLite-backed durable storage for stampsync runs.
//
// The store is an append-only log with:
//   - Runs: one row per engine execution, with the compiled topology
//   - Arrivals: every submitted sample and whether it was queued or rejected
//   - Matches and match members: each matched set, one member per stream
//   - Drops: queued samples evicted without ever being matched
//
// All ordering uses the engine's logical seq, never wall time. Every read
// orders by seq ASC, id COLLATE BINARY ASC so that results are identical
// across replays. Writes use ON CONFLICT DO NOTHING and are idempotent.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: a match or drop must reference a stored arrival
package store
