// Package checkpoint persists conversation state between node transitions.
//
// A Store keeps one live Checkpoint per thread (last write wins). Backends:
//
//   - MemoryStore: process local map, for tests and demos
//   - FileStore: one JSON document per thread, replaced atomically
//   - SQLStore: sqlx over SQLite (modernc.org/sqlite) or PostgreSQL (lib/pq)
//   - RedisStore: go-redis v9 with an optional expiry
//
// The Checkpointer wraps a Store with the engine's policy: every call runs
// under a timeout, write failures are logged and never abort a turn, and a
// failed read falls back to a fresh state.
package checkpoint
