// Package store provides SQLite-backed storage for the name graph.
//
// Handlers see the Store interface: find by id, two upsert flavours and a
// hard delete. Those four calls are the only way state changes, which is
// what makes replaying an event safe:
//   - UpsertIgnore inserts a row, leaving an existing row untouched
//   - UpsertMerge inserts a row, or overwrites only the patched columns
//
// DB.Atomic runs several calls against one transaction so that an event's
// writes commit together.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability and performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - single connection: one writer, no SQLITE_BUSY between our own calls
//
// The schema is managed by golang-migrate from the embedded migrations
// directory. There are no foreign keys: rows routinely reference ids whose
// events have not been applied yet.
//
// An optional LRU cache serves Find. Every write through this package
// evicts the written key, so the cache never holds stale rows.
package store
