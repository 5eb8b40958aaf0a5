// Package store provides SQLite-backed storage for the routing engine.
//
// One database holds four concerns:
//   - change_log: the captured row changes (written by triggers or by
//     AppendChange, read through the source.ChangeLog methods)
//   - data_gap: the gap ledger
//   - outgoing_batch / data_event: routed batches and their members
//   - cluster_lock: lease rows used by the store-backed cluster lock
//
// # Sessions
//
// Everything one flush writes goes through a Session, a single
// transaction: gap reconciliation, batch inserts, data_event rows and batch
// sealing commit together or not at all. Reads of the change log happen
// outside sessions on their own connection.
//
// # Ordering
//
// Queries that return lists order by their primary key so results are
// stable across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
