// Package store provides the SQLite-backed operation log.
//
// The log is an append-only history of operations with undo/redo flags:
//   - Append assigns strictly increasing operation ids (AUTOINCREMENT)
//     and prunes rows beyond the history bound, oldest first, inside
//     the same transaction.
//   - MarkUndone/MarkRedone flip the undo-stack flags; mark-undone also
//     stamps a monotone undo sequence so redo can find the most
//     recently undone entry even when submits interleave with undos.
//   - Last/LastUndone/History return immutable snapshots independent of
//     later mutation.
//
// # Transaction discipline
//
// All writes go through Begin, which hands out exactly one open
// transaction at a time; nesting is an error, not a savepoint. Rollback
// after Commit is a no-op so callers can defer it unconditionally.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// The connection pool is capped at one connection; SQLite allows a
// single writer and the cap avoids SQLITE_BUSY churn.
package store
