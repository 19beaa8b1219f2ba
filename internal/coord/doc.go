// Package coord implements the coordination runtime.
//
// An Instance owns one persistence port (the operation log) and one
// distribution port (the peer mesh) for its lifetime. Callers drive
// changes through the foreground API (Submit, Undo, Redo); a single
// background goroutine per instance reconciles state with peers on a
// fixed interval.
//
// ARCHITECTURE:
//
// Commit-then-distribute:
// 1. Submit acquires the instance lock
// 2. The operation is stamped and appended inside a log transaction
// 3. The transaction commits and the lock is released
// 4. The operation is broadcast to peers outside the lock
//
// A distribution failure never rolls back the local commit. The
// operation is already durable; the background loop's periodic state
// sync retries delivery.
//
// Sync loop:
// Each tick the loop asks the distributor to reconcile state with
// peers, drains the batch of inbound operations, delivers the batch to
// the registered observer, and persists each entry under the instance
// lock. Per-entry persistence is best-effort: one failure does not
// block the rest, and failures are aggregated on the Errors channel
// rather than halting the loop.
//
// Lifecycle:
// Created -> Running -> ShuttingDown -> Closed. Shutdown cancels the
// loop context, joins the loop goroutine, then closes the distribution
// port followed by the persistence port. No submissions are accepted
// once shutdown has begun; an in-flight submission finishes
// commit-or-rollback, never half-applied.
package coord
