package coord

import (
	"context"

	"github.com/tandemlabs/tandem/internal/op"
)

// OperationLog is the persistence port: a durable, transactional
// operation log keyed by operation id.
//
// Contract:
//   - Transactions are not reentrant. Begin while a transaction is
//     open returns an error.
//   - Last returns the newest entry not flagged undone, nil when none.
//   - LastUndone returns the most recently undone entry not yet
//     redone (the redo target), nil when none. "Most recently" is
//     undo order, not append order.
//   - History returns newest-first immutable snapshots; limit <= 0
//     means the configured retention bound.
//
// Implemented by the SQLite log in internal/store.
type OperationLog interface {
	Begin(ctx context.Context) (LogTx, error)
	Last(ctx context.Context) (*op.Operation, error)
	LastUndone(ctx context.Context) (*op.Operation, error)
	History(ctx context.Context, limit int) ([]op.Operation, error)
	Close() error
}

// LogTx is one open log transaction. Append assigns and returns the
// new entry's operation id. Rollback after Commit is a no-op, so
// "defer tx.Rollback()" is safe on every path.
type LogTx interface {
	Append(ctx context.Context, o *op.Operation) (int64, error)
	MarkUndone(ctx context.Context, id int64) error
	MarkRedone(ctx context.Context, id int64) error
	Commit() error
	Rollback() error
}

// Distributor is the distribution port: best-effort broadcast of
// locally committed operations and draining of peer-originated ones.
//
// Contract:
//   - Distribute is an at-least-once delivery attempt; no
//     acknowledgement is required or awaited.
//   - SyncState is the reconciliation handshake with peers and
//     re-flushes any operations still awaiting delivery.
//   - DrainPending must not block the caller indefinitely; it returns
//     whatever has arrived since the previous drain, possibly nothing.
//   - Close stops the transport; idempotent.
//
// Implemented by the WebSocket mesh in internal/mesh.
type Distributor interface {
	Distribute(ctx context.Context, o op.Operation) error
	SyncState(ctx context.Context) error
	DrainPending(ctx context.Context) (Batch, error)
	Close() error
}

// Batch is an owned sequence of inbound operations. Ownership of the
// underlying buffers passes to the caller of DrainPending, who must
// call Release exactly once on every exit path.
type Batch interface {
	Ops() []op.Operation
	Release()
}

// ObserverFunc receives each inbound batch before it is persisted.
// Invoked synchronously from the sync loop goroutine; observers must
// not block for long periods. The loop holds no lock at delivery time,
// so an observer may call back into Submit, Undo, or Redo.
type ObserverFunc func(ops []op.Operation)
