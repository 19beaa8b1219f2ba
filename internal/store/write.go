package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tandemlabs/tandem/internal/op"
)

// Tx is one open log transaction. Obtain it from Begin; finish it with
// exactly one Commit or Rollback.
type Tx struct {
	s    *Store
	tx   *sql.Tx
	done bool
}

// Begin opens a log transaction.
//
// Transactions are not reentrant: a second Begin before the first
// transaction finishes is an error, not a savepoint. All log writes
// (Append, MarkUndone, MarkRedone) are only valid inside an open
// transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.txOpen {
		return nil, fmt.Errorf("begin transaction: a transaction is already open")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	s.txOpen = true
	return &Tx{s: s, tx: tx}, nil
}

// release frees the single transaction slot.
func (s *Store) release() {
	s.mu.Lock()
	s.txOpen = false
	s.mu.Unlock()
}

// Append inserts an operation and returns its log-assigned id.
// TimestampNanos and OriginInstanceID must already be set - the schema
// rejects rows without them.
//
// Rows beyond the configured history bound are evicted oldest-first in
// the same transaction, so the bound holds atomically with the insert.
func (t *Tx) Append(ctx context.Context, o *op.Operation) (int64, error) {
	if t.done {
		return 0, fmt.Errorf("append: transaction already finished")
	}
	if o.TimestampNanos == 0 {
		return 0, fmt.Errorf("append: operation has no timestamp")
	}
	if o.OriginInstanceID == "" {
		return 0, fmt.Errorf("append: operation has no origin instance")
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO operations
		(kind, file_path, line_number, column_number, content, prev_content, content_length, timestamp_ns, origin_instance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.Kind.String(),
		o.FilePath,
		o.Line,
		o.Column,
		o.Content,
		o.PrevContent,
		o.ContentLength,
		o.TimestampNanos,
		o.OriginInstanceID,
	)
	if err != nil {
		return 0, fmt.Errorf("append operation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append operation: last insert id: %w", err)
	}

	if err := t.prune(ctx); err != nil {
		return 0, err
	}

	return id, nil
}

// prune evicts the oldest rows beyond the history bound.
func (t *Tx) prune(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM operations WHERE id IN (
			SELECT id FROM operations ORDER BY id ASC
			LIMIT MAX((SELECT COUNT(*) FROM operations) - ?, 0)
		)
	`, t.s.maxHistory)
	if err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	return nil
}

// MarkUndone flags an active operation as undone and stamps its undo
// sequence number. The undo sequence orders redo targets by when they
// were undone - operation ids cannot, once submits interleave with
// undos.
func (t *Tx) MarkUndone(ctx context.Context, id int64) error {
	if t.done {
		return fmt.Errorf("mark undone: transaction already finished")
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE operations
		SET undone = 1,
		    undo_seq = (SELECT COALESCE(MAX(undo_seq), 0) + 1 FROM operations)
		WHERE id = ? AND undone = 0
	`, id)
	if err != nil {
		return fmt.Errorf("mark undone: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark undone: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("mark undone: operation %d not found or already undone", id)
	}

	return nil
}

// MarkRedone flags an undone operation as redone, consuming it as a
// redo target.
func (t *Tx) MarkRedone(ctx context.Context, id int64) error {
	if t.done {
		return fmt.Errorf("mark redone: transaction already finished")
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE operations
		SET redone = 1
		WHERE id = ? AND undone = 1 AND redone = 0
	`, id)
	if err != nil {
		return fmt.Errorf("mark redone: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark redone: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("mark redone: operation %d is not an undone operation", id)
	}

	return nil
}

// Commit finishes the transaction and frees the transaction slot.
func (t *Tx) Commit() error {
	if t.done {
		return fmt.Errorf("commit: transaction already finished")
	}
	t.done = true
	t.s.release()

	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Calling it after Commit (or a prior
// Rollback) is a no-op, so callers can defer it unconditionally.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.release()

	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}
