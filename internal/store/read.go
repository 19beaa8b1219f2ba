package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tandemlabs/tandem/internal/op"
)

const operationColumns = `id, kind, file_path, line_number, column_number,
	content, prev_content, content_length, timestamp_ns, origin_instance,
	undone, redone`

// Last returns the newest active (not undone) operation, or nil when
// the log holds none. This is the undo target.
func (s *Store) Last(ctx context.Context) (*op.Operation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+operationColumns+`
		FROM operations
		WHERE undone = 0
		ORDER BY id DESC
		LIMIT 1
	`)

	o, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last operation: %w", err)
	}
	return &o, nil
}

// LastUndone returns the most recently undone operation that has not
// been redone, or nil when the undo stack is empty. This is the redo
// target; ordering follows the undo sequence, not operation ids.
func (s *Store) LastUndone(ctx context.Context) (*op.Operation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+operationColumns+`
		FROM operations
		WHERE undone = 1 AND redone = 0
		ORDER BY undo_seq DESC
		LIMIT 1
	`)

	o, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last undone operation: %w", err)
	}
	return &o, nil
}

// History returns up to limit operations, newest first. A limit of zero
// or less falls back to the configured history bound. The returned
// snapshots are independent of later log mutation.
//
// Returns an empty slice (not nil) when the log is empty.
func (s *Store) History(ctx context.Context, limit int) ([]op.Operation, error) {
	if limit <= 0 {
		limit = s.maxHistory
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+operationColumns+`
		FROM operations
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var ops []op.Operation
	for rows.Next() {
		o, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		ops = append(ops, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	if ops == nil {
		ops = []op.Operation{}
	}

	return ops, nil
}

// Since returns operations with ids greater than id, oldest first. A
// non-empty origin restricts the result to rows recorded from that
// instance. Peer reconciliation uses this to answer state frames.
//
// Returns an empty slice (not nil) when nothing qualifies.
func (s *Store) Since(ctx context.Context, id int64, origin string) ([]op.Operation, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM operations
		WHERE id > ?
		ORDER BY id ASC
	`
	args := []any{id}
	if origin != "" {
		query = `
			SELECT ` + operationColumns + `
			FROM operations
			WHERE id > ? AND origin_instance = ?
			ORDER BY id ASC
		`
		args = append(args, origin)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query operations since %d: %w", id, err)
	}
	defer rows.Close()

	var ops []op.Operation
	for rows.Next() {
		o, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation row: %w", err)
		}
		ops = append(ops, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations since %d: %w", id, err)
	}

	if ops == nil {
		ops = []op.Operation{}
	}

	return ops, nil
}

// Count returns the number of retained log rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count operations: %w", err)
	}
	return count, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanOperation reads one log row into an Operation.
func scanOperation(sc scanner) (op.Operation, error) {
	var (
		o          op.Operation
		kindName   string
		undoneFlag int
		redoneFlag int
	)

	err := sc.Scan(
		&o.OperationID,
		&kindName,
		&o.FilePath,
		&o.Line,
		&o.Column,
		&o.Content,
		&o.PrevContent,
		&o.ContentLength,
		&o.TimestampNanos,
		&o.OriginInstanceID,
		&undoneFlag,
		&redoneFlag,
	)
	if err != nil {
		return op.Operation{}, err
	}

	kind, err := op.ParseKind(kindName)
	if err != nil {
		return op.Operation{}, fmt.Errorf("row %d: %w", o.OperationID, err)
	}
	o.Kind = kind
	o.Undone = undoneFlag != 0
	o.Redone = redoneFlag != 0

	return o, nil
}
