package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tandemlabs/tandem/internal/op"
)

// createTestStore creates a store in a temp directory with a roomy
// history bound.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	return createTestStoreWithBound(t, 100)
}

// createTestStoreWithBound creates a store with an explicit history bound.
func createTestStoreWithBound(t *testing.T, maxHistory int) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, maxHistory)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testInsertOp creates a minimal valid insert operation.
func testInsertOp(path string, ts int64) op.Operation {
	o := op.NewInsert(path, 1, 1, []byte("x"))
	o.TimestampNanos = ts
	o.OriginInstanceID = "tandem-test"
	return o
}

// mustAppend appends an operation in its own transaction and returns
// the assigned id.
func mustAppend(t *testing.T, s *Store, o op.Operation) int64 {
	t.Helper()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	id, err := tx.Append(ctx, &o)
	if err != nil {
		tx.Rollback()
		t.Fatalf("Append() failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	return id
}

// mustMarkUndone marks an operation undone in its own transaction.
func mustMarkUndone(t *testing.T, s *Store, id int64) {
	t.Helper()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if err := tx.MarkUndone(ctx, id); err != nil {
		tx.Rollback()
		t.Fatalf("MarkUndone(%d) failed: %v", id, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}

// mustMarkRedone marks an undone operation redone in its own transaction.
func mustMarkRedone(t *testing.T, s *Store, id int64) {
	t.Helper()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if err := tx.MarkRedone(ctx, id); err != nil {
		tx.Rollback()
		t.Fatalf("MarkRedone(%d) failed: %v", id, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}
