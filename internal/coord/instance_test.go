package coord

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemlabs/tandem/internal/op"
	"github.com/tandemlabs/tandem/internal/testutil"
)

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.InstanceID = ""

	_, err := New(cfg, newFakeLog(), newFakeDist(), WithLogger(quietLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestNew_RejectsNilPorts(t *testing.T) {
	var initErr *InitError

	_, err := New(testConfig(), nil, newFakeDist(), WithLogger(quietLogger()))
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "persistence", initErr.Subsystem)

	_, err = New(testConfig(), newFakeLog(), nil, WithLogger(quietLogger()))
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "network", initErr.Subsystem)
}

func TestNew_StartsRunning(t *testing.T) {
	in, _, _ := newTestInstance(t)
	assert.Equal(t, StateRunning, in.State())
}

func TestSubmit_PersistsThenDistributes(t *testing.T) {
	in, flog, fdist := newTestInstance(t)

	o := op.NewInsert("a.txt", 1, 1, []byte("X"))
	require.NoError(t, in.Submit(context.Background(), o))

	entries := flog.all()
	require.Len(t, entries, 1)
	assert.Equal(t, op.Insert, entries[0].Kind)
	assert.Equal(t, "a.txt", entries[0].FilePath)
	assert.Equal(t, []byte("X"), entries[0].Content)
	assert.Equal(t, int64(1), entries[0].OperationID)
	assert.NotZero(t, entries[0].TimestampNanos)
	assert.Equal(t, "tandem-a", entries[0].OriginInstanceID)

	sent := fdist.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(1), sent[0].OperationID, "broadcast carries the assigned id")
	assert.Equal(t, entries[0].TimestampNanos, sent[0].TimestampNanos)
}

func TestSubmit_AssignsStrictlyIncreasingIDs(t *testing.T) {
	in, flog, _ := newTestInstance(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, in.Submit(ctx, op.NewInsert("a.txt", 1, 1, []byte("x"))))
	}

	entries := flog.all()
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].OperationID, entries[i-1].OperationID)
	}
}

func TestSubmit_RejectsInvalidOperation(t *testing.T) {
	in, flog, fdist := newTestInstance(t)

	o := op.NewInsert("", 1, 1, []byte("X"))
	err := in.Submit(context.Background(), o)

	require.ErrorIs(t, err, ErrInvalidOperation)
	assert.Zero(t, flog.count(), "nothing persisted")
	assert.Zero(t, fdist.sentCount(), "nothing distributed")
}

func TestSubmit_PersistenceFailureRollsBack(t *testing.T) {
	in, flog, fdist := newTestInstance(t)
	flog.setAppendErr(errors.New("disk full"))

	err := in.Submit(context.Background(), op.NewInsert("a.txt", 1, 1, []byte("X")))

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Zero(t, flog.count())
	assert.Zero(t, fdist.sentCount(), "failed commit must not broadcast")
}

func TestSubmit_DistributionFailureKeepsCommit(t *testing.T) {
	in, flog, fdist := newTestInstance(t)
	fdist.setDistributeErr(errors.New("no route to peer"))

	err := in.Submit(context.Background(), op.NewInsert("a.txt", 1, 1, []byte("X")))

	var derr *DistributionError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, 1, flog.count(), "operation stays committed")
}

func TestSubmit_FillsOriginWhenEmpty(t *testing.T) {
	in, flog, _ := newTestInstance(t)

	require.NoError(t, in.Submit(context.Background(), op.NewInsert("a.txt", 1, 1, []byte("X"))))

	entries := flog.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "tandem-a", entries[0].OriginInstanceID)
}

func TestSubmit_TimestampsNeverRegress(t *testing.T) {
	clock := testutil.NewDeterministicClock(100, 0)
	flog := newFakeLog()
	in, err := New(testConfig(), flog, newFakeDist(),
		WithClock(clock), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer in.Shutdown()
	ctx := context.Background()

	require.NoError(t, in.Submit(ctx, op.NewInsert("a.txt", 1, 1, []byte("x"))))
	clock.Set(50) // wall clock jumped backwards
	require.NoError(t, in.Submit(ctx, op.NewInsert("a.txt", 1, 1, []byte("y"))))

	entries := flog.all()
	require.Len(t, entries, 2)
	assert.GreaterOrEqual(t, entries[1].TimestampNanos, entries[0].TimestampNanos)
}

func TestSubmit_AfterShutdown(t *testing.T) {
	in, _, _ := newTestInstance(t)
	require.NoError(t, in.Shutdown())

	err := in.Submit(context.Background(), op.NewInsert("a.txt", 1, 1, []byte("X")))
	assert.ErrorIs(t, err, ErrAlreadyShutDown)
}

func TestSubmit_Concurrent(t *testing.T) {
	in, flog, _ := newTestInstance(t)
	ctx := context.Background()

	const goroutines = 10
	const perGoroutine = 10

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				err := in.Submit(ctx, op.NewInsert("a.txt", 1, 1, []byte("x")))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	entries := flog.all()
	require.Len(t, entries, goroutines*perGoroutine, "no lost updates")

	seen := make(map[int64]bool, len(entries))
	var prev int64
	for _, e := range entries {
		require.False(t, seen[e.OperationID], "duplicate id %d", e.OperationID)
		seen[e.OperationID] = true
		require.Greater(t, e.OperationID, prev, "ids increase in commit order")
		prev = e.OperationID
	}
}

func TestUndo_EmptyLog(t *testing.T) {
	in, flog, fdist := newTestInstance(t)

	err := in.Undo(context.Background())

	assert.ErrorIs(t, err, ErrNoOperationToUndo)
	assert.Zero(t, flog.count(), "log unchanged")
	assert.Zero(t, fdist.sentCount())
}

func TestUndo_FlagsEntryAndDistributesReversal(t *testing.T) {
	in, flog, fdist := newTestInstance(t)
	ctx := context.Background()

	require.NoError(t, in.Submit(ctx, op.NewInsert("a.txt", 3, 7, []byte("X"))))
	require.NoError(t, in.Undo(ctx))

	entries := flog.all()
	require.Len(t, entries, 1, "undo flags, it does not append")
	assert.True(t, entries[0].Undone)

	sent := fdist.sent()
	require.Len(t, sent, 2)
	rev := sent[1]
	assert.Equal(t, op.Delete, rev.Kind, "reversal of insert is delete")
	assert.Equal(t, "a.txt", rev.FilePath)
	assert.Equal(t, 3, rev.Line)
	assert.Equal(t, 7, rev.Column)
	assert.Equal(t, []byte("X"), rev.Content)
	assert.Equal(t, "tandem-a", rev.OriginInstanceID, "reversal is authored locally")
	assert.Zero(t, rev.OperationID, "reversal is not a persisted entry")
	assert.NotZero(t, rev.TimestampNanos)
}

func TestUndo_RecomputesInsertFromDelete(t *testing.T) {
	in, _, fdist := newTestInstance(t)
	ctx := context.Background()

	require.NoError(t, in.Submit(ctx, op.NewInsert("f.txt", 1, 1, []byte("hi"))))
	require.Equal(t, int64(1), fdist.sent()[0].OperationID)

	require.NoError(t, in.Submit(ctx, op.NewDelete("f.txt", 1, 1, []byte("hi"))))
	require.NoError(t, in.Undo(ctx))

	sent := fdist.sent()
	require.Len(t, sent, 3)
	rev := sent[2]
	assert.Equal(t, op.Insert, rev.Kind)
	assert.Equal(t, "f.txt", rev.FilePath)
	assert.Equal(t, []byte("hi"), rev.Content)
}

func TestUndo_MarkFailureRollsBack(t *testing.T) {
	in, flog, fdist := newTestInstance(t)
	ctx := context.Background()

	require.NoError(t, in.Submit(ctx, op.NewInsert("a.txt", 1, 1, []byte("X"))))

	flog.mu.Lock()
	flog.markUndoneErr = errors.New("constraint failed")
	flog.mu.Unlock()

	err := in.Undo(ctx)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)

	entries := flog.all()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Undone, "entry stays active after rollback")
	assert.Equal(t, 1, fdist.sentCount(), "no reversal broadcast")
}

func TestRedo_EmptyStack(t *testing.T) {
	in, _, _ := newTestInstance(t)

	err := in.Redo(context.Background())
	assert.ErrorIs(t, err, ErrNoOperationToRedo)
}

func TestRedo_AppendsForwardEntry(t *testing.T) {
	in, flog, fdist := newTestInstance(t)
	ctx := context.Background()

	require.NoError(t, in.Submit(ctx, op.NewInsert("a.txt", 1, 1, []byte("X"))))
	require.NoError(t, in.Undo(ctx))
	require.NoError(t, in.Redo(ctx))

	entries := flog.all()
	require.Len(t, entries, 2, "original plus reissued forward entry")

	assert.True(t, entries[0].Undone)
	assert.True(t, entries[0].Redone)

	fwd := entries[1]
	assert.False(t, fwd.Undone)
	assert.Equal(t, op.Insert, fwd.Kind)
	assert.Equal(t, "a.txt", fwd.FilePath)
	assert.Equal(t, []byte("X"), fwd.Content)
	assert.Equal(t, int64(2), fwd.OperationID)

	sent := fdist.sent()
	require.Len(t, sent, 3)
	assert.Equal(t, op.Insert, sent[2].Kind)
	assert.Equal(t, int64(2), sent[2].OperationID)
}

func TestUndoRedoRoundTrip_NetEffect(t *testing.T) {
	in, flog, _ := newTestInstance(t)
	ctx := context.Background()

	original := op.NewInsert("a.txt", 1, 1, []byte("X"))
	require.NoError(t, in.Submit(ctx, original))
	require.NoError(t, in.Undo(ctx))
	require.NoError(t, in.Redo(ctx))

	// Replaying the active entries equals applying the original once.
	var active []op.Operation
	for _, e := range flog.all() {
		if !e.Undone {
			active = append(active, e)
		}
	}
	require.Len(t, active, 1)
	assert.Equal(t, original.Kind, active[0].Kind)
	assert.Equal(t, original.FilePath, active[0].FilePath)
	assert.Equal(t, original.Content, active[0].Content)
}

func TestRedo_TargetsMostRecentlyUndone(t *testing.T) {
	in, flog, _ := newTestInstance(t)
	ctx := context.Background()

	require.NoError(t, in.Submit(ctx, op.NewInsert("a.txt", 1, 1, []byte("a"))))
	require.NoError(t, in.Submit(ctx, op.NewInsert("b.txt", 1, 1, []byte("b"))))
	require.NoError(t, in.Submit(ctx, op.NewInsert("c.txt", 1, 1, []byte("c"))))

	require.NoError(t, in.Undo(ctx)) // undoes c
	require.NoError(t, in.Undo(ctx)) // undoes b

	require.NoError(t, in.Redo(ctx))
	entries := flog.all()
	require.Len(t, entries, 4)
	assert.Equal(t, "b.txt", entries[3].FilePath, "redo reissues the last undo first")

	require.NoError(t, in.Redo(ctx))
	entries = flog.all()
	require.Len(t, entries, 5)
	assert.Equal(t, "c.txt", entries[4].FilePath)

	err := in.Redo(ctx)
	assert.ErrorIs(t, err, ErrNoOperationToRedo, "stack exhausted")
}

func TestShutdown_Idempotent(t *testing.T) {
	in, flog, fdist := newTestInstance(t)

	require.NoError(t, in.Shutdown())
	err := in.Shutdown()

	assert.ErrorIs(t, err, ErrAlreadyShutDown)
	assert.Equal(t, 1, flog.closeCalls, "persistence closed exactly once")
	_, _, closes := fdist.callCounts()
	assert.Equal(t, 1, closes, "distribution closed exactly once")
	assert.Equal(t, StateClosed, in.State())
}

func TestShutdown_ClosesDistributionBeforePersistence(t *testing.T) {
	flog := newFakeLog()
	fdist := newFakeDist()

	var order []string
	var mu sync.Mutex
	fdist.onClose = func() {
		mu.Lock()
		order = append(order, "distribution")
		mu.Unlock()
	}
	flog.onClose = func() {
		mu.Lock()
		order = append(order, "persistence")
		mu.Unlock()
	}

	in, err := New(testConfig(), flog, fdist, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, in.Shutdown())

	require.Equal(t, []string{"distribution", "persistence"}, order)
}

func TestShutdown_SurfacesCloseError(t *testing.T) {
	flog := newFakeLog()
	flog.closeErr = errors.New("wal checkpoint failed")
	fdist := newFakeDist()

	in, err := New(testConfig(), flog, fdist, WithLogger(quietLogger()))
	require.NoError(t, err)

	err = in.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persistence")
	assert.Equal(t, StateClosed, in.State(), "state advances even when close fails")

	_, _, closes := fdist.callCounts()
	assert.Equal(t, 1, closes, "distribution port still closed")
}

func TestErrors_ChannelClosesOnShutdown(t *testing.T) {
	in, _, _ := newTestInstance(t)
	require.NoError(t, in.Shutdown())

	for range in.Errors() {
		// Drain whatever the loop reported before stopping.
	}
	// Reaching here means the channel closed.
}
