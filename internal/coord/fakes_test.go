package coord

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tandemlabs/tandem/internal/config"
	"github.com/tandemlabs/tandem/internal/op"
	"github.com/tandemlabs/tandem/internal/testutil"
)

// fakeLog is an in-memory OperationLog with the same transaction
// discipline as the SQLite store: ids assigned at Append, mutations
// visible only after Commit, non-reentrant transactions.
type fakeLog struct {
	mu        sync.Mutex
	entries   []op.Operation
	undoOrder map[int64]int64
	nextID    int64
	undoSeq   int64
	txOpen    bool

	beginErr      error
	appendErr     error
	commitErr     error
	markUndoneErr error
	markRedoneErr error
	closeErr      error

	appendCalls int
	closeCalls  int
	onClose     func()
}

func newFakeLog() *fakeLog {
	return &fakeLog{undoOrder: make(map[int64]int64)}
}

func (l *fakeLog) Begin(ctx context.Context) (LogTx, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.beginErr != nil {
		return nil, l.beginErr
	}
	if l.txOpen {
		return nil, errors.New("transaction already open")
	}
	l.txOpen = true
	return &fakeTx{log: l}, nil
}

func (l *fakeLog) Last(ctx context.Context) (*op.Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if !l.entries[i].Undone {
			o := l.entries[i]
			return &o, nil
		}
	}
	return nil, nil
}

func (l *fakeLog) LastUndone(ctx context.Context) (*op.Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var best *op.Operation
	bestSeq := int64(-1)
	for i := range l.entries {
		e := l.entries[i]
		if e.Undone && !e.Redone && l.undoOrder[e.OperationID] > bestSeq {
			bestSeq = l.undoOrder[e.OperationID]
			o := e
			best = &o
		}
	}
	return best, nil
}

func (l *fakeLog) History(ctx context.Context, limit int) ([]op.Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]op.Operation, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, l.entries[i])
	}
	return out, nil
}

func (l *fakeLog) Close() error {
	l.mu.Lock()
	l.closeCalls++
	hook := l.onClose
	err := l.closeErr
	l.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (l *fakeLog) all() []op.Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]op.Operation, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *fakeLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *fakeLog) setAppendErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendErr = err
}

func (l *fakeLog) appendCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendCalls
}

// fakeTx buffers mutations until Commit, like a real transaction.
// Append burns an id even if the transaction rolls back, matching
// AUTOINCREMENT.
type fakeTx struct {
	log           *fakeLog
	done          bool
	pendingOps    []op.Operation
	pendingUndone []int64
	pendingRedone []int64
}

func (t *fakeTx) Append(ctx context.Context, o *op.Operation) (int64, error) {
	if t.done {
		return 0, errors.New("transaction finished")
	}
	t.log.mu.Lock()
	defer t.log.mu.Unlock()
	t.log.appendCalls++
	if t.log.appendErr != nil {
		return 0, t.log.appendErr
	}
	if o.TimestampNanos == 0 {
		return 0, errors.New("operation has no timestamp")
	}
	if o.OriginInstanceID == "" {
		return 0, errors.New("operation has no origin instance")
	}
	t.log.nextID++
	entry := *o
	entry.OperationID = t.log.nextID
	entry.Undone = false
	entry.Redone = false
	t.pendingOps = append(t.pendingOps, entry)
	return entry.OperationID, nil
}

func (t *fakeTx) MarkUndone(ctx context.Context, id int64) error {
	if t.done {
		return errors.New("transaction finished")
	}
	t.log.mu.Lock()
	defer t.log.mu.Unlock()
	if t.log.markUndoneErr != nil {
		return t.log.markUndoneErr
	}
	for i := range t.log.entries {
		if t.log.entries[i].OperationID == id && !t.log.entries[i].Undone {
			t.pendingUndone = append(t.pendingUndone, id)
			return nil
		}
	}
	return errors.New("operation not found or already undone")
}

func (t *fakeTx) MarkRedone(ctx context.Context, id int64) error {
	if t.done {
		return errors.New("transaction finished")
	}
	t.log.mu.Lock()
	defer t.log.mu.Unlock()
	if t.log.markRedoneErr != nil {
		return t.log.markRedoneErr
	}
	for i := range t.log.entries {
		e := t.log.entries[i]
		if e.OperationID == id && e.Undone && !e.Redone {
			t.pendingRedone = append(t.pendingRedone, id)
			return nil
		}
	}
	return errors.New("operation not found or not undone")
}

func (t *fakeTx) Commit() error {
	if t.done {
		return errors.New("transaction finished")
	}
	t.done = true
	t.log.mu.Lock()
	defer t.log.mu.Unlock()
	t.log.txOpen = false
	if t.log.commitErr != nil {
		return t.log.commitErr
	}
	for _, id := range t.pendingUndone {
		for i := range t.log.entries {
			if t.log.entries[i].OperationID == id {
				t.log.entries[i].Undone = true
				t.log.undoSeq++
				t.log.undoOrder[id] = t.log.undoSeq
			}
		}
	}
	for _, id := range t.pendingRedone {
		for i := range t.log.entries {
			if t.log.entries[i].OperationID == id {
				t.log.entries[i].Redone = true
			}
		}
	}
	t.log.entries = append(t.log.entries, t.pendingOps...)
	return nil
}

func (t *fakeTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.log.mu.Lock()
	defer t.log.mu.Unlock()
	t.log.txOpen = false
	return nil
}

// fakeDist records broadcasts and hands out queued inbound batches.
type fakeDist struct {
	mu          sync.Mutex
	distributed []op.Operation
	queued      []*fakeBatch

	distributeErr error
	syncErr       error
	drainErr      error
	closeErr      error

	distributeCalls int
	syncCalls       int
	drainCalls      int
	closeCalls      int
	onClose         func()
}

func newFakeDist() *fakeDist {
	return &fakeDist{}
}

func (d *fakeDist) Distribute(ctx context.Context, o op.Operation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.distributeCalls++
	if d.distributeErr != nil {
		return d.distributeErr
	}
	d.distributed = append(d.distributed, o)
	return nil
}

func (d *fakeDist) SyncState(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncCalls++
	return d.syncErr
}

func (d *fakeDist) DrainPending(ctx context.Context) (Batch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drainCalls++
	if d.drainErr != nil {
		return nil, d.drainErr
	}
	if len(d.queued) == 0 {
		return nil, nil
	}
	b := d.queued[0]
	d.queued = d.queued[1:]
	return b, nil
}

func (d *fakeDist) Close() error {
	d.mu.Lock()
	d.closeCalls++
	hook := d.onClose
	err := d.closeErr
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (d *fakeDist) queue(ops ...op.Operation) *fakeBatch {
	b := &fakeBatch{ops: ops}
	d.mu.Lock()
	d.queued = append(d.queued, b)
	d.mu.Unlock()
	return b
}

func (d *fakeDist) sent() []op.Operation {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]op.Operation, len(d.distributed))
	copy(out, d.distributed)
	return out
}

func (d *fakeDist) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.distributed)
}

func (d *fakeDist) callCounts() (syncs, drains, closes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncCalls, d.drainCalls, d.closeCalls
}

func (d *fakeDist) setDistributeErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.distributeErr = err
}

// fakeBatch counts releases so tests can assert exactly-once.
type fakeBatch struct {
	mu       sync.Mutex
	ops      []op.Operation
	released int
}

func (b *fakeBatch) Ops() []op.Operation {
	return b.ops
}

func (b *fakeBatch) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released++
}

func (b *fakeBatch) releaseCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

func testConfig() config.Config {
	return config.Config{
		InstanceID:         "tandem-a",
		ProjectRoot:        "/p",
		DBPath:             "/p/.tandem/history.db",
		Port:               15001,
		SyncIntervalMillis: 10,
		MaxHistoryEntries:  100,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
}

func newTestInstance(t *testing.T) (*Instance, *fakeLog, *fakeDist) {
	t.Helper()
	flog := newFakeLog()
	fdist := newFakeDist()
	in, err := New(testConfig(), flog, fdist,
		WithClock(testutil.NewDeterministicClock(1, 1)),
		WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if in.State() == StateRunning {
			_ = in.Shutdown()
		}
	})
	return in, flog, fdist
}
