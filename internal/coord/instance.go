package coord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tandemlabs/tandem/internal/config"
	"github.com/tandemlabs/tandem/internal/op"
	"github.com/tandemlabs/tandem/internal/telemetry"
)

// errorChanCapacity bounds the channel carrying aggregated background
// failures. Sends never block; overflow is dropped with a log line.
const errorChanCapacity = 16

// Instance is one running coordination runtime.
//
// Thread-safety model:
//   - Submit, Undo, Redo, RegisterObserver, Errors, State: safe from
//     any goroutine
//   - Shutdown: safe from any goroutine, first caller wins
//   - the sync loop runs in exactly one goroutine owned by the
//     instance
type Instance struct {
	cfg  config.Config
	log  OperationLog
	dist Distributor

	// mu serializes log transactions and timestamp stamping between
	// the foreground API and the sync loop's persistence step.
	// Distribution happens outside mu so local commits never wait on
	// network latency.
	mu        sync.Mutex
	lastStamp int64 // guarded by mu

	state    atomic.Int32
	observer atomic.Pointer[ObserverFunc]

	clock   Clock
	logger  *slog.Logger
	metrics *telemetry.Metrics

	loopCancel context.CancelFunc
	loopDone   chan struct{}
	errs       chan error
}

// Option configures an Instance at construction.
type Option func(*Instance)

// WithClock overrides the wall clock used to stamp operations.
// Tests pin timestamps with testutil.DeterministicClock.
func WithClock(c Clock) Option {
	return func(in *Instance) {
		in.clock = c
	}
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Instance) {
		in.logger = l
	}
}

// WithMetrics attaches telemetry counters. A nil *Metrics is valid
// and counts nothing.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(in *Instance) {
		in.metrics = m
	}
}

// New wires an instance over an already-opened operation log and
// distributor, then starts the background sync loop. The instance
// owns both ports from here on: Shutdown closes them.
//
// The config must pass config.Validate. Opening the ports themselves
// is the caller's job; a caller that fails to open the second port
// must close the first before giving up, so nothing leaks.
func New(cfg config.Config, log OperationLog, dist Distributor, opts ...Option) (*Instance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if log == nil {
		return nil, &InitError{Subsystem: "persistence", Err: errors.New("nil operation log")}
	}
	if dist == nil {
		return nil, &InitError{Subsystem: "network", Err: errors.New("nil distributor")}
	}

	in := &Instance{
		cfg:      cfg,
		log:      log,
		dist:     dist,
		clock:    systemClock{},
		logger:   slog.Default(),
		loopDone: make(chan struct{}),
		errs:     make(chan error, errorChanCapacity),
	}
	in.state.Store(int32(StateCreated))

	for _, opt := range opts {
		opt(in)
	}

	ctx, cancel := context.WithCancel(context.Background())
	in.loopCancel = cancel
	in.state.Store(int32(StateRunning))
	go in.run(ctx)

	in.logger.Info("instance running",
		"instance_id", cfg.InstanceID,
		"project_root", cfg.ProjectRoot,
		"sync_interval", cfg.SyncInterval(),
	)
	return in, nil
}

// State reports the instance's lifecycle position.
func (in *Instance) State() State {
	return State(in.state.Load())
}

// Errors returns the channel carrying aggregated background failures:
// state-sync errors, drain errors, and per-entry persistence failures
// on inbound batches. The channel is closed by Shutdown.
func (in *Instance) Errors() <-chan error {
	return in.errs
}

// RegisterObserver replaces the current observer. The next delivered
// batch uses the new registration; last registration wins. Passing nil
// clears the observer. Safe to call while the sync loop is running.
func (in *Instance) RegisterObserver(fn ObserverFunc) {
	if fn == nil {
		in.observer.Store(nil)
		return
	}
	in.observer.Store(&fn)
}

// Submit validates, stamps, durably appends, and then broadcasts one
// operation. The append happens inside a log transaction under the
// instance lock; the broadcast happens after the lock is released.
//
// A DistributionError return means the operation IS committed locally;
// delivery is retried by the sync loop's next state reconciliation.
func (in *Instance) Submit(ctx context.Context, o op.Operation) error {
	if err := in.checkRunning(); err != nil {
		return err
	}

	if o.OriginInstanceID == "" {
		o.OriginInstanceID = in.cfg.InstanceID
	}
	if err := o.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}

	in.mu.Lock()
	in.stampLocked(&o)
	id, err := in.appendLocked(ctx, &o)
	in.mu.Unlock()
	if err != nil {
		return err
	}
	o.OperationID = id

	in.logger.Debug("operation committed",
		"instance_id", in.cfg.InstanceID,
		"operation_id", id,
		"kind", o.Kind,
		"file_path", o.FilePath,
	)
	in.metrics.OperationSubmitted()

	if err := in.dist.Distribute(ctx, o); err != nil {
		in.logger.Warn("distribution failed, delivery deferred to sync loop",
			"operation_id", id,
			"error", err,
		)
		return &DistributionError{Err: err}
	}
	return nil
}

// Undo reverses the most recent active log entry. The entry is flagged
// undone in a transaction; the computed reversal is then broadcast to
// peers. The reversal is not appended locally: the undone flag is the
// local record.
func (in *Instance) Undo(ctx context.Context) error {
	if err := in.checkRunning(); err != nil {
		return err
	}

	in.mu.Lock()
	rev, err := in.undoLocked(ctx)
	in.mu.Unlock()
	if err != nil {
		return err
	}

	in.logger.Debug("operation undone",
		"instance_id", in.cfg.InstanceID,
		"operation_id", rev.undoneID,
		"kind", rev.forward.Kind,
	)
	in.metrics.UndoApplied()

	if err := in.dist.Distribute(ctx, rev.forward); err != nil {
		return &DistributionError{Err: err}
	}
	return nil
}

// Redo reapplies the most recently undone entry. The entry is flagged
// redone and the recomputed forward operation is appended as a fresh
// log entry in the same transaction, then broadcast.
func (in *Instance) Redo(ctx context.Context) error {
	if err := in.checkRunning(); err != nil {
		return err
	}

	in.mu.Lock()
	fwd, err := in.redoLocked(ctx)
	in.mu.Unlock()
	if err != nil {
		return err
	}

	in.logger.Debug("operation redone",
		"instance_id", in.cfg.InstanceID,
		"operation_id", fwd.OperationID,
		"kind", fwd.Kind,
	)
	in.metrics.RedoApplied()

	if err := in.dist.Distribute(ctx, *fwd); err != nil {
		return &DistributionError{Err: err}
	}
	return nil
}

// Shutdown signals the sync loop, joins it, and closes the
// distribution port followed by the persistence port. Only the first
// call does any of this; later calls return ErrAlreadyShutDown.
func (in *Instance) Shutdown() error {
	if !in.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown)) {
		return ErrAlreadyShutDown
	}

	in.logger.Info("instance shutting down", "instance_id", in.cfg.InstanceID)
	in.loopCancel()
	<-in.loopDone
	close(in.errs)

	// Taking mu lets an in-flight submission finish its
	// commit-or-rollback before the ports go away.
	in.mu.Lock()
	distErr := in.dist.Close()
	logErr := in.log.Close()
	in.mu.Unlock()
	in.state.Store(int32(StateClosed))

	if distErr != nil {
		return fmt.Errorf("close distribution port: %w", distErr)
	}
	if logErr != nil {
		return fmt.Errorf("close persistence port: %w", logErr)
	}
	in.logger.Info("instance closed", "instance_id", in.cfg.InstanceID)
	return nil
}

// checkRunning gates the foreground API on lifecycle state.
func (in *Instance) checkRunning() error {
	switch State(in.state.Load()) {
	case StateRunning:
		return nil
	case StateShuttingDown:
		return ErrShuttingDown
	default:
		return ErrAlreadyShutDown
	}
}

// stampLocked assigns the commit timestamp: the wall clock, clamped so
// stamps never move backwards within this instance. Caller holds mu.
func (in *Instance) stampLocked(o *op.Operation) {
	now := in.clock.Now()
	if now < in.lastStamp {
		now = in.lastStamp
	}
	in.lastStamp = now
	o.TimestampNanos = now
}

// appendLocked runs one append inside its own transaction. On any
// failure the transaction is rolled back before the error is
// returned. Caller holds mu.
func (in *Instance) appendLocked(ctx context.Context, o *op.Operation) (int64, error) {
	tx, err := in.log.Begin(ctx)
	if err != nil {
		return 0, &PersistenceError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	id, err := tx.Append(ctx, o)
	if err != nil {
		return 0, &PersistenceError{Op: "append", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &PersistenceError{Op: "commit", Err: err}
	}
	return id, nil
}

// reversal carries an undo's outcome: the id of the entry that was
// flagged undone and the operation to broadcast in its place.
type reversal struct {
	undoneID int64
	forward  op.Operation
}

// undoLocked flags the newest active entry undone and computes its
// reversal. Caller holds mu.
func (in *Instance) undoLocked(ctx context.Context) (*reversal, error) {
	last, err := in.log.Last(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "last", Err: err}
	}
	if last == nil {
		return nil, ErrNoOperationToUndo
	}

	tx, err := in.log.Begin(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	if err := tx.MarkUndone(ctx, last.OperationID); err != nil {
		return nil, &PersistenceError{Op: "mark undone", Err: err}
	}

	rev := last.Reverse()
	rev.OriginInstanceID = in.cfg.InstanceID
	in.stampLocked(&rev)

	if err := tx.Commit(); err != nil {
		return nil, &PersistenceError{Op: "commit", Err: err}
	}
	return &reversal{undoneID: last.OperationID, forward: rev}, nil
}

// redoLocked flags the most recently undone entry redone and appends
// the recomputed forward operation as a new entry in the same
// transaction. Caller holds mu.
func (in *Instance) redoLocked(ctx context.Context) (*op.Operation, error) {
	target, err := in.log.LastUndone(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "last undone", Err: err}
	}
	if target == nil {
		return nil, ErrNoOperationToRedo
	}

	tx, err := in.log.Begin(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	if err := tx.MarkRedone(ctx, target.OperationID); err != nil {
		return nil, &PersistenceError{Op: "mark redone", Err: err}
	}

	// The forward operation is the undone entry reissued as a fresh
	// entry: same change, new identity, stamped by this instance.
	fwd := *target
	fwd.OperationID = 0
	fwd.Undone = false
	fwd.Redone = false
	fwd.OriginInstanceID = in.cfg.InstanceID
	in.stampLocked(&fwd)

	id, err := tx.Append(ctx, &fwd)
	if err != nil {
		return nil, &PersistenceError{Op: "append", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, &PersistenceError{Op: "commit", Err: err}
	}
	fwd.OperationID = id
	return &fwd, nil
}

// reportErr forwards a background failure to the error channel without
// ever blocking the loop.
func (in *Instance) reportErr(err error) {
	select {
	case in.errs <- err:
	default:
		in.logger.Warn("error channel full, dropping", "error", err)
	}
}
