package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tandemlabs/tandem/internal/config"
	"github.com/tandemlabs/tandem/internal/coord"
	"github.com/tandemlabs/tandem/internal/op"
	"github.com/tandemlabs/tandem/internal/store"
	"github.com/tandemlabs/tandem/internal/testutil"
)

const (
	// defaultInstanceID stamps operations when the scenario pins none.
	defaultInstanceID = "tandem-harness"

	// clockStart and clockStep drive the deterministic commit stamps:
	// the first commit lands at clockStart, each later one a step after.
	clockStart = 1000
	clockStep  = 1000

	// quietSyncMillis keeps the background loop from ticking during a
	// scripted run, so the steps alone decide what gets broadcast.
	quietSyncMillis = 60_000
)

// expectableErrors maps scenario expect_error names to runtime
// sentinels.
var expectableErrors = map[string]error{
	"invalid_operation":    coord.ErrInvalidOperation,
	"no_operation_to_undo": coord.ErrNoOperationToUndo,
	"no_operation_to_redo": coord.ErrNoOperationToRedo,
}

// storeLog lifts the concrete store onto the runtime's log contract.
// Begin needs the interface return type; every other method promotes.
type storeLog struct {
	*store.Store
}

func (l storeLog) Begin(ctx context.Context) (coord.LogTx, error) {
	return l.Store.Begin(ctx)
}

// recordingDistributor satisfies the distribution port and records
// every broadcast instead of sending it anywhere. State reconciliation
// and inbound draining are no-ops: scenarios script the foreground API
// only.
type recordingDistributor struct {
	mu  sync.Mutex
	ops []op.Operation
}

func (d *recordingDistributor) Distribute(_ context.Context, o op.Operation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, o)
	return nil
}

func (d *recordingDistributor) SyncState(context.Context) error { return nil }

func (d *recordingDistributor) DrainPending(context.Context) (coord.Batch, error) {
	return nil, nil
}

func (d *recordingDistributor) Close() error { return nil }

func (d *recordingDistributor) snapshot() []op.Operation {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]op.Operation, len(d.ops))
	copy(out, d.ops)
	return out
}

// Run executes a scenario and returns the result.
//
// Each scenario runs a fresh instance over an in-memory database with
// a deterministic clock and a recording distributor, so the trace, the
// final history, and the broadcast record are identical across runs.
//
// Execution flow:
//  1. Open an in-memory operation log
//  2. Start an instance wired to the recording distributor
//  3. Execute the scripted steps, checking expected failures
//  4. Snapshot the final history and the broadcast record
//  5. Evaluate assertions into the result
func Run(scenario *Scenario) (*Result, error) {
	maxHistory := scenario.MaxHistory
	if maxHistory <= 0 {
		maxHistory = config.DefaultMaxHistoryEntries
	}

	st, err := store.Open(":memory:", maxHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	cfg := config.Default(".")
	cfg.InstanceID = scenario.InstanceID
	if cfg.InstanceID == "" {
		cfg.InstanceID = defaultInstanceID
	}
	cfg.DBPath = ":memory:"
	cfg.SyncIntervalMillis = quietSyncMillis
	cfg.MaxHistoryEntries = maxHistory
	cfg.DiscoveryEnabled = false

	recorder := &recordingDistributor{}
	inst, err := coord.New(cfg, storeLog{st}, recorder,
		coord.WithClock(testutil.NewDeterministicClock(clockStart, clockStep)),
		coord.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), // Suppress logs in tests
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to start instance: %w", err)
	}

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		if err := executeStep(ctx, inst, step, result); err != nil {
			inst.Shutdown()
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	history, err := st.Since(ctx, 0, "")
	if err != nil {
		inst.Shutdown()
		return nil, fmt.Errorf("failed to read final history: %w", err)
	}
	result.History = historyRows(history)
	result.Distributed = wireRows(recorder.snapshot())

	// Shutdown closes the ports; the snapshots above are already taken.
	if err := inst.Shutdown(); err != nil {
		return nil, fmt.Errorf("failed to shut down instance: %w", err)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

// executeStep runs one scripted action and appends its trace event. A
// step either succeeds or fails with exactly the named sentinel;
// anything else aborts the scenario as an infrastructure error.
func executeStep(ctx context.Context, inst *coord.Instance, step Step, result *Result) error {
	var (
		event TraceEvent
		err   error
	)

	switch {
	case step.Submit != nil:
		o, buildErr := buildOperation(*step.Submit)
		if buildErr != nil {
			return fmt.Errorf("failed to build operation: %w", buildErr)
		}
		event = TraceEvent{
			Type:          "submit",
			Kind:          step.Submit.Kind,
			Path:          o.FilePath,
			ContentLength: o.ContentLength,
		}
		err = inst.Submit(ctx, o)
	case step.Undo:
		event = TraceEvent{Type: "undo"}
		err = inst.Undo(ctx)
	case step.Redo:
		event = TraceEvent{Type: "redo"}
		err = inst.Redo(ctx)
	default:
		return fmt.Errorf("step has no action")
	}

	if step.ExpectError == "" {
		if err != nil {
			return fmt.Errorf("unexpected failure: %w", err)
		}
	} else {
		want, ok := expectableErrors[step.ExpectError]
		if !ok {
			return fmt.Errorf("unknown expect_error %q", step.ExpectError)
		}
		if !errors.Is(err, want) {
			return fmt.Errorf("expected %s, got: %v", step.ExpectError, err)
		}
		event.Error = step.ExpectError
	}

	result.Trace = append(result.Trace, event)
	return nil
}

// buildOperation constructs the operation a submit step describes.
func buildOperation(s SubmitStep) (op.Operation, error) {
	kind, err := op.ParseKind(s.Kind)
	if err != nil {
		return op.Operation{}, err
	}

	content := []byte(s.Content)
	switch kind {
	case op.Insert:
		return op.NewInsert(s.Path, s.Line, s.Column, content), nil
	case op.Delete:
		return op.NewDelete(s.Path, s.Line, s.Column, content), nil
	case op.Replace:
		return op.NewReplace(s.Path, s.Line, s.Column, content, []byte(s.Prev)), nil
	case op.MetaChange:
		return op.NewMetaChange(s.Path, content), nil
	case op.Resource:
		return op.NewResource(s.Path, content), nil
	default:
		return op.Operation{}, fmt.Errorf("kind %s has no constructor", kind)
	}
}

// historyRows projects log entries onto their assertion form. Order is
// preserved: the runner reads history oldest first.
func historyRows(ops []op.Operation) []HistoryRow {
	rows := make([]HistoryRow, 0, len(ops))
	for _, o := range ops {
		rows = append(rows, HistoryRow{
			OperationID:    o.OperationID,
			Kind:           o.Kind.String(),
			Path:           o.FilePath,
			Line:           o.Line,
			Column:         o.Column,
			Content:        string(o.Content),
			Prev:           string(o.PrevContent),
			Origin:         o.OriginInstanceID,
			TimestampNanos: o.TimestampNanos,
			Undone:         o.Undone,
			Redone:         o.Redone,
		})
	}
	return rows
}

// wireRows projects broadcast operations onto their assertion form in
// send order.
func wireRows(ops []op.Operation) []WireRow {
	rows := make([]WireRow, 0, len(ops))
	for _, o := range ops {
		rows = append(rows, WireRow{
			Kind:           o.Kind.String(),
			Path:           o.FilePath,
			Line:           o.Line,
			Column:         o.Column,
			Content:        string(o.Content),
			Prev:           string(o.PrevContent),
			TimestampNanos: o.TimestampNanos,
		})
	}
	return rows
}
