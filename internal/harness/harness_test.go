package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_SubmitAppendsToHistory(t *testing.T) {
	scenario := &Scenario{
		Name:        "submit_appends",
		Description: "Each submit lands as one log entry and one broadcast",
		Steps: []Step{
			{Submit: &SubmitStep{Kind: "insert", Path: "notes/a.txt", Line: 1, Column: 1, Content: "alpha"}},
			{Submit: &SubmitStep{Kind: "delete", Path: "notes/b.txt", Line: 2, Column: 4, Content: "cut"}},
		},
		Assertions: []Assertion{
			{Type: AssertHistoryLength, Count: 2},
			{Type: AssertDistributedCount, Count: 2},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)

	require.Len(t, result.History, 2)
	assert.Equal(t, int64(1), result.History[0].OperationID)
	assert.Equal(t, "insert", result.History[0].Kind)
	assert.Equal(t, "notes/a.txt", result.History[0].Path)
	assert.Equal(t, "alpha", result.History[0].Content)
	assert.Equal(t, "tandem-harness", result.History[0].Origin)
	assert.Equal(t, int64(1000), result.History[0].TimestampNanos)
	assert.Equal(t, int64(2000), result.History[1].TimestampNanos)

	require.Len(t, result.Distributed, 2)
	assert.Equal(t, "insert", result.Distributed[0].Kind)
	assert.Equal(t, "delete", result.Distributed[1].Kind)
}

func TestRun_UndoFlagsEntryAndBroadcastsReversal(t *testing.T) {
	scenario := &Scenario{
		Name:        "undo_broadcasts_reversal",
		Description: "Undo flags the entry undone and broadcasts its reversal",
		Steps: []Step{
			{Submit: &SubmitStep{Kind: "insert", Path: "notes/a.txt", Line: 1, Column: 1, Content: "alpha"}},
			{Undo: true},
		},
		Assertions: []Assertion{
			{Type: AssertHistoryLength, Count: 1},
			{Type: AssertActiveLength, Count: 0},
			{Type: AssertDistributedCount, Count: 2},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	// The undone flag is the local record; no reversal entry is appended.
	require.Len(t, result.History, 1)
	assert.True(t, result.History[0].Undone)
	assert.False(t, result.History[0].Redone)

	// The reversal of an insert is a delete carrying the same content.
	require.Len(t, result.Distributed, 2)
	assert.Equal(t, "delete", result.Distributed[1].Kind)
	assert.Equal(t, "alpha", result.Distributed[1].Content)
	assert.Equal(t, int64(2000), result.Distributed[1].TimestampNanos)
}

func TestRun_RedoAppendsFreshEntry(t *testing.T) {
	scenario := &Scenario{
		Name:        "redo_appends_fresh",
		Description: "Redo reissues the undone change as a new log entry",
		Steps: []Step{
			{Submit: &SubmitStep{Kind: "insert", Path: "notes/a.txt", Line: 1, Column: 1, Content: "alpha"}},
			{Undo: true},
			{Redo: true},
		},
		Assertions: []Assertion{
			{Type: AssertHistoryLength, Count: 2},
			{Type: AssertActiveLength, Count: 1},
			{Type: AssertDistributionOrder, Kinds: []string{"insert", "delete", "insert"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.History, 2)
	assert.True(t, result.History[0].Undone)
	assert.True(t, result.History[0].Redone)
	assert.False(t, result.History[1].Undone)
	assert.Equal(t, "alpha", result.History[1].Content)
	assert.Equal(t, int64(3000), result.History[1].TimestampNanos)
}

func TestRun_ReplaceReversalSwapsContent(t *testing.T) {
	scenario := &Scenario{
		Name:        "replace_reversal",
		Description: "Undoing a replace broadcasts the swapped payloads",
		Steps: []Step{
			{Submit: &SubmitStep{Kind: "replace", Path: "src/main.go", Line: 4, Column: 2, Content: "after", Prev: "before"}},
			{Undo: true},
		},
		Assertions: []Assertion{
			{Type: AssertDistributedCount, Count: 2},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Distributed, 2)
	assert.Equal(t, "replace", result.Distributed[1].Kind)
	assert.Equal(t, "before", result.Distributed[1].Content)
	assert.Equal(t, "after", result.Distributed[1].Prev)
}

func TestRun_ExpectedErrors(t *testing.T) {
	scenario := &Scenario{
		Name:        "expected_errors",
		Description: "Empty-log undo/redo and an invalid submit fail with their sentinels",
		Steps: []Step{
			{Undo: true, ExpectError: "no_operation_to_undo"},
			{Redo: true, ExpectError: "no_operation_to_redo"},
			{Submit: &SubmitStep{Kind: "insert", Path: "notes/a.txt", Content: "no position"}, ExpectError: "invalid_operation"},
		},
		Assertions: []Assertion{
			{Type: AssertHistoryLength, Count: 0},
			{Type: AssertDistributedCount, Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 3)
	assert.Equal(t, "no_operation_to_undo", result.Trace[0].Error)
	assert.Equal(t, "no_operation_to_redo", result.Trace[1].Error)
	assert.Equal(t, "invalid_operation", result.Trace[2].Error)
}

func TestRun_UnexpectedFailureAborts(t *testing.T) {
	scenario := &Scenario{
		Name:        "unexpected_failure",
		Description: "A failing step without expect_error aborts the run",
		Steps: []Step{
			{Undo: true},
		},
		Assertions: []Assertion{
			{Type: AssertHistoryLength, Count: 0},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 0")
	assert.Contains(t, err.Error(), "unexpected failure")
}

func TestRun_ExpectedErrorNotProduced(t *testing.T) {
	scenario := &Scenario{
		Name:        "missing_failure",
		Description: "A succeeding step with expect_error aborts the run",
		Steps: []Step{
			{Submit: &SubmitStep{Kind: "insert", Path: "notes/a.txt", Line: 1, Column: 1, Content: "fine"}, ExpectError: "invalid_operation"},
		},
		Assertions: []Assertion{
			{Type: AssertHistoryLength, Count: 1},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected invalid_operation")
}

func TestRun_FailedAssertionsCollectErrors(t *testing.T) {
	scenario := &Scenario{
		Name:        "failing_assertion",
		Description: "Assertion failures land in the result, not in the error",
		Steps: []Step{
			{Submit: &SubmitStep{Kind: "insert", Path: "notes/a.txt", Line: 1, Column: 1, Content: "alpha"}},
		},
		Assertions: []Assertion{
			{Type: AssertHistoryLength, Count: 2},
			{Type: AssertDistributedCount, Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: history_length")
}

func TestRun_CustomInstanceID(t *testing.T) {
	scenario := &Scenario{
		Name:        "custom_instance_id",
		Description: "The scenario's instance id stamps every entry",
		InstanceID:  "tandem-scenario-7",
		Steps: []Step{
			{Submit: &SubmitStep{Kind: "meta", Path: "project.yaml", Content: "renamed"}},
		},
		Assertions: []Assertion{
			{Type: AssertHistoryContains, Kind: "meta", Path: "project.yaml"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.History, 1)
	assert.Equal(t, "tandem-scenario-7", result.History[0].Origin)
}

func TestRun_HistoryPruning(t *testing.T) {
	scenario := &Scenario{
		Name:        "history_pruning",
		Description: "The log keeps only the newest max_history entries",
		MaxHistory:  2,
		Steps: []Step{
			{Submit: &SubmitStep{Kind: "insert", Path: "notes/a.txt", Line: 1, Column: 1, Content: "one"}},
			{Submit: &SubmitStep{Kind: "insert", Path: "notes/a.txt", Line: 2, Column: 1, Content: "two"}},
			{Submit: &SubmitStep{Kind: "insert", Path: "notes/a.txt", Line: 3, Column: 1, Content: "three"}},
		},
		Assertions: []Assertion{
			{Type: AssertHistoryLength, Count: 2},
			{Type: AssertDistributedCount, Count: 3},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.History, 2)
	assert.Equal(t, "two", result.History[0].Content)
	assert.Equal(t, "three", result.History[1].Content)
}

func TestRun_NormalizesSubmittedPaths(t *testing.T) {
	scenario := &Scenario{
		Name:        "path_normalization",
		Description: "Backslash and redundant segments normalize before persistence",
		Steps: []Step{
			{Submit: &SubmitStep{Kind: "resource", Path: `assets\./logo.png`, Content: "bytes"}},
		},
		Assertions: []Assertion{
			{Type: AssertHistoryContains, Path: "assets/logo.png"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "assets/logo.png", result.Trace[0].Path)
}
