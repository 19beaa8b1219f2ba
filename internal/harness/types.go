package harness

// TraceEvent records one scripted step and its observed outcome.
type TraceEvent struct {
	// Type is "submit", "undo", or "redo".
	Type string `json:"type"`

	// Kind, Path, and ContentLength describe the submitted operation.
	// Empty for undo and redo events.
	Kind          string `json:"kind,omitempty"`
	Path          string `json:"path,omitempty"`
	ContentLength int    `json:"content_length,omitempty"`

	// Error names the expected failure the step produced, when any.
	Error string `json:"error,omitempty"`
}

// HistoryRow is the deterministic projection of one log entry, used for
// assertions and golden comparison.
type HistoryRow struct {
	OperationID    int64  `json:"operation_id"`
	Kind           string `json:"kind"`
	Path           string `json:"path"`
	Line           int    `json:"line,omitempty"`
	Column         int    `json:"column,omitempty"`
	Content        string `json:"content,omitempty"`
	Prev           string `json:"prev,omitempty"`
	Origin         string `json:"origin_instance_id"`
	TimestampNanos int64  `json:"timestamp_nanos"`
	Undone         bool   `json:"undone,omitempty"`
	Redone         bool   `json:"redone,omitempty"`
}

// WireRow is the deterministic projection of one broadcast operation.
type WireRow struct {
	Kind           string `json:"kind"`
	Path           string `json:"path"`
	Line           int    `json:"line,omitempty"`
	Column         int    `json:"column,omitempty"`
	Content        string `json:"content,omitempty"`
	Prev           string `json:"prev,omitempty"`
	TimestampNanos int64  `json:"timestamp_nanos"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success. True if every assertion
	// holds.
	Pass bool `json:"pass"`

	// Trace contains the scripted steps in execution order.
	Trace []TraceEvent `json:"trace"`

	// History is the final log contents, oldest first.
	History []HistoryRow `json:"history"`

	// Distributed is every broadcast operation in send order.
	Distributed []WireRow `json:"distributed"`

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result. Used as the starting point
// for scenario execution.
func NewResult() *Result {
	return &Result{
		Pass:        true,
		Trace:       []TraceEvent{},
		History:     []HistoryRow{},
		Distributed: []WireRow{},
		Errors:      []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// ActiveCount returns the number of history rows not flagged undone.
func (r *Result) ActiveCount() int {
	n := 0
	for _, row := range r.History {
		if !row.Undone {
			n++
		}
	}
	return n
}
