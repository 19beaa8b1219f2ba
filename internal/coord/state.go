package coord

// State is an instance's lifecycle position. Transitions only move
// forward: Created -> Running -> ShuttingDown -> Closed.
type State int32

const (
	// StateCreated means construction is underway; ports are wired but
	// the sync loop has not started.
	StateCreated State = iota

	// StateRunning means the sync loop is active and the foreground
	// API accepts calls.
	StateRunning

	// StateShuttingDown means shutdown has been signaled; the loop is
	// draining its current iteration and new submissions are refused.
	StateShuttingDown

	// StateClosed means the loop has terminated and both ports are
	// released.
	StateClosed
)

var stateNames = map[State]string{
	StateCreated:      "created",
	StateRunning:      "running",
	StateShuttingDown: "shutting-down",
	StateClosed:       "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
