package coord

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the foreground API. Callers match them
// with errors.Is.
var (
	// ErrInvalidOperation indicates a submitted operation failed
	// validation. Never retried.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrNoOperationToUndo indicates the log has no active entry.
	ErrNoOperationToUndo = errors.New("no operation to undo")

	// ErrNoOperationToRedo indicates the undo stack is empty.
	ErrNoOperationToRedo = errors.New("no operation to redo")

	// ErrShuttingDown indicates shutdown has been signaled and no new
	// submissions are accepted.
	ErrShuttingDown = errors.New("instance is shutting down")

	// ErrAlreadyShutDown indicates the instance has already been shut
	// down. A second Shutdown returns this rather than double-closing
	// ports.
	ErrAlreadyShutDown = errors.New("instance already shut down")
)

// InitError reports a failure to bring up one of the instance's ports
// during construction. Subsystem is "persistence" or "network". Ports
// opened by earlier construction steps are closed before the error is
// returned, so nothing leaks.
type InitError struct {
	Subsystem string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialize %s: %v", e.Subsystem, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed log operation. The enclosing
// transaction has been rolled back before this error is surfaced, so
// the log never holds a half-applied mutation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// DistributionError reports a failed peer broadcast. It never unwinds
// a committed local operation; the entry remains logged and the sync
// loop retries delivery on its next state reconciliation.
type DistributionError struct {
	Err error
}

func (e *DistributionError) Error() string {
	return fmt.Sprintf("distribution: %v", e.Err)
}

func (e *DistributionError) Unwrap() error {
	return e.Err
}
