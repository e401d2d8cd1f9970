package core

// -----------------------------------------------------------------------------
// Task Status
// -----------------------------------------------------------------------------

// StatusType enumerates the lifecycle states of a task.
type StatusType string

const (
	// StatusQueued means the task has been accepted and is waiting for the
	// dispatcher to pick it up.
	StatusQueued StatusType = "QUEUED"
	// StatusExecuting means the task has been handed to an executor or, for
	// parent tasks, is orchestrating its children.
	StatusExecuting StatusType = "EXECUTING"
	// StatusCompleted means the task finished successfully.
	StatusCompleted StatusType = "COMPLETED"
	// StatusCancelled means the task was cancelled by an external request.
	StatusCancelled StatusType = "CANCELLED"
	// StatusErrored means the executor failed or no executor was registered
	// for the task type.
	StatusErrored StatusType = "ERRORED"
	// StatusTerminated means the engine reclaimed the task, typically because
	// its timeout elapsed.
	StatusTerminated StatusType = "TERMINATED"
)

func (s StatusType) String() string {
	return string(s)
}

// IsTerminal reports whether the status is absorbing. A task in a terminal
// status never transitions again.
func (s StatusType) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusErrored, StatusTerminated:
		return true
	default:
		return false
	}
}

// TerminalStatuses returns every absorbing status.
func TerminalStatuses() []StatusType {
	return []StatusType{StatusCompleted, StatusCancelled, StatusErrored, StatusTerminated}
}
