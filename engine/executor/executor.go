// Package executor defines the contract between the engine and the code that
// performs work. An Executor is selected by task type; optional capability
// interfaces let a parent task's executor observe and steer its children.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmincu/pulstrate/engine/task"
)

// Executor performs the work for one task type. Execute must honor ctx: the
// engine cancels it on task cancellation and on timeout, and maps a context
// error to the matching terminal state. A nil return completes the task; any
// other error moves it to the errored state with the error text as details.
type Executor interface {
	Type() string
	Execute(ctx context.Context, t *task.Item, sink ProgressSink) error
}

// ProgressSink is handed to Execute so leaf work can report progress. Reports
// are persisted, published to subscribers, and rolled up to ancestors.
type ProgressSink interface {
	Report(ctx context.Context, percentage float64, opts ...ReportOption)
}

// ReportOption attaches optional fields to a progress report.
type ReportOption func(*task.ProgressUpdate)

// WithDetails sets the human-readable details of a progress report.
func WithDetails(details string) ReportOption {
	return func(u *task.ProgressUpdate) { u.Details = details }
}

// WithPayload sets the opaque payload of a progress report.
func WithPayload(payload string) ReportOption {
	return func(u *task.ProgressUpdate) { u.Payload = payload }
}

// NopSink discards progress reports.
type NopSink struct{}

func (NopSink) Report(context.Context, float64, ...ReportOption) {}

var _ ProgressSink = NopSink{}

// -----------------------------------------------------------------------------
// Parent capability hooks
// -----------------------------------------------------------------------------
//
// The engine probes an executor for these with type assertions. An executor
// backing a parent type implements whichever it needs; leaves ignore them.

// SubtaskProgressHook is invoked synchronously whenever an immediate child
// reports progress.
type SubtaskProgressHook interface {
	OnSubtaskProgress(ctx context.Context, parent, child *task.Item, update task.ProgressUpdate)
}

// SubtaskStateHook is invoked when an immediate child enters a terminal
// state, immediately before SubtaskTerminalHook.
type SubtaskStateHook interface {
	OnSubtaskStateChange(ctx context.Context, parent, child *task.Item, change task.StateChange)
}

// SubtaskTerminalHook is invoked exactly once per child terminal transition.
// Returned requests are appended to the parent as dynamic subtasks; in
// sequential mode they run before the remaining siblings. This is also the
// point where an executor may rewrite a still-queued sibling's payload.
type SubtaskTerminalHook interface {
	OnSubtaskTerminal(ctx context.Context, parent, child *task.Item, change task.StateChange) ([]task.CreateRequest, error)
}

// SubtaskCompletionHook is invoked once when every child of the parent has
// completed successfully, before the parent itself completes.
type SubtaskCompletionHook interface {
	OnAllSubtasksSucceeded(ctx context.Context, parent *task.Item, children []*task.Item) error
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

// ErrDuplicateType is returned when two executors claim the same task type.
var ErrDuplicateType = errors.New("executor type already registered")

// Registry maps task types to executors. Registration happens at startup;
// lookups are concurrent.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor under its declared type.
func (r *Registry) Register(e Executor) error {
	if e == nil {
		return fmt.Errorf("executor must not be nil")
	}
	taskType := e.Type()
	if taskType == "" {
		return fmt.Errorf("executor type must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executors[taskType]; ok {
		return fmt.Errorf("%q: %w", taskType, ErrDuplicateType)
	}
	r.executors[taskType] = e
	return nil
}

// Lookup returns the executor registered for taskType.
func (r *Registry) Lookup(taskType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[taskType]
	return e, ok
}

// Types returns the registered task types sorted alphabetically.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
