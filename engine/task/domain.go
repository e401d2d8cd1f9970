package task

import (
	"fmt"
	"time"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/mohae/deepcopy"
)

// DefaultGroupID names the reserved concurrency pool every task falls into
// when no group is requested.
const DefaultGroupID = "default"

// DefaultWeight is the aggregation weight assigned when a request leaves it
// unset.
const DefaultWeight = 1.0

// State-details strings that form part of the user-visible contract.
const (
	DetailsCancelledByUser      = "Cancelled by user request"
	DetailsCancelledWithSubtree = "Cancelled by user request (with subtree)"
	DetailsCancelledCascade     = "Cancelled (cascade from parent)"
	DetailsTimedOutOrTerminated = "timed out or terminated"
)

// NoExecutorDetails renders the state details recorded when a task is
// dispatched and no executor is registered for its type.
func NoExecutorDetails(taskType string) string {
	return fmt.Sprintf("no executor for type %s", taskType)
}

// ChildFailureDetails renders the state details recorded on a parent when
// one or more children finished in a non-completed terminal state.
func ChildFailureDetails(failed int) string {
	return fmt.Sprintf("%d child task(s) did not complete successfully", failed)
}

// AggregatedDetails renders the progress details attached to parent progress
// derived from children. Consumers use it (or the Aggregated event flag) to
// distinguish roll-ups from leaf progress reports.
func AggregatedDetails(children int) string {
	return fmt.Sprintf("Aggregated from %d children", children)
}

// -----------------------------------------------------------------------------
// Item
// -----------------------------------------------------------------------------

// Item is one node of the task tree: a unit of queued, executing, or finished
// work. Leaves run on executors; items with children orchestrate them.
type Item struct {
	ID      core.ID `json:"id"       db:"id"`
	OwnerID string  `json:"owner_id" db:"owner_id"`
	// GroupID selects the concurrency pool the task executes under.
	GroupID  string `json:"group_id" db:"group_id"`
	Priority int    `json:"priority" db:"priority"`
	// Type selects the executor.
	Type string `json:"type" db:"type"`
	// Payload is opaque to the engine; JSON by convention. Mutable only
	// while the task is queued.
	Payload string `json:"payload,omitempty" db:"payload"`
	// Output is written by the executor and readable by parent hooks.
	Output []byte          `json:"output,omitempty" db:"output"`
	State  core.StatusType `json:"state"            db:"state"`
	// Progress is a percentage in [0,100]. For items with children it is
	// derived from the weighted average of the children and never written
	// by an executor.
	Progress        float64 `json:"progress"                   db:"progress"`
	ProgressDetails string  `json:"progress_details,omitempty" db:"progress_details"`
	ProgressPayload string  `json:"progress_payload,omitempty" db:"progress_payload"`
	StateDetails    string  `json:"state_details,omitempty"    db:"state_details"`

	ParentTaskID *core.ID `json:"parent_task_id,omitempty" db:"parent_task_id"`
	// RootTaskID equals ID for roots and the parent's RootTaskID for
	// children; it never changes for the life of the task.
	RootTaskID core.ID `json:"root_task_id" db:"root_task_id"`
	// Weight is the positive contribution of this task to its parent's
	// aggregated progress.
	Weight float64 `json:"weight" db:"weight"`
	// SubtaskParallelism selects parallel (true) or sequential (false)
	// child launch. Ignored for leaves.
	SubtaskParallelism bool `json:"subtask_parallelism" db:"subtask_parallelism"`
	// TrackHistory is inherited from the root and gates history recording.
	TrackHistory bool `json:"track_history" db:"track_history"`
	// AuthToken is snapshotted from the root at creation and passed through
	// opaquely; the engine never interprets it.
	AuthToken string `json:"-" db:"auth_token"`

	CreatedAt   time.Time  `json:"created_at"             db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"             db:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"   db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// IsTerminal reports whether the task reached an absorbing state.
func (t *Item) IsTerminal() bool {
	return t.State.IsTerminal()
}

// IsRoot reports whether the task has no parent.
func (t *Item) IsRoot() bool {
	return t.ParentTaskID == nil
}

// MarkExecuting moves the task out of the queue state and stamps StartedAt.
func (t *Item) MarkExecuting(now time.Time) {
	t.State = core.StatusExecuting
	t.StartedAt = &now
}

// MarkTerminal records the final state, details, and completion time.
// Callers must check IsTerminal first; terminal states are absorbing.
func (t *Item) MarkTerminal(state core.StatusType, details string, now time.Time) {
	t.State = state
	t.StateDetails = details
	t.CompletedAt = &now
	if state == core.StatusCompleted {
		t.Progress = 100
	}
}

// EffectiveProgress is the task's contribution to its parent's aggregate:
// 100 for completed tasks, the last observed progress otherwise. The latter
// preserves progress-at-failure for cancelled, errored, and terminated
// children.
func (t *Item) EffectiveProgress() float64 {
	if t.State == core.StatusCompleted {
		return 100
	}
	return t.Progress
}

// Clone returns a deep copy, safe to hand across goroutine boundaries.
func (t *Item) Clone() *Item {
	if t == nil {
		return nil
	}
	copied, ok := deepcopy.Copy(t).(*Item)
	if !ok {
		// deepcopy only fails this assertion on a type mismatch, which
		// cannot happen for a concrete *Item input.
		cp := *t
		return &cp
	}
	return copied
}

// -----------------------------------------------------------------------------
// Requests
// -----------------------------------------------------------------------------

// CreateRequest describes a task to be created. Zero-value fields fall back
// to engine defaults (group "default", weight 1, priority 0).
type CreateRequest struct {
	ID                 *core.ID `json:"id,omitempty"`
	Priority           int      `json:"priority"`
	Type               string   `json:"type"`
	Payload            string   `json:"payload,omitempty"`
	GroupID            string   `json:"group_id,omitempty"`
	ParentTaskID       *core.ID `json:"parent_task_id,omitempty"`
	Weight             float64  `json:"weight,omitempty"`
	SubtaskParallelism bool     `json:"subtask_parallelism,omitempty"`
	TrackHistory       bool     `json:"track_history,omitempty"`
}

// Validate checks the request invariants that do not require repository
// access.
func (r *CreateRequest) Validate() error {
	if r.Type == "" {
		return fmt.Errorf("%w: task type is required", ErrInvalidRequest)
	}
	if r.Weight < 0 {
		return fmt.Errorf("%w: weight must be positive (got %v)", ErrInvalidRequest, r.Weight)
	}
	return nil
}

// TreeRequest describes a task hierarchy to materialize atomically. The
// nesting depth is unbounded; cycles are impossible by construction.
type TreeRequest struct {
	Task     CreateRequest `json:"task"`
	Children []TreeRequest `json:"children,omitempty"`
}

// UpdateRequest mutates a queued task. Nil fields are left untouched.
type UpdateRequest struct {
	Priority *int    `json:"priority,omitempty"`
	Payload  *string `json:"payload,omitempty"`
}

// NewItem materializes a task from a request. Parent-derived inheritance
// (root id, auth token, history flag, group fallback) is applied by the
// caller, which holds the parent row.
func NewItem(req *CreateRequest, owner, authToken string, now time.Time) (*Item, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	id := core.ID("")
	if req.ID != nil && !req.ID.IsZero() {
		parsed, err := core.ParseID(req.ID.String())
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, err)
		}
		id = parsed
	} else {
		generated, err := core.NewID()
		if err != nil {
			return nil, err
		}
		id = generated
	}
	group := req.GroupID
	if group == "" {
		group = DefaultGroupID
	}
	weight := req.Weight
	if weight == 0 {
		weight = DefaultWeight
	}
	item := &Item{
		ID:                 id,
		OwnerID:            owner,
		GroupID:            group,
		Priority:           req.Priority,
		Type:               req.Type,
		Payload:            req.Payload,
		State:              core.StatusQueued,
		ParentTaskID:       req.ParentTaskID,
		RootTaskID:         id,
		Weight:             weight,
		SubtaskParallelism: req.SubtaskParallelism,
		TrackHistory:       req.TrackHistory,
		AuthToken:          authToken,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return item, nil
}
