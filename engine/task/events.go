package task

import (
	"context"
	"errors"

	"github.com/danmincu/pulstrate/engine/core"
)

// Errors surfaced by the task service, by effect rather than by type name.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidState   = errors.New("invalid task state")
	ErrForbidden      = errors.New("forbidden")
)

// EventType enumerates the events the engine emits about tasks.
type EventType string

const (
	EventTaskCreated  EventType = "task_created"
	EventTaskUpdated  EventType = "task_updated"
	EventTaskDeleted  EventType = "task_deleted"
	EventStateChanged EventType = "state_changed"
	EventProgress     EventType = "progress"
)

func (e EventType) String() string {
	return string(e)
}

// ProgressUpdate is the payload of a progress event. Aggregated marks parent
// roll-ups derived from children, which consumers must distinguish from leaf
// executor reports.
type ProgressUpdate struct {
	Percentage float64 `json:"percentage"`
	Details    string  `json:"details,omitempty"`
	Payload    string  `json:"payload,omitempty"`
	Aggregated bool    `json:"aggregated,omitempty"`
}

// StateChange describes a single observed state transition.
type StateChange struct {
	From    core.StatusType `json:"from"`
	To      core.StatusType `json:"to"`
	Details string          `json:"details,omitempty"`
}

// StateChangedEvent is the wire payload of a state-changed event.
type StateChangedEvent struct {
	TaskID   core.ID         `json:"task_id"`
	OwnerID  string          `json:"owner_id"`
	NewState core.StatusType `json:"new_state"`
	Details  string          `json:"details,omitempty"`
}

// ProgressEvent is the wire payload of a progress event.
type ProgressEvent struct {
	TaskID     core.ID `json:"task_id"`
	OwnerID    string  `json:"owner_id"`
	Percentage float64 `json:"percentage"`
	Details    string  `json:"details,omitempty"`
	Payload    string  `json:"payload,omitempty"`
	Aggregated bool    `json:"aggregated,omitempty"`
}

// DeletedEvent is the wire payload of a deleted event.
type DeletedEvent struct {
	TaskID  core.ID `json:"task_id"`
	OwnerID string  `json:"owner_id"`
}

// EventPublisher is the fire-and-forget sink for task events. The engine
// treats delivery as best effort (at least once, never guaranteed);
// implementations must not block the caller and must preserve, per task id,
// the order events were emitted in.
type EventPublisher interface {
	TaskCreated(ctx context.Context, item *Item)
	TaskUpdated(ctx context.Context, item *Item)
	TaskDeleted(ctx context.Context, id core.ID, owner string)
	StateChanged(ctx context.Context, item *Item, details string)
	Progress(ctx context.Context, item *Item, update ProgressUpdate)
}

// Publishers fans every event out to each member in order.
type Publishers []EventPublisher

var _ EventPublisher = Publishers{}

func (p Publishers) TaskCreated(ctx context.Context, item *Item) {
	for _, pub := range p {
		pub.TaskCreated(ctx, item)
	}
}

func (p Publishers) TaskUpdated(ctx context.Context, item *Item) {
	for _, pub := range p {
		pub.TaskUpdated(ctx, item)
	}
}

func (p Publishers) TaskDeleted(ctx context.Context, id core.ID, owner string) {
	for _, pub := range p {
		pub.TaskDeleted(ctx, id, owner)
	}
}

func (p Publishers) StateChanged(ctx context.Context, item *Item, details string) {
	for _, pub := range p {
		pub.StateChanged(ctx, item, details)
	}
}

func (p Publishers) Progress(ctx context.Context, item *Item, update ProgressUpdate) {
	for _, pub := range p {
		pub.Progress(ctx, item, update)
	}
}

// NopPublisher discards every event. Useful as a default and in tests.
type NopPublisher struct{}

func (NopPublisher) TaskCreated(context.Context, *Item)              {}
func (NopPublisher) TaskUpdated(context.Context, *Item)              {}
func (NopPublisher) TaskDeleted(context.Context, core.ID, string)    {}
func (NopPublisher) StateChanged(context.Context, *Item, string)     {}
func (NopPublisher) Progress(context.Context, *Item, ProgressUpdate) {}

var _ EventPublisher = NopPublisher{}
