package streaming

import (
	"context"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/task"
	"github.com/danmincu/pulstrate/pkg/logger"
)

// Events adapts a Publisher to the task.EventPublisher contract. Publish
// failures are logged and swallowed; the engine treats event delivery as
// best effort.
type Events struct {
	pub Publisher
}

var _ task.EventPublisher = (*Events)(nil)

func NewEvents(pub Publisher) *Events {
	return &Events{pub: pub}
}

func (e *Events) TaskCreated(ctx context.Context, item *task.Item) {
	e.publish(ctx, item.ID, Event{Type: task.EventTaskCreated, Data: item})
}

func (e *Events) TaskUpdated(ctx context.Context, item *task.Item) {
	e.publish(ctx, item.ID, Event{Type: task.EventTaskUpdated, Data: item})
}

func (e *Events) TaskDeleted(ctx context.Context, id core.ID, owner string) {
	e.publish(ctx, id, Event{
		Type: task.EventTaskDeleted,
		Data: task.DeletedEvent{TaskID: id, OwnerID: owner},
	})
	// After the final event, release the task's stream resources so open
	// subscriptions terminate instead of idling.
	if f, ok := e.pub.(interface{ Forget(core.ID) }); ok {
		f.Forget(id)
	}
}

func (e *Events) StateChanged(ctx context.Context, item *task.Item, details string) {
	e.publish(ctx, item.ID, Event{
		Type: task.EventStateChanged,
		Data: task.StateChangedEvent{
			TaskID:   item.ID,
			OwnerID:  item.OwnerID,
			NewState: item.State,
			Details:  details,
		},
	})
}

func (e *Events) Progress(ctx context.Context, item *task.Item, update task.ProgressUpdate) {
	e.publish(ctx, item.ID, Event{
		Type: task.EventProgress,
		Data: task.ProgressEvent{
			TaskID:     item.ID,
			OwnerID:    item.OwnerID,
			Percentage: update.Percentage,
			Details:    update.Details,
			Payload:    update.Payload,
			Aggregated: update.Aggregated,
		},
	})
}

func (e *Events) publish(ctx context.Context, taskID core.ID, event Event) {
	if _, err := e.pub.Publish(ctx, taskID, event); err != nil {
		logger.FromContext(ctx).Warn("failed to publish task event",
			"task_id", taskID, "event_type", event.Type, "error", err)
	}
}
