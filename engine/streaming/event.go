package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/task"
)

// Event captures a logical task event before transport encoding.
type Event struct {
	Type task.EventType
	Data any
}

// Envelope is the transport representation persisted and broadcast to
// subscribers. ID is monotonic per task and lets clients resume a stream
// after the last envelope they saw.
type Envelope struct {
	ID        int64           `json:"id"`
	TaskID    core.ID         `json:"task_id"`
	Type      task.EventType  `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Data      json.RawMessage `json:"data"`
}

// Publisher publishes and replays task events.
type Publisher interface {
	Publish(ctx context.Context, taskID core.ID, event Event) (Envelope, error)
	Replay(ctx context.Context, taskID core.ID, afterID int64, limit int) ([]Envelope, error)
	Channel(taskID core.ID) string
}

// Subscription is a live event feed for one task. Close must be safe to call
// multiple times.
type Subscription interface {
	Events() <-chan Envelope
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Subscriber attaches live feeds to task event channels.
type Subscriber interface {
	Subscribe(ctx context.Context, taskID core.ID) (Subscription, error)
}

// Hub is a publisher whose events can also be subscribed to.
type Hub interface {
	Publisher
	Subscriber
}

// NewEnvelope constructs an envelope from the provided event data.
func NewEnvelope(id int64, taskID core.ID, event Event, ts time.Time) (Envelope, error) {
	if taskID.IsZero() {
		return Envelope{}, fmt.Errorf("streaming: task id is required")
	}
	if event.Type == "" {
		return Envelope{}, fmt.Errorf("streaming: event type is required")
	}
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return Envelope{}, fmt.Errorf("streaming: marshal payload: %w", err)
	}
	return Envelope{
		ID:        id,
		TaskID:    taskID,
		Type:      event.Type,
		Timestamp: ts.UTC(),
		Data:      payload,
	}, nil
}
