package service

import (
	"context"
	"fmt"
	"time"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/task"
	"github.com/danmincu/pulstrate/pkg/logger"
)

// AddSubtask appends one dynamic child to an executing parent.
func (s *Service) AddSubtask(ctx context.Context, owner string, parentID core.ID, req *task.CreateRequest) (*task.Item, error) {
	items, err := s.AddSubtasks(ctx, owner, parentID, []task.CreateRequest{*req})
	if err != nil {
		return nil, err
	}
	return items[0], nil
}

// AddSubtasks appends dynamic children to an executing parent and returns
// them in input order. Each child inherits the parent's root id, auth token,
// and history flag, falls back to the parent's group, is enqueued
// immediately, and joins the parent's watch set. The parent's aggregated
// progress is recomputed once per child.
func (s *Service) AddSubtasks(ctx context.Context, owner string, parentID core.ID, reqs []task.CreateRequest) ([]*task.Item, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: no subtasks given", task.ErrInvalidRequest)
	}
	parent, err := s.loadOwned(ctx, owner, parentID)
	if err != nil {
		return nil, err
	}
	if parent.State != core.StatusExecuting {
		return nil, fmt.Errorf("%w: parent is %s, subtasks require %s",
			task.ErrInvalidState, parent.State, core.StatusExecuting)
	}
	now := time.Now().UTC()
	items := make([]*task.Item, 0, len(reqs))
	for i := range reqs {
		req := reqs[i]
		req.ParentTaskID = &parent.ID
		item, err := task.NewItem(&req, owner, parent.AuthToken, now)
		if err != nil {
			return nil, err
		}
		inherit(item, parent, req.GroupID)
		if err := s.repo.Put(ctx, item); err != nil {
			return nil, fmt.Errorf("store subtask: %w", err)
		}
		items = append(items, item)
		s.enqueue(item)
		s.events.TaskCreated(ctx, item)
		s.notifyAggregator(ctx, item)
	}
	logger.FromContext(ctx).Debug("subtasks added",
		"parent_id", parentID, "count", len(items))
	return items, nil
}

// SetOutput stores the task's output bytes. Executors call it to hand
// results to parent hooks; no event is emitted.
func (s *Service) SetOutput(ctx context.Context, owner string, id core.ID, output []byte) (*task.Item, error) {
	updated, err := s.mutator.Update(ctx, id, func(item *task.Item) error {
		if item.OwnerID != owner {
			return fmt.Errorf("task %s: %w", id, task.ErrForbidden)
		}
		item.Output = output
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateQueuedPayload replaces the payload of a still-queued task. It is the
// data-passing path for sequential orchestration hooks and emits no event.
func (s *Service) UpdateQueuedPayload(ctx context.Context, owner string, id core.ID, payload string) (*task.Item, error) {
	updated, err := s.mutator.Update(ctx, id, func(item *task.Item) error {
		if item.OwnerID != owner {
			return fmt.Errorf("task %s: %w", id, task.ErrForbidden)
		}
		if item.State != core.StatusQueued {
			return fmt.Errorf("%w: task is %s, payload updates require %s",
				task.ErrInvalidState, item.State, core.StatusQueued)
		}
		item.Payload = payload
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
