package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/task"
	"github.com/danmincu/pulstrate/pkg/logger"
)

// UpdateQueued changes the priority and/or payload of a task that is still
// queued. A priority change re-enqueues the task, which re-sorts it into the
// back of its new priority band.
func (s *Service) UpdateQueued(ctx context.Context, owner string, id core.ID, req *task.UpdateRequest) (*task.Item, error) {
	if req == nil || (req.Priority == nil && req.Payload == nil) {
		return nil, fmt.Errorf("%w: nothing to update", task.ErrInvalidRequest)
	}
	updated, err := s.mutator.Update(ctx, id, func(item *task.Item) error {
		if item.OwnerID != owner {
			return fmt.Errorf("task %s: %w", id, task.ErrForbidden)
		}
		if item.State != core.StatusQueued {
			return fmt.Errorf("%w: task is %s, updates require %s",
				task.ErrInvalidState, item.State, core.StatusQueued)
		}
		if req.Priority != nil {
			item.Priority = *req.Priority
		}
		if req.Payload != nil {
			item.Payload = *req.Payload
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if req.Priority != nil {
		s.enqueue(updated)
	}
	s.events.TaskUpdated(ctx, updated)
	return updated, nil
}

// Cancel moves a queued or executing task to Cancelled. Queued tasks are
// tombstoned in the queue; executing tasks get their cancel signal fired and
// transition immediately, before the worker observes the signal. Cancelling
// an already terminal task is a no-op returning the current snapshot.
// Children are not touched; see CancelSubtree.
func (s *Service) Cancel(ctx context.Context, owner string, id core.ID) (*task.Item, error) {
	item, changed, err := s.cancelOne(ctx, owner, id, task.DetailsCancelledByUser)
	if err != nil {
		return nil, err
	}
	if changed {
		logger.FromContext(ctx).Info("task cancelled", "task_id", id)
	}
	return item, nil
}

// CancelSubtree cancels every live descendant leaves-first, then the task
// itself. Each state change emits its own event; descendants record a
// cascade detail, the root records the subtree detail.
func (s *Service) CancelSubtree(ctx context.Context, owner string, id core.ID) (*task.Item, error) {
	if _, err := s.loadOwned(ctx, owner, id); err != nil {
		return nil, err
	}
	descendants, err := s.repo.ListDescendants(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list descendants: %w", err)
	}
	for i := len(descendants) - 1; i >= 0; i-- {
		if _, _, err := s.cancelOne(ctx, owner, descendants[i].ID, task.DetailsCancelledCascade); err != nil {
			if errors.Is(err, task.ErrTaskNotFound) {
				continue
			}
			return nil, err
		}
	}
	item, _, err := s.cancelOne(ctx, owner, id, task.DetailsCancelledWithSubtree)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("task subtree cancelled",
		"task_id", id, "descendants", len(descendants))
	return item, nil
}

// Delete removes a single task, cancelling it first when it is still live.
func (s *Service) Delete(ctx context.Context, owner string, id core.ID) error {
	item, err := s.loadOwned(ctx, owner, id)
	if err != nil {
		return err
	}
	if !item.IsTerminal() {
		if _, _, err := s.cancelOne(ctx, owner, id, task.DetailsCancelledByUser); err != nil {
			return err
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	s.events.TaskDeleted(ctx, id, owner)
	logger.FromContext(ctx).Info("task deleted", "task_id", id)
	return nil
}

// DeleteSubtree cancels the subtree, removes it from the repository leaves
// first, and emits one Deleted event per removed node.
func (s *Service) DeleteSubtree(ctx context.Context, owner string, id core.ID) error {
	if _, err := s.CancelSubtree(ctx, owner, id); err != nil {
		return err
	}
	removed, err := s.repo.DeleteSubtree(ctx, id)
	if err != nil {
		return fmt.Errorf("delete subtree: %w", err)
	}
	for _, removedID := range removed {
		s.events.TaskDeleted(ctx, removedID, owner)
	}
	logger.FromContext(ctx).Info("task subtree deleted",
		"task_id", id, "removed", len(removed))
	return nil
}
