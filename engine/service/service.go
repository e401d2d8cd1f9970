// Package service implements the public task operations: creation (single
// and hierarchical), queries, cancellation, deletion, dynamic subtasks, and
// queued-payload rewriting. The dispatcher consumes the same operations the
// HTTP layer does.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/progress"
	"github.com/danmincu/pulstrate/engine/queue"
	"github.com/danmincu/pulstrate/engine/task"
)

// Canceller fires the cancellation signal of an executing task. The
// dispatcher's cancel registry implements it; Cancel reports whether a
// signal was registered for the id.
type Canceller interface {
	Cancel(id core.ID) bool
}

type nopCanceller struct{}

func (nopCanceller) Cancel(core.ID) bool { return false }

// Options wires a Service. Repo, Mutator, and Queue are required; the rest
// default to no-ops so partial assemblies work in tests.
type Options struct {
	Repo       task.Repository
	Mutator    *task.Mutator
	Queue      *queue.Queue
	Events     task.EventPublisher
	Aggregator *progress.Aggregator
	Canceller  Canceller
}

// Service coordinates the repository, queue, event publisher, and progress
// aggregator behind the engine's task operations.
type Service struct {
	repo       task.Repository
	mutator    *task.Mutator
	queue      *queue.Queue
	events     task.EventPublisher
	aggregator *progress.Aggregator
	canceller  Canceller
}

func New(opts Options) (*Service, error) {
	if opts.Repo == nil {
		return nil, errors.New("service: repository is required")
	}
	if opts.Mutator == nil {
		return nil, errors.New("service: mutator is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("service: queue is required")
	}
	s := &Service{
		repo:       opts.Repo,
		mutator:    opts.Mutator,
		queue:      opts.Queue,
		events:     opts.Events,
		aggregator: opts.Aggregator,
		canceller:  opts.Canceller,
	}
	if s.events == nil {
		s.events = task.NopPublisher{}
	}
	if s.canceller == nil {
		s.canceller = nopCanceller{}
	}
	return s, nil
}

func (s *Service) enqueue(item *task.Item) {
	s.queue.Enqueue(queue.Entry{
		TaskID:   item.ID,
		GroupID:  item.GroupID,
		Priority: item.Priority,
	})
}

func (s *Service) notifyAggregator(ctx context.Context, item *task.Item) {
	if s.aggregator != nil {
		s.aggregator.ChildChanged(ctx, item)
	}
}

// resolveParent loads and checks the parent named by req, if any. A missing
// or foreign-owned parent is reported identically so callers cannot probe
// for other owners' task ids.
func (s *Service) resolveParent(ctx context.Context, owner string, req *task.CreateRequest) (*task.Item, error) {
	if req.ParentTaskID == nil {
		return nil, nil
	}
	parent, err := s.repo.Get(ctx, *req.ParentTaskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			return nil, fmt.Errorf("%w: parent task %s not found", task.ErrInvalidRequest, *req.ParentTaskID)
		}
		return nil, fmt.Errorf("load parent task: %w", err)
	}
	if parent.OwnerID != owner {
		return nil, fmt.Errorf("%w: parent task %s not found", task.ErrInvalidRequest, *req.ParentTaskID)
	}
	return parent, nil
}

// inherit copies the parent-derived fields onto a freshly built child.
func inherit(child, parent *task.Item, requestedGroup string) {
	child.RootTaskID = parent.RootTaskID
	child.AuthToken = parent.AuthToken
	child.TrackHistory = parent.TrackHistory
	if requestedGroup == "" {
		child.GroupID = parent.GroupID
	}
}

// cancelOne transitions a single task to Cancelled with the given details,
// tombstoning its queue entry or firing its cancel signal as appropriate.
// Terminal tasks are left untouched. It reports whether a transition
// happened and returns the task's current snapshot.
func (s *Service) cancelOne(ctx context.Context, owner string, id core.ID, details string) (*task.Item, bool, error) {
	updated, err := s.mutator.Update(ctx, id, func(item *task.Item) error {
		if item.OwnerID != owner {
			return fmt.Errorf("task %s: %w", id, task.ErrForbidden)
		}
		if item.IsTerminal() {
			return task.ErrSkipUpdate
		}
		switch item.State {
		case core.StatusQueued:
			s.queue.TryCancel(id)
		case core.StatusExecuting:
			s.canceller.Cancel(id)
		}
		item.MarkTerminal(core.StatusCancelled, details, time.Now().UTC())
		return nil
	})
	if err != nil {
		if errors.Is(err, task.ErrSkipUpdate) {
			return updated, false, nil
		}
		return nil, false, err
	}
	s.events.StateChanged(ctx, updated, updated.StateDetails)
	s.notifyAggregator(ctx, updated)
	return updated, true, nil
}

// loadOwned fetches a task and verifies ownership.
func (s *Service) loadOwned(ctx context.Context, owner string, id core.ID) (*task.Item, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.OwnerID != owner {
		return nil, fmt.Errorf("task %s: %w", id, task.ErrForbidden)
	}
	return item, nil
}
