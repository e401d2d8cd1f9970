// Package progress rolls child progress up through the task hierarchy.
package progress

import (
	"context"
	"errors"

	"github.com/danmincu/pulstrate/engine/task"
	"github.com/danmincu/pulstrate/pkg/logger"
)

// Aggregator recomputes parent progress whenever a child reports progress or
// reaches a terminal state. A parent's progress is the weighted average of
// its immediate children; a completed child contributes 100 regardless of
// its last report, and a child that failed or was cancelled contributes its
// progress at that moment. Updates bubble to every ancestor.
type Aggregator struct {
	repo    task.Repository
	mutator *task.Mutator
	events  task.EventPublisher
}

func NewAggregator(repo task.Repository, mutator *task.Mutator, events task.EventPublisher) *Aggregator {
	return &Aggregator{repo: repo, mutator: mutator, events: events}
}

// ChildChanged walks from child's parent to the root, recomputing and
// persisting each ancestor's progress and publishing an aggregated progress
// event per ancestor. The walk stops at a terminal ancestor: its progress is
// frozen at the terminal snapshot, so nothing above it can change either.
func (a *Aggregator) ChildChanged(ctx context.Context, child *task.Item) {
	current := child
	for current != nil && current.ParentTaskID != nil {
		parentID := *current.ParentTaskID
		var update task.ProgressUpdate
		parent, err := a.mutator.Update(ctx, parentID, func(p *task.Item) error {
			if p.State.IsTerminal() {
				return task.ErrSkipUpdate
			}
			children, err := a.repo.ListChildren(ctx, parentID)
			if err != nil {
				return err
			}
			if len(children) == 0 {
				return task.ErrSkipUpdate
			}
			pct := Weighted(children)
			p.Progress = pct
			p.ProgressDetails = task.AggregatedDetails(len(children))
			p.ProgressPayload = ""
			update = task.ProgressUpdate{
				Percentage: pct,
				Details:    p.ProgressDetails,
				Aggregated: true,
			}
			return nil
		})
		if err != nil {
			if !errors.Is(err, task.ErrSkipUpdate) && !errors.Is(err, task.ErrTaskNotFound) {
				logger.FromContext(ctx).Error("failed to aggregate progress",
					"parent_id", parentID, "error", err)
			}
			return
		}
		a.events.Progress(ctx, parent, update)
		current = parent
	}
}

// Weighted returns the weighted average progress of the given children,
// counting completed children as 100. Zero total weight yields 0.
func Weighted(children []*task.Item) float64 {
	var total float64
	for _, c := range children {
		total += c.Weight
	}
	if total <= 0 {
		return 0
	}
	var sum float64
	for _, c := range children {
		sum += (c.Weight / total) * c.EffectiveProgress()
	}
	return sum
}
