package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/executor"
	"github.com/danmincu/pulstrate/engine/queue"
	"github.com/danmincu/pulstrate/engine/task"
	"github.com/danmincu/pulstrate/pkg/logger"
)

var errChildrenRunning = errors.New("children still running")

// runParent orchestrates a task with children. The group gate was released by
// the caller; the parent only watches, so it must not occupy a slot its own
// children may need.
func (d *Dispatcher) runParent(ctx context.Context, item *task.Item) {
	log := logger.FromContext(ctx).With("task_id", item.ID, "type", item.Type)

	execCtx, cancel := context.WithTimeout(ctx, d.taskTimeout)
	defer cancel()
	d.cancels.Register(item.ID, cancel)
	defer d.cancels.Unregister(item.ID)

	parent, err := d.markExecuting(ctx, item.ID)
	if err != nil {
		return
	}
	children, err := d.repo.ListChildren(ctx, parent.ID)
	if err != nil {
		log.Error("Failed to list children", "error", err)
		d.finish(ctx, parent.ID, core.StatusErrored, fmt.Sprintf("load children: %v", err))
		return
	}
	log.Debug("Parent orchestrating",
		"children", len(children), "parallel", parent.SubtaskParallelism)

	o := d.newOrchestration(parent)
	if parent.SubtaskParallelism {
		for _, child := range children {
			if child.State == core.StatusQueued {
				d.enqueueChild(child)
			}
		}
	} else {
		for _, child := range children {
			o.pending = append(o.pending, child.ID)
			o.pendingSet[child.ID] = true
		}
	}

	final, err := o.watch(execCtx)
	if err != nil {
		// The context tripped: timeout, shutdown, or an external cancel
		// that already wrote the cancelled state (which finish preserves).
		d.finish(ctx, parent.ID, core.StatusTerminated, task.DetailsTimedOutOrTerminated)
		return
	}
	d.completeParent(execCtx, parent, final, o.failedCount(final))
	log.Debug("Parent finished", "children", len(final))
}

// completeParent maps the children's final states onto the parent and fires
// the success hook when every child completed.
func (d *Dispatcher) completeParent(ctx context.Context, parent *task.Item, children []*task.Item, failed int) {
	if failed > 0 {
		d.finish(ctx, parent.ID, core.StatusErrored, task.ChildFailureDetails(failed))
		return
	}
	if hook := d.completionHook(parent.Type); hook != nil {
		if err := hook.OnAllSubtasksSucceeded(ctx, parent, children); err != nil {
			state, details := terminalFor(ctx, err)
			d.finish(ctx, parent.ID, state, details)
			return
		}
	}
	d.finish(ctx, parent.ID, core.StatusCompleted, "")
}

func (d *Dispatcher) enqueueChild(child *task.Item) {
	d.queue.Enqueue(queue.Entry{
		TaskID:   child.ID,
		GroupID:  child.GroupID,
		Priority: child.Priority,
	})
}

func (d *Dispatcher) completionHook(taskType string) executor.SubtaskCompletionHook {
	exec, ok := d.executors.Lookup(taskType)
	if !ok {
		return nil
	}
	hook, _ := exec.(executor.SubtaskCompletionHook)
	return hook
}

// orchestration tracks one parent's watch over its children: observed states,
// hook bookkeeping, and the launch order for sequential mode.
type orchestration struct {
	d          *Dispatcher
	parent     *task.Item
	stateHook  executor.SubtaskStateHook
	termHook   executor.SubtaskTerminalHook
	lastState  map[core.ID]core.StatusType
	processed  map[core.ID]bool
	superseded map[core.ID]bool
	pending    []core.ID
	pendingSet map[core.ID]bool
	sequential bool
}

func (d *Dispatcher) newOrchestration(parent *task.Item) *orchestration {
	o := &orchestration{
		d:          d,
		parent:     parent,
		lastState:  make(map[core.ID]core.StatusType),
		processed:  make(map[core.ID]bool),
		superseded: make(map[core.ID]bool),
		pendingSet: make(map[core.ID]bool),
		sequential: !parent.SubtaskParallelism,
	}
	// Parents tolerate an unregistered type: they orchestrate without hooks.
	if exec, ok := d.executors.Lookup(parent.Type); ok {
		o.stateHook, _ = exec.(executor.SubtaskStateHook)
		o.termHook, _ = exec.(executor.SubtaskTerminalHook)
	}
	return o
}

// watch polls the immediate children until every one of them is terminal,
// firing the terminal hooks exactly once per child and launching sequential
// siblings one at a time. Children added while watching, whether by hooks or
// through the API, join the set on the next poll.
func (o *orchestration) watch(ctx context.Context) ([]*task.Item, error) {
	var final []*task.Item
	err := retry.Do(ctx, retry.NewConstant(o.d.pollInterval), func(ctx context.Context) error {
		children, err := o.d.repo.ListChildren(ctx, o.parent.ID)
		if err != nil {
			return retry.RetryableError(err)
		}
		if o.observe(ctx, children) {
			// New subtasks were appended; re-list before judging completion.
			return retry.RetryableError(errChildrenRunning)
		}
		if o.sequential {
			o.launchNext(children)
		}
		for _, child := range children {
			if !child.IsTerminal() {
				return retry.RetryableError(errChildrenRunning)
			}
		}
		if len(o.pending) > 0 {
			return retry.RetryableError(errChildrenRunning)
		}
		final = children
		return nil
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

// observe updates the per-child state tracking and fires the state-change and
// terminal hooks for children newly seen in a terminal state. It reports
// whether the terminal hook appended new subtasks.
func (o *orchestration) observe(ctx context.Context, children []*task.Item) bool {
	log := logger.FromContext(ctx)
	added := false
	for _, child := range children {
		last, seen := o.lastState[child.ID]
		if !seen {
			last = core.StatusQueued
		}
		o.lastState[child.ID] = child.State
		if !child.IsTerminal() || o.processed[child.ID] {
			continue
		}
		o.processed[child.ID] = true
		change := task.StateChange{From: last, To: child.State, Details: child.StateDetails}
		if o.stateHook != nil {
			o.stateHook.OnSubtaskStateChange(ctx, o.parent, child, change)
		}
		if o.termHook == nil {
			continue
		}
		reqs, err := o.termHook.OnSubtaskTerminal(ctx, o.parent, child, change)
		if err != nil {
			log.Warn("Subtask terminal hook failed",
				"parent_task_id", o.parent.ID, "child_task_id", child.ID, "error", err)
		}
		if len(reqs) == 0 {
			continue
		}
		if _, err := o.d.svc.AddSubtasks(ctx, o.parent.OwnerID, o.parent.ID, reqs); err != nil {
			log.Error("Failed to append dynamic subtasks",
				"parent_task_id", o.parent.ID, "child_task_id", child.ID, "error", err)
			continue
		}
		added = true
		if child.State != core.StatusCompleted {
			// The hook answered this child's failure with replacements
			// (retries); the failure no longer counts against the parent.
			o.superseded[child.ID] = true
		}
	}
	return added
}

// failedCount tallies children that neither completed nor were superseded by
// hook-spawned replacements.
func (o *orchestration) failedCount(children []*task.Item) int {
	failed := 0
	for _, child := range children {
		if child.State == core.StatusCompleted || o.superseded[child.ID] {
			continue
		}
		failed++
	}
	return failed
}

// launchNext enqueues the next sequential sibling once nothing else under the
// parent is running. Dynamic subtasks are never in the pending list, so they
// hold back the remaining siblings until they finish.
func (o *orchestration) launchNext(children []*task.Item) {
	if len(o.pending) == 0 {
		return
	}
	for _, child := range children {
		if !child.IsTerminal() && !o.pendingSet[child.ID] {
			return
		}
	}
	next := o.pending[0]
	o.pending = o.pending[1:]
	delete(o.pendingSet, next)
	for _, child := range children {
		if child.ID != next {
			continue
		}
		if !child.IsTerminal() {
			o.d.enqueueChild(child)
		}
		return
	}
}
