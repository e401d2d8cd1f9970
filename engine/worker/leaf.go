package worker

import (
	"context"
	"fmt"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/executor"
	"github.com/danmincu/pulstrate/engine/task"
	"github.com/danmincu/pulstrate/pkg/logger"
)

// runLeaf executes a task with no children on its registered executor. The
// caller holds the group gate for the whole call.
func (d *Dispatcher) runLeaf(ctx context.Context, item *task.Item) {
	log := logger.FromContext(ctx).With("task_id", item.ID, "type", item.Type)

	exec, ok := d.executors.Lookup(item.Type)
	if !ok {
		log.Warn("No executor registered for task type")
		d.finish(ctx, item.ID, core.StatusErrored, task.NoExecutorDetails(item.Type))
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, d.taskTimeout)
	defer cancel()
	d.cancels.Register(item.ID, cancel)
	defer d.cancels.Unregister(item.ID)

	started, err := d.markExecuting(ctx, item.ID)
	if err != nil {
		return
	}
	log.Debug("Task executing")

	sink := d.newLeafSink(ctx, started)
	execErr := d.invoke(execCtx, exec, started, sink)
	state, details := terminalFor(execCtx, execErr)
	d.finish(ctx, item.ID, state, details)
	log.Debug("Task finished", "state", state)
}

// invoke runs the executor, converting a panic into an error so one
// misbehaving executor cannot take the process down.
func (d *Dispatcher) invoke(
	ctx context.Context,
	exec executor.Executor,
	item *task.Item,
	sink executor.ProgressSink,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("Executor panicked",
				"task_id", item.ID, "type", item.Type, "panic", r)
			err = core.NewError(fmt.Errorf("executor panicked: %v", r), "EXECUTOR_PANIC", nil)
		}
	}()
	return exec.Execute(ctx, item, sink)
}

// leafSink persists and fans out the progress reports of one running leaf.
// The parent snapshot and its progress hook are resolved once at start.
type leafSink struct {
	d      *Dispatcher
	ctx    context.Context
	item   *task.Item
	parent *task.Item
	hook   executor.SubtaskProgressHook
}

func (d *Dispatcher) newLeafSink(ctx context.Context, item *task.Item) *leafSink {
	s := &leafSink{d: d, ctx: ctx, item: item}
	if item.ParentTaskID == nil {
		return s
	}
	parent, err := d.repo.Get(ctx, *item.ParentTaskID)
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to load parent for progress hook",
			"task_id", item.ID, "parent_task_id", *item.ParentTaskID, "error", err)
		return s
	}
	s.parent = parent
	if exec, ok := d.executors.Lookup(parent.Type); ok {
		if hook, ok := exec.(executor.SubtaskProgressHook); ok {
			s.hook = hook
		}
	}
	return s
}

// Report writes the progress fields, publishes the event, rolls the update up
// to ancestors, and forwards it to the parent's progress hook. Reports after
// the task reached a terminal state are dropped.
func (s *leafSink) Report(ctx context.Context, percentage float64, opts ...executor.ReportOption) {
	update := task.ProgressUpdate{Percentage: clampProgress(percentage)}
	for _, opt := range opts {
		opt(&update)
	}
	updated, err := s.d.mutator.Update(s.ctx, s.item.ID, func(t *task.Item) error {
		if t.IsTerminal() {
			return task.ErrSkipUpdate
		}
		t.Progress = update.Percentage
		t.ProgressDetails = update.Details
		t.ProgressPayload = update.Payload
		return nil
	})
	if err != nil {
		return
	}
	s.d.events.Progress(s.ctx, updated, update)
	if s.d.aggregator != nil {
		s.d.aggregator.ChildChanged(s.ctx, updated)
	}
	if s.hook != nil {
		s.hook.OnSubtaskProgress(ctx, s.parent, updated, update)
	}
}

func clampProgress(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

var _ executor.ProgressSink = (*leafSink)(nil)
