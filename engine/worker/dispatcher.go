package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/executor"
	"github.com/danmincu/pulstrate/engine/progress"
	"github.com/danmincu/pulstrate/engine/queue"
	"github.com/danmincu/pulstrate/engine/service"
	"github.com/danmincu/pulstrate/engine/task"
	"github.com/danmincu/pulstrate/pkg/logger"
)

const (
	// DefaultTaskTimeout bounds a single task's execution, parents included.
	DefaultTaskTimeout = 60 * time.Minute
	// DefaultPollInterval is the cadence of the parent watch loop.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultShutdownTimeout bounds how long Stop waits for workers to drain.
	DefaultShutdownTimeout = 30 * time.Second

	writeRetryBase = 50 * time.Millisecond
	writeRetryMax  = 1
)

// Options wires a Dispatcher. Repo, Mutator, Queue, Service, Executors,
// Gates, and Cancels are required; the rest default.
type Options struct {
	Repo       task.Repository
	Mutator    *task.Mutator
	Queue      *queue.Queue
	Service    *service.Service
	Executors  *executor.Registry
	Gates      *Gates
	Cancels    *CancelRegistry
	Events     task.EventPublisher
	Aggregator *progress.Aggregator
	Metrics    *Metrics

	TaskTimeout     time.Duration
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
}

// Dispatcher owns the dequeue loop. Each dequeued task runs on its own
// goroutine; leaves acquire a slot in their group's gate, parents release
// theirs before orchestrating children.
type Dispatcher struct {
	repo       task.Repository
	mutator    *task.Mutator
	queue      *queue.Queue
	svc        *service.Service
	executors  *executor.Registry
	gates      *Gates
	cancels    *CancelRegistry
	events     task.EventPublisher
	aggregator *progress.Aggregator
	metrics    *Metrics

	taskTimeout     time.Duration
	pollInterval    time.Duration
	shutdownTimeout time.Duration

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Repo == nil || opts.Mutator == nil || opts.Queue == nil {
		return nil, errors.New("worker: repository, mutator, and queue are required")
	}
	if opts.Service == nil {
		return nil, errors.New("worker: task service is required")
	}
	if opts.Executors == nil {
		return nil, errors.New("worker: executor registry is required")
	}
	if opts.Gates == nil {
		return nil, errors.New("worker: gates are required")
	}
	if opts.Cancels == nil {
		return nil, errors.New("worker: cancel registry is required")
	}
	d := &Dispatcher{
		repo:            opts.Repo,
		mutator:         opts.Mutator,
		queue:           opts.Queue,
		svc:             opts.Service,
		executors:       opts.Executors,
		gates:           opts.Gates,
		cancels:         opts.Cancels,
		events:          opts.Events,
		aggregator:      opts.Aggregator,
		metrics:         opts.Metrics,
		taskTimeout:     opts.TaskTimeout,
		pollInterval:    opts.PollInterval,
		shutdownTimeout: opts.ShutdownTimeout,
	}
	if d.events == nil {
		d.events = task.NopPublisher{}
	}
	if d.metrics == nil {
		d.metrics = &Metrics{}
	}
	if d.taskTimeout <= 0 {
		d.taskTimeout = DefaultTaskTimeout
	}
	if d.pollInterval <= 0 {
		d.pollInterval = DefaultPollInterval
	}
	if d.shutdownTimeout <= 0 {
		d.shutdownTimeout = DefaultShutdownTimeout
	}
	return d, nil
}

// Start launches the dispatch loop. It returns immediately; the loop runs
// until Stop is called or ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("worker: dispatcher already started")
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.started = true
	d.wg.Add(1)
	go d.loop()
	logger.FromContext(ctx).Info("Dispatcher started",
		"task_timeout", d.taskTimeout,
		"poll_interval", d.pollInterval)
	return nil
}

// Stop signals the loop and every worker to finish and waits for them to
// drain, bounded by the shutdown timeout.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	cancel := d.cancel
	d.mu.Unlock()
	cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	timeout := time.NewTimer(d.shutdownTimeout)
	defer timeout.Stop()
	select {
	case <-done:
		logger.FromContext(ctx).Info("Dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return fmt.Errorf("worker: shutdown timed out after %s", d.shutdownTimeout)
	}
}

// Running reports whether the dispatch loop is active.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		entry, err := d.queue.Dequeue(d.ctx)
		if err != nil {
			return
		}
		d.wg.Add(1)
		go d.run(entry)
	}
}

// run is the per-task worker. It acquires the group gate, reloads the task,
// and branches into the leaf or parent path. Tasks that left the queued state
// while waiting (cancelled, or re-enqueued and already dispatched) are
// dropped.
func (d *Dispatcher) run(entry queue.Entry) {
	defer d.wg.Done()
	ctx := d.ctx
	log := logger.FromContext(ctx).With("task_id", entry.TaskID, "group_id", entry.GroupID)

	gateStart := time.Now()
	release, err := d.gates.Acquire(ctx, entry.GroupID)
	if err != nil {
		return
	}
	defer release()
	d.metrics.ObserveGateWait(ctx, entry.GroupID, time.Since(gateStart))

	item, err := d.repo.Get(ctx, entry.TaskID)
	if err != nil {
		if !errors.Is(err, task.ErrTaskNotFound) {
			log.Error("Failed to load dequeued task", "error", err)
		}
		return
	}
	if item.State != core.StatusQueued {
		log.Debug("Skipping dequeued task no longer queued", "state", item.State)
		return
	}
	childCount, err := d.repo.CountChildren(ctx, item.ID)
	if err != nil {
		log.Error("Failed to count children of dequeued task", "error", err)
		return
	}

	d.metrics.OnDispatched(ctx, item.GroupID)
	defer d.metrics.OnWorkerDone(ctx)
	start := time.Now()
	if childCount > 0 {
		// Parent tasks do no work of their own. Holding the slot while
		// waiting for children would deadlock subtrees that share the
		// parent's group.
		release()
		d.runParent(ctx, item)
	} else {
		d.runLeaf(ctx, item)
	}
	d.metrics.ObserveExecution(ctx, item.Type, time.Since(start))
}

// markExecuting moves a queued task to executing and announces it. The update
// is skipped when the task raced to a terminal state first.
func (d *Dispatcher) markExecuting(ctx context.Context, id core.ID) (*task.Item, error) {
	updated, err := d.updateWithRetry(ctx, id, func(t *task.Item) error {
		if t.State != core.StatusQueued {
			return task.ErrSkipUpdate
		}
		t.MarkExecuting(time.Now().UTC())
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.events.StateChanged(ctx, updated, "")
	return updated, nil
}

// finish writes a terminal state unless one is already recorded, then
// announces the transition and triggers ancestor progress roll-up. The write
// survives shutdown cancellation so tasks never strand in executing.
func (d *Dispatcher) finish(ctx context.Context, id core.ID, state core.StatusType, details string) {
	writeCtx := context.WithoutCancel(ctx)
	updated, err := d.updateWithRetry(writeCtx, id, func(t *task.Item) error {
		if t.IsTerminal() {
			// An external cancel landed first; its state and event stand.
			return task.ErrSkipUpdate
		}
		t.MarkTerminal(state, details, time.Now().UTC())
		return nil
	})
	if err != nil {
		return
	}
	d.events.StateChanged(writeCtx, updated, details)
	if d.aggregator != nil {
		d.aggregator.ChildChanged(writeCtx, updated)
	}
	d.metrics.OnFinished(writeCtx, updated.State)
}

// updateWithRetry applies a mutation with one retry for transient store
// failures. Skipped updates and missing tasks are returned quietly; other
// failures are logged and swallowed so a worker never crashes on a store
// hiccup.
func (d *Dispatcher) updateWithRetry(ctx context.Context, id core.ID, fn func(*task.Item) error) (*task.Item, error) {
	var updated *task.Item
	err := retry.Do(ctx, retry.WithMaxRetries(writeRetryMax, retry.NewConstant(writeRetryBase)),
		func(ctx context.Context) error {
			var err error
			updated, err = d.mutator.Update(ctx, id, fn)
			if err == nil {
				return nil
			}
			if errors.Is(err, task.ErrSkipUpdate) || errors.Is(err, task.ErrTaskNotFound) {
				return err
			}
			return retry.RetryableError(err)
		})
	if err != nil {
		if !errors.Is(err, task.ErrSkipUpdate) && !errors.Is(err, task.ErrTaskNotFound) {
			logger.FromContext(ctx).Error("Task state write failed", "task_id", id, "error", err)
		}
		return nil, err
	}
	return updated, nil
}

// terminalFor maps an execution outcome to the task's terminal state. A
// context trip means timeout, shutdown, or external cancel; the pre-set
// cancelled state is preserved by finish, so the mapping here only
// distinguishes terminated from errored.
func terminalFor(execCtx context.Context, execErr error) (core.StatusType, string) {
	switch {
	case execErr == nil:
		return core.StatusCompleted, ""
	case execCtx.Err() != nil,
		errors.Is(execErr, context.Canceled),
		errors.Is(execErr, context.DeadlineExceeded):
		return core.StatusTerminated, task.DetailsTimedOutOrTerminated
	default:
		return core.StatusErrored, execErr.Error()
	}
}
