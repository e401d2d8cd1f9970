// Package worker runs the dispatch loop that turns queued tasks into running
// work. A single goroutine consumes the priority queue and hands each task to
// its own worker goroutine; per-group semaphores bound how many leaves execute
// at once, and parent tasks orchestrate their children without holding a slot.
package worker

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/danmincu/pulstrate/engine/group"
)

// Gates maps group ids to counting semaphores sized from the group registry.
// A gate is created the first time its group is dispatched; later changes to
// a group's parallelism apply only to groups not yet encountered.
type Gates struct {
	mu     sync.Mutex
	groups *group.Registry
	gates  map[string]*semaphore.Weighted
}

func NewGates(groups *group.Registry) *Gates {
	return &Gates{
		groups: groups,
		gates:  make(map[string]*semaphore.Weighted),
	}
}

// Acquire blocks until a slot in the group's gate is free or ctx is done.
// The returned release function is idempotent.
func (g *Gates) Acquire(ctx context.Context, groupID string) (func(), error) {
	sem := g.gate(groupID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, nil
}

// TryAcquire grabs a slot without blocking.
func (g *Gates) TryAcquire(groupID string) (func(), bool) {
	sem := g.gate(groupID)
	if !sem.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, true
}

func (g *Gates) gate(groupID string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sem, ok := g.gates[groupID]; ok {
		return sem
	}
	capacity := g.groups.MaxParallelism(groupID)
	if capacity <= 0 {
		capacity = group.DefaultMaxParallelism
	}
	sem := semaphore.NewWeighted(int64(capacity))
	g.gates[groupID] = sem
	return sem
}
