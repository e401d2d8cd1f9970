package worker

import (
	"context"
	"sync"

	"github.com/danmincu/pulstrate/engine/core"
)

// CancelRegistry tracks the cancel function of every running task so external
// cancellation can reach in-flight work. The task service fires these through
// its Canceller dependency.
type CancelRegistry struct {
	mu      sync.Mutex
	running map[core.ID]context.CancelFunc
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{running: make(map[core.ID]context.CancelFunc)}
}

// Register records the cancel function for a task about to execute.
func (r *CancelRegistry) Register(id core.ID, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[id] = cancel
}

// Unregister forgets a task after its worker finishes. The cancel function is
// not invoked; the worker owns that via defer.
func (r *CancelRegistry) Unregister(id core.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, id)
}

// Cancel fires the cancel function registered for id, reporting whether one
// was found. Safe to call multiple times.
func (r *CancelRegistry) Cancel(id core.ID) bool {
	r.mu.Lock()
	cancel, ok := r.running[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Len reports how many tasks currently hold a registered cancel function.
func (r *CancelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}
