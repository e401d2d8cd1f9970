package task

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/danmincu/pulstrate/engine/core"
)

// ErrSkipUpdate aborts a Mutator.Update without writing. Update returns it
// to the caller together with the unmodified snapshot, so callers can tell a
// skipped write from an applied one.
var ErrSkipUpdate = errors.New("update skipped")

// Mutator serializes read-modify-write cycles per task id. The repository is
// last-writer-wins, so concurrent whole-item writes (a progress report racing
// a cancellation, an aggregation racing a parent's terminal write) could
// resurrect stale state; funneling every such write through one Mutator
// removes that window. Locks are striped, so unrelated tasks rarely contend.
type Mutator struct {
	repo   Repository
	shards [64]sync.Mutex
}

func NewMutator(repo Repository) *Mutator {
	return &Mutator{repo: repo}
}

// Update loads the task, applies fn, and writes the result back, all under
// the task's lock. fn may return ErrSkipUpdate to keep the stored item
// untouched; Update then returns the loaded snapshot alongside that error.
func (m *Mutator) Update(ctx context.Context, id core.ID, fn func(*Item) error) (*Item, error) {
	shard := m.shard(id)
	shard.Lock()
	defer shard.Unlock()
	item, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(item); err != nil {
		if errors.Is(err, ErrSkipUpdate) {
			return item, err
		}
		return nil, err
	}
	if err := m.repo.Put(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (m *Mutator) shard(id core.ID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &m.shards[h.Sum32()%uint32(len(m.shards))]
}
