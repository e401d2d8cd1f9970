// Package memstore provides the in-memory task repository. It backs tests
// and single-node deployments that run without a database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/task"
)

// Store is a task.Repository held entirely in process memory. Items are
// deep-copied on the way in and out, so callers never share state with the
// store. A per-parent child index preserves creation order.
type Store struct {
	mu       sync.RWMutex
	items    map[core.ID]*task.Item
	children map[core.ID][]core.ID
	inserted map[core.ID]uint64
	seq      uint64
}

var _ task.Repository = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		items:    make(map[core.ID]*task.Item),
		children: make(map[core.ID][]core.ID),
		inserted: make(map[core.ID]uint64),
	}
}

func (s *Store) Get(_ context.Context, id core.ID) (*task.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, task.ErrTaskNotFound)
	}
	return item.Clone(), nil
}

func (s *Store) Put(_ context.Context, item *task.Item) error {
	if item == nil || item.ID.IsZero() {
		return fmt.Errorf("task item requires an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(item)
	return nil
}

func (s *Store) Delete(_ context.Context, id core.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(id)
	return nil
}

func (s *Store) ListByOwner(_ context.Context, owner string) ([]*task.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*task.Item
	for _, item := range s.items {
		if item.OwnerID == owner {
			out = append(out, item.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.inserted[out[i].ID] > s.inserted[out[j].ID]
	})
	return out, nil
}

func (s *Store) ListChildren(_ context.Context, parent core.ID) ([]*task.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.children[parent]
	out := make([]*task.Item, 0, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out = append(out, item.Clone())
		}
	}
	return out, nil
}

func (s *Store) ListDescendants(_ context.Context, root core.ID) ([]*task.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.Item, 0)
	for _, id := range s.descendantsLocked(root) {
		if item, ok := s.items[id]; ok {
			out = append(out, item.Clone())
		}
	}
	return out, nil
}

func (s *Store) CountChildren(_ context.Context, parent core.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.children[parent]), nil
}

func (s *Store) AddBatch(_ context.Context, items []*task.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Validate everything up front so the batch is all-or-nothing.
	seen := make(map[core.ID]bool, len(items))
	for _, item := range items {
		if item == nil || item.ID.IsZero() {
			return fmt.Errorf("task item requires an id")
		}
		if seen[item.ID] {
			return fmt.Errorf("duplicate task id %s in batch", item.ID)
		}
		if _, ok := s.items[item.ID]; ok {
			return fmt.Errorf("task %s already exists", item.ID)
		}
		seen[item.ID] = true
	}
	for _, item := range items {
		s.putLocked(item)
	}
	return nil
}

func (s *Store) DeleteSubtree(_ context.Context, root core.ID) ([]core.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[root]; !ok {
		return nil, fmt.Errorf("task %s: %w", root, task.ErrTaskNotFound)
	}
	descendants := s.descendantsLocked(root)
	// Leaves first: reverse BFS order, then the root itself.
	removed := make([]core.ID, 0, len(descendants)+1)
	for i := len(descendants) - 1; i >= 0; i-- {
		s.deleteLocked(descendants[i])
		removed = append(removed, descendants[i])
	}
	s.deleteLocked(root)
	removed = append(removed, root)
	return removed, nil
}

func (s *Store) putLocked(item *task.Item) {
	stored := item.Clone()
	stored.UpdatedAt = time.Now().UTC()
	prev, exists := s.items[item.ID]
	if exists {
		// Reparenting is not a thing the engine does; drop the stale edge if
		// a caller did it anyway.
		if !sameParent(prev.ParentTaskID, stored.ParentTaskID) {
			s.unlink(prev.ParentTaskID, item.ID)
			s.link(stored.ParentTaskID, item.ID)
		}
	} else {
		s.seq++
		s.inserted[item.ID] = s.seq
		s.link(stored.ParentTaskID, item.ID)
	}
	s.items[item.ID] = stored
}

func (s *Store) deleteLocked(id core.ID) {
	item, ok := s.items[id]
	if !ok {
		return
	}
	s.unlink(item.ParentTaskID, id)
	delete(s.items, id)
	delete(s.inserted, id)
	if len(s.children[id]) == 0 {
		delete(s.children, id)
	}
}

// descendantsLocked returns every task below root in BFS order, root excluded.
func (s *Store) descendantsLocked(root core.ID) []core.ID {
	var out []core.ID
	frontier := append([]core.ID(nil), s.children[root]...)
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		out = append(out, id)
		frontier = append(frontier, s.children[id]...)
	}
	return out
}

func (s *Store) link(parent *core.ID, child core.ID) {
	if parent == nil {
		return
	}
	s.children[*parent] = append(s.children[*parent], child)
}

func (s *Store) unlink(parent *core.ID, child core.ID) {
	if parent == nil {
		return
	}
	ids := s.children[*parent]
	for i, id := range ids {
		if id == child {
			s.children[*parent] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.children[*parent]) == 0 {
		delete(s.children, *parent)
	}
}

func sameParent(a, b *core.ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
