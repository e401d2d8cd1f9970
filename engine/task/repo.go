package task

import (
	"context"
	"errors"

	"github.com/danmincu/pulstrate/engine/core"
)

// ErrTaskNotFound is returned by repositories when no task matches an id.
var ErrTaskNotFound = errors.New("task not found")

// Repository stores task items and their parent/child edges. All operations
// are safe under concurrent readers and writers; Put is last-writer-wins per
// id. Implementations return defensive copies so callers can mutate results
// freely.
type Repository interface {
	// Get returns the task with the given id or ErrTaskNotFound.
	Get(ctx context.Context, id core.ID) (*Item, error)
	// Put inserts or replaces the task, stamping UpdatedAt.
	Put(ctx context.Context, item *Item) error
	// Delete removes a single task. Deleting a missing id is not an error.
	Delete(ctx context.Context, id core.ID) error
	// ListByOwner returns every task owned by owner, newest first.
	ListByOwner(ctx context.Context, owner string) ([]*Item, error)
	// ListChildren returns the immediate children of parent in creation
	// order.
	ListChildren(ctx context.Context, parent core.ID) ([]*Item, error)
	// ListDescendants returns every task below root in BFS order, root
	// excluded.
	ListDescendants(ctx context.Context, root core.ID) ([]*Item, error)
	// CountChildren returns the number of immediate children of parent.
	CountChildren(ctx context.Context, parent core.ID) (int, error)
	// AddBatch inserts all items atomically: either every item is stored or
	// none is.
	AddBatch(ctx context.Context, items []*Item) error
	// DeleteSubtree removes root and every descendant, leaves first, and
	// returns the removed ids in deletion order.
	DeleteSubtree(ctx context.Context, root core.ID) ([]core.ID, error)
}
