package service

import (
	"context"
	"fmt"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/task"
)

// Get returns the task when it exists and is owned by owner.
func (s *Service) Get(ctx context.Context, owner string, id core.ID) (*task.Item, error) {
	return s.loadOwned(ctx, owner, id)
}

// ListByOwner returns the owner's tasks, newest first.
func (s *Service) ListByOwner(ctx context.Context, owner string) ([]*task.Item, error) {
	items, err := s.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return items, nil
}

// Children returns the immediate children of an owned task in creation
// order.
func (s *Service) Children(ctx context.Context, owner string, id core.ID) ([]*task.Item, error) {
	if _, err := s.loadOwned(ctx, owner, id); err != nil {
		return nil, err
	}
	children, err := s.repo.ListChildren(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return children, nil
}

// Descendants returns every task below an owned task in breadth-first
// order, the task itself excluded.
func (s *Service) Descendants(ctx context.Context, owner string, id core.ID) ([]*task.Item, error) {
	if _, err := s.loadOwned(ctx, owner, id); err != nil {
		return nil, err
	}
	descendants, err := s.repo.ListDescendants(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list descendants: %w", err)
	}
	return descendants, nil
}
