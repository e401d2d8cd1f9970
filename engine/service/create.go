package service

import (
	"context"
	"fmt"
	"time"

	"github.com/danmincu/pulstrate/engine/task"
	"github.com/danmincu/pulstrate/pkg/logger"
)

// Create inserts a single queued task and enqueues it for dispatch. When the
// request names a parent, the child inherits the parent's root id, auth
// token, history flag, and (absent an explicit choice) its group.
func (s *Service) Create(ctx context.Context, owner string, req *task.CreateRequest, authToken string) (*task.Item, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", task.ErrInvalidRequest)
	}
	parent, err := s.resolveParent(ctx, owner, req)
	if err != nil {
		return nil, err
	}
	item, err := task.NewItem(req, owner, authToken, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if parent != nil {
		inherit(item, parent, req.GroupID)
	}
	if err := s.repo.Put(ctx, item); err != nil {
		return nil, fmt.Errorf("store task: %w", err)
	}
	s.enqueue(item)
	s.events.TaskCreated(ctx, item)
	logger.FromContext(ctx).Debug("task created",
		"task_id", item.ID, "type", item.Type, "group", item.GroupID, "priority", item.Priority)
	return item, nil
}

// CreateHierarchy materializes a whole task tree in one atomic insert. Every
// node gets the root's id as its root task id and inherits the root's auth
// token and history flag; a node without an explicit group falls back to its
// parent's. Only the root is enqueued; descendants enter the queue when
// their parent orchestrates them. Created events fire parent before child.
func (s *Service) CreateHierarchy(ctx context.Context, owner string, req *task.TreeRequest, authToken string) (*task.Item, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", task.ErrInvalidRequest)
	}
	if req.Task.ParentTaskID != nil {
		return nil, fmt.Errorf("%w: hierarchy root must not set parent_task_id", task.ErrInvalidRequest)
	}
	now := time.Now().UTC()
	rootReq := req.Task
	root, err := task.NewItem(&rootReq, owner, authToken, now)
	if err != nil {
		return nil, err
	}
	items := []*task.Item{root}
	var build func(parent *task.Item, nodes []task.TreeRequest) error
	build = func(parent *task.Item, nodes []task.TreeRequest) error {
		for i := range nodes {
			nodeReq := nodes[i].Task
			if nodeReq.ParentTaskID != nil {
				return fmt.Errorf("%w: hierarchy nodes must not set parent_task_id", task.ErrInvalidRequest)
			}
			child, err := task.NewItem(&nodeReq, owner, authToken, now)
			if err != nil {
				return err
			}
			child.ParentTaskID = &parent.ID
			inherit(child, parent, nodeReq.GroupID)
			items = append(items, child)
			if err := build(child, nodes[i].Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := build(root, req.Children); err != nil {
		return nil, err
	}
	if err := s.repo.AddBatch(ctx, items); err != nil {
		return nil, fmt.Errorf("store hierarchy: %w", err)
	}
	s.enqueue(root)
	for _, item := range items {
		s.events.TaskCreated(ctx, item)
	}
	logger.FromContext(ctx).Info("task hierarchy created",
		"root_id", root.ID, "nodes", len(items))
	return root, nil
}
