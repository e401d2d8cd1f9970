package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/task"
	"github.com/danmincu/pulstrate/pkg/logger"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// maxTaskTreeDepth bounds the recursive tree queries. Task trees are shallow
// in practice; the cap only guards against pathological cycles.
const maxTaskTreeDepth = 100

var taskColumns = []string{
	"id", "owner_id", "group_id", "priority", "type", "payload", "output",
	"state", "progress", "progress_details", "progress_payload", "state_details",
	"parent_task_id", "root_task_id", "weight", "subtask_parallelism",
	"track_history", "auth_token", "created_at", "updated_at", "started_at", "completed_at",
}

const taskColumnsSQL = "id, owner_id, group_id, priority, type, payload, output, " +
	"state, progress, progress_details, progress_payload, state_details, " +
	"parent_task_id, root_task_id, weight, subtask_parallelism, " +
	"track_history, auth_token, created_at, updated_at, started_at, completed_at"

const taskColumnsPrefixedSQL = "t.id, t.owner_id, t.group_id, t.priority, t.type, t.payload, t.output, " +
	"t.state, t.progress, t.progress_details, t.progress_payload, t.state_details, " +
	"t.parent_task_id, t.root_task_id, t.weight, t.subtask_parallelism, " +
	"t.track_history, t.auth_token, t.created_at, t.updated_at, t.started_at, t.completed_at"

const insertTaskSQL = `
        INSERT INTO tasks (
            id, owner_id, group_id, priority, type, payload, output, state, progress,
            progress_details, progress_payload, state_details, parent_task_id, root_task_id,
            weight, subtask_parallelism, track_history, auth_token,
            created_at, updated_at, started_at, completed_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
    `

const upsertTaskSQL = insertTaskSQL + `
        ON CONFLICT (id) DO UPDATE SET
            owner_id = $2,
            group_id = $3,
            priority = $4,
            type = $5,
            payload = $6,
            output = $7,
            state = $8,
            progress = $9,
            progress_details = $10,
            progress_payload = $11,
            state_details = $12,
            parent_task_id = $13,
            root_task_id = $14,
            weight = $15,
            subtask_parallelism = $16,
            track_history = $17,
            auth_token = $18,
            created_at = $19,
            updated_at = $20,
            started_at = $21,
            completed_at = $22
    `

// subtreeIDsSQL collects a subtree's ids leaves first so deletion order can
// be reported the same way the in-memory store does it.
const subtreeIDsSQL = `
        WITH RECURSIVE task_tree AS (
            SELECT id, seq, 0 AS depth
            FROM tasks
            WHERE id = $1
            UNION ALL
            SELECT t.id, t.seq, tt.depth + 1
            FROM tasks t
            INNER JOIN task_tree tt ON t.parent_task_id = tt.id
            WHERE tt.depth < $2
        )
        SELECT id FROM task_tree ORDER BY depth DESC, seq DESC
    `

// DB is the minimal database interface TaskRepo depends on (pgxpool or pgxmock).
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TaskRepo implements task.Repository backed by a pgx-compatible pool.
type TaskRepo struct {
	db DB
}

var _ task.Repository = (*TaskRepo)(nil)

func NewTaskRepo(db DB) *TaskRepo {
	return &TaskRepo{db: db}
}

func (r *TaskRepo) Get(ctx context.Context, id core.ID) (*task.Item, error) {
	query := fmt.Sprintf("SELECT %s FROM tasks WHERE id = $1", taskColumnsSQL)
	var item task.Item
	if err := pgxscan.Get(ctx, r.db, &item, query, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, task.ErrTaskNotFound)
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	return &item, nil
}

func (r *TaskRepo) Put(ctx context.Context, item *task.Item) error {
	if item == nil || item.ID.IsZero() {
		return fmt.Errorf("task item requires an id")
	}
	if _, err := r.db.Exec(ctx, upsertTaskSQL, taskArgs(item, time.Now().UTC())...); err != nil {
		return fmt.Errorf("executing upsert: %w", err)
	}
	return nil
}

func (r *TaskRepo) Delete(ctx context.Context, id core.ID) error {
	if _, err := r.db.Exec(ctx, "DELETE FROM tasks WHERE id = $1", id); err != nil {
		return fmt.Errorf("executing delete: %w", err)
	}
	return nil
}

func (r *TaskRepo) ListByOwner(ctx context.Context, owner string) ([]*task.Item, error) {
	sb := squirrel.Select(taskColumns...).
		From("tasks").
		Where(squirrel.Eq{"owner_id": owner}).
		OrderBy("created_at DESC", "seq DESC").
		PlaceholderFormat(squirrel.Dollar)
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var items []*task.Item
	if err := pgxscan.Select(ctx, r.db, &items, query, args...); err != nil {
		return nil, fmt.Errorf("scanning tasks: %w", err)
	}
	return items, nil
}

func (r *TaskRepo) ListChildren(ctx context.Context, parent core.ID) ([]*task.Item, error) {
	sb := squirrel.Select(taskColumns...).
		From("tasks").
		Where(squirrel.Eq{"parent_task_id": parent}).
		OrderBy("seq").
		PlaceholderFormat(squirrel.Dollar)
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	items := make([]*task.Item, 0)
	if err := pgxscan.Select(ctx, r.db, &items, query, args...); err != nil {
		return nil, fmt.Errorf("scanning child tasks: %w", err)
	}
	return items, nil
}

func (r *TaskRepo) ListDescendants(ctx context.Context, root core.ID) ([]*task.Item, error) {
	query := fmt.Sprintf(`
        WITH RECURSIVE task_tree AS (
            SELECT %s, seq, 0 AS depth
            FROM tasks
            WHERE id = $1
            UNION ALL
            SELECT %s, t.seq, tt.depth + 1
            FROM tasks t
            INNER JOIN task_tree tt ON t.parent_task_id = tt.id
            WHERE tt.depth < $2
        )
        SELECT %s
        FROM task_tree
        WHERE depth > 0
        ORDER BY depth, seq
    `, taskColumnsSQL, taskColumnsPrefixedSQL, taskColumnsSQL)
	items := make([]*task.Item, 0)
	if err := pgxscan.Select(ctx, r.db, &items, query, root, maxTaskTreeDepth); err != nil {
		return nil, fmt.Errorf("scanning task tree: %w", err)
	}
	return items, nil
}

func (r *TaskRepo) CountChildren(ctx context.Context, parent core.ID) (int, error) {
	var count int
	row := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM tasks WHERE parent_task_id = $1", parent)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("counting children: %w", err)
	}
	return count, nil
}

func (r *TaskRepo) AddBatch(ctx context.Context, items []*task.Item) error {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[core.ID]bool, len(items))
	for _, item := range items {
		if item == nil || item.ID.IsZero() {
			return fmt.Errorf("task item requires an id")
		}
		if seen[item.ID] {
			return fmt.Errorf("duplicate task id %s in batch", item.ID)
		}
		seen[item.ID] = true
	}
	now := time.Now().UTC()
	return r.withTx(ctx, func(tx pgx.Tx) error {
		for _, item := range items {
			if _, err := tx.Exec(ctx, insertTaskSQL, taskArgs(item, now)...); err != nil {
				return fmt.Errorf("inserting task %s: %w", item.ID, err)
			}
		}
		return nil
	})
}

func (r *TaskRepo) DeleteSubtree(ctx context.Context, root core.ID) ([]core.ID, error) {
	var removed []core.ID
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var ids []string
		if err := pgxscan.Select(ctx, tx, &ids, subtreeIDsSQL, root, maxTaskTreeDepth); err != nil {
			return fmt.Errorf("scanning subtree ids: %w", err)
		}
		if len(ids) == 0 {
			return fmt.Errorf("task %s: %w", root, task.ErrTaskNotFound)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM tasks WHERE id = ANY($1)", ids); err != nil {
			return fmt.Errorf("deleting subtree: %w", err)
		}
		removed = make([]core.ID, len(ids))
		for i, id := range ids {
			removed[i] = core.ID(id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// withTx runs fn inside a transaction, rolling back on error or panic.
func (r *TaskRepo) withTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, txErr := r.db.Begin(ctx)
	if txErr != nil {
		return fmt.Errorf("beginning transaction: %w", txErr)
	}
	log := logger.FromContext(ctx)
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error("Failed to rollback transaction", "error", rbErr)
			}
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error("Failed to rollback transaction", "error", rbErr)
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("committing transaction: %w", commitErr)
		}
	}()
	err = fn(tx)
	return err
}

// taskArgs lays out an item's column values in insert order. The repository
// stamps updatedAt so the stored row always reflects the write time.
func taskArgs(item *task.Item, updatedAt time.Time) []any {
	return []any{
		item.ID, item.OwnerID, item.GroupID, item.Priority, item.Type,
		item.Payload, item.Output, item.State, item.Progress,
		item.ProgressDetails, item.ProgressPayload, item.StateDetails,
		item.ParentTaskID, item.RootTaskID, item.Weight, item.SubtaskParallelism,
		item.TrackHistory, item.AuthToken,
		item.CreatedAt, updatedAt, item.StartedAt, item.CompletedAt,
	}
}
