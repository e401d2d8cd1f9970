package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/infra/postgres"
	"github.com/danmincu/pulstrate/engine/task"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskTestColumns = []string{
	"id", "owner_id", "group_id", "priority", "type", "payload", "output",
	"state", "progress", "progress_details", "progress_payload", "state_details",
	"parent_task_id", "root_task_id", "weight", "subtask_parallelism",
	"track_history", "auth_token", "created_at", "updated_at", "started_at", "completed_at",
}

func queuedItem(t *testing.T, taskType string) *task.Item {
	t.Helper()
	item, err := task.NewItem(&task.CreateRequest{Type: taskType}, "owner-1", "", time.Now().UTC())
	require.NoError(t, err)
	return item
}

func childOf(t *testing.T, parent *task.Item, taskType string) *task.Item {
	t.Helper()
	item, err := task.NewItem(
		&task.CreateRequest{Type: taskType, ParentTaskID: &parent.ID},
		parent.OwnerID,
		parent.AuthToken,
		time.Now().UTC(),
	)
	require.NoError(t, err)
	item.RootTaskID = parent.RootTaskID
	return item
}

func addItemRow(rows *pgxmock.Rows, item *task.Item) *pgxmock.Rows {
	return rows.AddRow(
		item.ID, item.OwnerID, item.GroupID, item.Priority, item.Type,
		item.Payload, item.Output, item.State, item.Progress,
		item.ProgressDetails, item.ProgressPayload, item.StateDetails,
		item.ParentTaskID, item.RootTaskID, item.Weight, item.SubtaskParallelism,
		item.TrackHistory, item.AuthToken,
		item.CreatedAt, item.UpdatedAt, item.StartedAt, item.CompletedAt,
	)
}

func upsertArgs(item *task.Item) []any {
	return []any{
		item.ID, item.OwnerID, item.GroupID, item.Priority, item.Type,
		item.Payload, item.Output, item.State, item.Progress,
		item.ProgressDetails, item.ProgressPayload, item.StateDetails,
		item.ParentTaskID, item.RootTaskID, item.Weight, item.SubtaskParallelism,
		item.TrackHistory, item.AuthToken,
		item.CreatedAt, pgxmock.AnyArg(), item.StartedAt, item.CompletedAt,
	}
}

func TestTaskRepo_Get(t *testing.T) {
	t.Run("Should get task by id", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewTaskRepo(mockPool)
		ctx := context.Background()
		item := queuedItem(t, "compress")
		item.Payload = `{"input":"a.txt"}`
		rows := addItemRow(mockPool.NewRows(taskTestColumns), item)
		mockPool.ExpectQuery("SELECT (.+) FROM tasks WHERE id = \\$1").
			WithArgs(item.ID).
			WillReturnRows(rows)
		result, err := repo.Get(ctx, item.ID)
		assert.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, item.ID, result.ID)
		assert.Equal(t, item.OwnerID, result.OwnerID)
		assert.Equal(t, `{"input":"a.txt"}`, result.Payload)
		assert.Equal(t, core.StatusQueued, result.State)
		assert.Equal(t, item.RootTaskID, result.RootTaskID)
		assert.Nil(t, result.ParentTaskID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should return not found sentinel when task is missing", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewTaskRepo(mockPool)
		id := core.MustNewID()
		mockPool.ExpectQuery("SELECT (.+) FROM tasks WHERE id = \\$1").
			WithArgs(id).
			WillReturnError(pgx.ErrNoRows)
		result, err := repo.Get(context.Background(), id)
		assert.Error(t, err)
		assert.Nil(t, result)
		assert.True(t, errors.Is(err, task.ErrTaskNotFound))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestTaskRepo_Put(t *testing.T) {
	t.Run("Should upsert task with a fresh updated_at", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewTaskRepo(mockPool)
		item := queuedItem(t, "compress")
		mockPool.ExpectExec("INSERT INTO tasks").
			WithArgs(upsertArgs(item)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		err = repo.Put(context.Background(), item)
		assert.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should reject item without id", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewTaskRepo(mockPool)
		err = repo.Put(context.Background(), &task.Item{})
		assert.Error(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestTaskRepo_Delete(t *testing.T) {
	t.Run("Should delete task by id", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewTaskRepo(mockPool)
		id := core.MustNewID()
		mockPool.ExpectExec("DELETE FROM tasks WHERE id = \\$1").
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		err = repo.Delete(context.Background(), id)
		assert.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should not fail when nothing matches", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewTaskRepo(mockPool)
		id := core.MustNewID()
		mockPool.ExpectExec("DELETE FROM tasks WHERE id = \\$1").
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		err = repo.Delete(context.Background(), id)
		assert.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestTaskRepo_ListByOwner(t *testing.T) {
	t.Run("Should list tasks newest first", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewTaskRepo(mockPool)
		newer := queuedItem(t, "compress")
		older := queuedItem(t, "transcode")
		older.CreatedAt = newer.CreatedAt.Add(-time.Minute)
		rows := addItemRow(addItemRow(mockPool.NewRows(taskTestColumns), newer), older)
		mockPool.ExpectQuery("SELECT (.+) FROM tasks WHERE owner_id = \\$1 ORDER BY created_at DESC, seq DESC").
			WithArgs("owner-1").
			WillReturnRows(rows)
		result, err := repo.ListByOwner(context.Background(), "owner-1")
		assert.NoError(t, err)
		require.Len(t, result, 2)
		assert.Equal(t, newer.ID, result[0].ID)
		assert.Equal(t, older.ID, result[1].ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestTaskRepo_ListChildren(t *testing.T) {
	t.Run("Should list children in creation order", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewTaskRepo(mockPool)
		parent := queuedItem(t, "pipeline")
		first := childOf(t, parent, "step")
		second := childOf(t, parent, "step")
		rows := addItemRow(addItemRow(mockPool.NewRows(taskTestColumns), first), second)
		mockPool.ExpectQuery("SELECT (.+) FROM tasks WHERE parent_task_id = \\$1 ORDER BY seq").
			WithArgs(parent.ID).
			WillReturnRows(rows)
		result, err := repo.ListChildren(context.Background(), parent.ID)
		assert.NoError(t, err)
		require.Len(t, result, 2)
		assert.Equal(t, first.ID, result[0].ID)
		assert.Equal(t, second.ID, result[1].ID)
		require.NotNil(t, result[0].ParentTaskID)
		assert.Equal(t, parent.ID, *result[0].ParentTaskID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should return empty slice for childless parent", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewTaskRepo(mockPool)
		parent := core.MustNewID()
		mockPool.ExpectQuery("SELECT (.+) FROM tasks WHERE parent_task_id = \\$1 ORDER BY seq").
			WithArgs(parent).
			WillReturnRows(mockPool.NewRows(taskTestColumns))
		result, err := repo.ListChildren(context.Background(), parent)
		assert.NoError(t, err)
		assert.NotNil(t, result)
		assert.Len(t, result, 0)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestTaskRepo_ListDescendants(t *testing.T) {
	t.Run("Should walk the subtree breadth first", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewTaskRepo(mockPool)
		root := queuedItem(t, "pipeline")
		child := childOf(t, root, "stage")
		grandchild := childOf(t, child, "step")
		rows := addItemRow(addItemRow(mockPool.NewRows(taskTestColumns), child), grandchild)
		mockPool.ExpectQuery("WITH RECURSIVE task_tree").
			WithArgs(root.ID, 100).
			WillReturnRows(rows)
		result, err := repo.ListDescendants(context.Background(), root.ID)
		assert.NoError(t, err)
		require.Len(t, result, 2)
		assert.Equal(t, child.ID, result[0].ID)
		assert.Equal(t, grandchild.ID, result[1].ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestTaskRepo_CountChildren(t *testing.T) {
	t.Run("Should count immediate children", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewTaskRepo(mockPool)
		parent := core.MustNewID()
		rows := mockPool.NewRows([]string{"count"}).AddRow(3)
		mockPool.ExpectQuery("SELECT COUNT\\(\\*\\) FROM tasks WHERE parent_task_id = \\$1").
			WithArgs(parent).
			WillReturnRows(rows)
		count, err := repo.CountChildren(context.Background(), parent)
		assert.NoError(t, err)
		assert.Equal(t, 3, count)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestTaskRepo_AddBatch(t *testing.T) {
	t.Run("Should insert all items in one transaction", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewTaskRepo(mockPool)
		parent := queuedItem(t, "pipeline")
		first := childOf(t, parent, "step")
		second := childOf(t, parent, "step")
		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO tasks").
			WithArgs(upsertArgs(first)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec("INSERT INTO tasks").
			WithArgs(upsertArgs(second)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		err = repo.AddBatch(context.Background(), []*task.Item{first, second})
		assert.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should roll back when an insert fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewTaskRepo(mockPool)
		parent := queuedItem(t, "pipeline")
		first := childOf(t, parent, "step")
		second := childOf(t, parent, "step")
		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO tasks").
			WithArgs(upsertArgs(first)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec("INSERT INTO tasks").
			WithArgs(upsertArgs(second)...).
			WillReturnError(errors.New("duplicate key value violates unique constraint"))
		mockPool.ExpectRollback()
		err = repo.AddBatch(context.Background(), []*task.Item{first, second})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), second.ID.String())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should reject duplicate ids before touching the database", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewTaskRepo(mockPool)
		item := queuedItem(t, "step")
		err = repo.AddBatch(context.Background(), []*task.Item{item, item})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate task id")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestTaskRepo_DeleteSubtree(t *testing.T) {
	t.Run("Should delete subtree leaves first and report removed ids", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewTaskRepo(mockPool)
		rootID := core.MustNewID()
		childID := core.MustNewID()
		grandchildID := core.MustNewID()
		idRows := mockPool.NewRows([]string{"id"}).
			AddRow(grandchildID.String()).
			AddRow(childID.String()).
			AddRow(rootID.String())
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("WITH RECURSIVE task_tree").
			WithArgs(rootID, 100).
			WillReturnRows(idRows)
		mockPool.ExpectExec("DELETE FROM tasks WHERE id = ANY\\(\\$1\\)").
			WithArgs([]string{grandchildID.String(), childID.String(), rootID.String()}).
			WillReturnResult(pgxmock.NewResult("DELETE", 3))
		mockPool.ExpectCommit()
		removed, err := repo.DeleteSubtree(context.Background(), rootID)
		assert.NoError(t, err)
		assert.Equal(t, []core.ID{grandchildID, childID, rootID}, removed)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should return not found for missing root", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewTaskRepo(mockPool)
		rootID := core.MustNewID()
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("WITH RECURSIVE task_tree").
			WithArgs(rootID, 100).
			WillReturnRows(mockPool.NewRows([]string{"id"}))
		mockPool.ExpectRollback()
		removed, err := repo.DeleteSubtree(context.Background(), rootID)
		assert.Error(t, err)
		assert.Nil(t, removed)
		assert.True(t, errors.Is(err, task.ErrTaskNotFound))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
