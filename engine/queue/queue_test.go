package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/queue"
)

func mustDequeue(t *testing.T, q *queue.Queue) queue.Entry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, err := q.Dequeue(ctx)
	require.NoError(t, err)
	return e
}

func TestQueue_Ordering(t *testing.T) {
	t.Run("Should dequeue higher priority first", func(t *testing.T) {
		q := queue.New()
		low := core.MustNewID()
		high := core.MustNewID()
		q.Enqueue(queue.Entry{TaskID: low, GroupID: "default", Priority: 1})
		q.Enqueue(queue.Entry{TaskID: high, GroupID: "default", Priority: 5})

		assert.Equal(t, high, mustDequeue(t, q).TaskID)
		assert.Equal(t, low, mustDequeue(t, q).TaskID)
	})
	t.Run("Should keep FIFO order within equal priority", func(t *testing.T) {
		q := queue.New()
		ids := []core.ID{core.MustNewID(), core.MustNewID(), core.MustNewID()}
		for _, id := range ids {
			q.Enqueue(queue.Entry{TaskID: id, GroupID: "default", Priority: 2})
		}
		for _, want := range ids {
			assert.Equal(t, want, mustDequeue(t, q).TaskID)
		}
	})
	t.Run("Should keep FIFO order across groups at equal priority", func(t *testing.T) {
		q := queue.New()
		first := core.MustNewID()
		second := core.MustNewID()
		third := core.MustNewID()
		q.Enqueue(queue.Entry{TaskID: first, GroupID: "alpha", Priority: 0})
		q.Enqueue(queue.Entry{TaskID: second, GroupID: "beta", Priority: 0})
		q.Enqueue(queue.Entry{TaskID: third, GroupID: "alpha", Priority: 0})

		assert.Equal(t, first, mustDequeue(t, q).TaskID)
		assert.Equal(t, second, mustDequeue(t, q).TaskID)
		assert.Equal(t, third, mustDequeue(t, q).TaskID)
	})
	t.Run("Should prefer higher priority regardless of group", func(t *testing.T) {
		q := queue.New()
		early := core.MustNewID()
		urgent := core.MustNewID()
		q.Enqueue(queue.Entry{TaskID: early, GroupID: "alpha", Priority: 0})
		q.Enqueue(queue.Entry{TaskID: urgent, GroupID: "beta", Priority: 9})

		assert.Equal(t, urgent, mustDequeue(t, q).TaskID)
		assert.Equal(t, early, mustDequeue(t, q).TaskID)
	})
}

func TestQueue_Cancel(t *testing.T) {
	t.Run("Should skip cancelled entries on dequeue", func(t *testing.T) {
		q := queue.New()
		victim := core.MustNewID()
		keep := core.MustNewID()
		q.Enqueue(queue.Entry{TaskID: victim, GroupID: "default", Priority: 5})
		q.Enqueue(queue.Entry{TaskID: keep, GroupID: "default", Priority: 1})

		require.True(t, q.TryCancel(victim))
		assert.Equal(t, keep, mustDequeue(t, q).TaskID)
		assert.Equal(t, 0, q.Len())
	})
	t.Run("Should report false for unknown or already dequeued ids", func(t *testing.T) {
		q := queue.New()
		id := core.MustNewID()
		assert.False(t, q.TryCancel(id))

		q.Enqueue(queue.Entry{TaskID: id, GroupID: "default", Priority: 0})
		mustDequeue(t, q)
		assert.False(t, q.TryCancel(id))
	})
	t.Run("Should report false on double cancel", func(t *testing.T) {
		q := queue.New()
		id := core.MustNewID()
		q.Enqueue(queue.Entry{TaskID: id, GroupID: "default", Priority: 0})
		assert.True(t, q.TryCancel(id))
		assert.False(t, q.TryCancel(id))
	})
}

func TestQueue_Reenqueue(t *testing.T) {
	t.Run("Should replace entry and apply new priority", func(t *testing.T) {
		q := queue.New()
		moved := core.MustNewID()
		other := core.MustNewID()
		q.Enqueue(queue.Entry{TaskID: moved, GroupID: "default", Priority: 0})
		q.Enqueue(queue.Entry{TaskID: other, GroupID: "default", Priority: 1})
		// Raise the first task above the second.
		q.Enqueue(queue.Entry{TaskID: moved, GroupID: "default", Priority: 2})

		assert.Equal(t, 2, q.Len())
		assert.Equal(t, moved, mustDequeue(t, q).TaskID)
		assert.Equal(t, other, mustDequeue(t, q).TaskID)
	})
	t.Run("Should move to back of its new priority band", func(t *testing.T) {
		q := queue.New()
		a := core.MustNewID()
		b := core.MustNewID()
		q.Enqueue(queue.Entry{TaskID: a, GroupID: "default", Priority: 3})
		q.Enqueue(queue.Entry{TaskID: b, GroupID: "default", Priority: 3})
		// Re-enqueueing at the same priority puts a behind b.
		q.Enqueue(queue.Entry{TaskID: a, GroupID: "default", Priority: 3})

		assert.Equal(t, b, mustDequeue(t, q).TaskID)
		assert.Equal(t, a, mustDequeue(t, q).TaskID)
	})
}

func TestQueue_Blocking(t *testing.T) {
	t.Run("Should block until an entry arrives", func(t *testing.T) {
		q := queue.New()
		id := core.MustNewID()
		got := make(chan queue.Entry, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			e, err := q.Dequeue(ctx)
			if err == nil {
				got <- e
			}
		}()

		time.Sleep(20 * time.Millisecond)
		q.Enqueue(queue.Entry{TaskID: id, GroupID: "default", Priority: 0})

		select {
		case e := <-got:
			assert.Equal(t, id, e.TaskID)
		case <-time.After(2 * time.Second):
			t.Fatal("dequeue did not wake")
		}
	})
	t.Run("Should return context error when cancelled while empty", func(t *testing.T) {
		q := queue.New()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err := q.Dequeue(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
	t.Run("Should wake multiple consumers for a burst of entries", func(t *testing.T) {
		q := queue.New()
		const n = 8
		got := make(chan core.ID, n)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for range n {
			go func() {
				e, err := q.Dequeue(ctx)
				if err == nil {
					got <- e.TaskID
				}
			}()
		}
		want := make(map[core.ID]bool, n)
		for i := range n {
			id := core.MustNewID()
			want[id] = true
			q.Enqueue(queue.Entry{TaskID: id, GroupID: "default", Priority: i % 3})
		}
		for range n {
			select {
			case id := <-got:
				assert.True(t, want[id])
				delete(want, id)
			case <-time.After(2 * time.Second):
				t.Fatal("not all consumers woke")
			}
		}
		assert.Empty(t, want)
	})
}

func TestQueue_Lens(t *testing.T) {
	t.Run("Should count live entries per group", func(t *testing.T) {
		q := queue.New()
		cancelled := core.MustNewID()
		q.Enqueue(queue.Entry{TaskID: core.MustNewID(), GroupID: "alpha", Priority: 0})
		q.Enqueue(queue.Entry{TaskID: core.MustNewID(), GroupID: "alpha", Priority: 1})
		q.Enqueue(queue.Entry{TaskID: cancelled, GroupID: "beta", Priority: 0})
		q.TryCancel(cancelled)

		lens := q.GroupLens()
		assert.Equal(t, 2, lens["alpha"])
		assert.Zero(t, lens["beta"])
		assert.Equal(t, 2, q.Len())
	})
}
