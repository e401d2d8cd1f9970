package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/history"
	"github.com/danmincu/pulstrate/engine/infra/memstore"
	"github.com/danmincu/pulstrate/engine/streaming"
	"github.com/danmincu/pulstrate/engine/task"
)

type fixture struct {
	repo     *memstore.Store
	broker   *streaming.Broker
	recorder *history.Recorder
}

func newFixture(t *testing.T, cfg *history.Config) *fixture {
	t.Helper()
	repo := memstore.NewStore()
	broker := streaming.NewBroker(nil)
	recorder, err := history.NewRecorder(broker, repo, cfg)
	require.NoError(t, err)
	return &fixture{repo: repo, broker: broker, recorder: recorder}
}

func (f *fixture) addTask(t *testing.T, tracked bool) *task.Item {
	t.Helper()
	item, err := task.NewItem(&task.CreateRequest{
		Type:         "sample",
		TrackHistory: tracked,
	}, "owner-1", "", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, f.repo.Put(context.Background(), item))
	return item
}

func (f *fixture) publish(t *testing.T, id core.ID, event streaming.Event) streaming.Envelope {
	t.Helper()
	envelope, err := f.recorder.Publish(context.Background(), id, event)
	require.NoError(t, err)
	return envelope
}

func stateEvent(state core.StatusType) streaming.Event {
	return streaming.Event{
		Type: task.EventStateChanged,
		Data: task.StateChangedEvent{NewState: state},
	}
}

func progressEvent(pct float64, aggregated bool) streaming.Event {
	return streaming.Event{
		Type: task.EventProgress,
		Data: task.ProgressEvent{Percentage: pct, Aggregated: aggregated},
	}
}

func TestRecorder_Gating(t *testing.T) {
	t.Run("Should record envelopes for tracked tasks", func(t *testing.T) {
		f := newFixture(t, nil)
		item := f.addTask(t, true)

		f.publish(t, item.ID, stateEvent(core.StatusExecuting))
		f.publish(t, item.ID, progressEvent(50, false))

		entries := f.recorder.Entries(item.ID, false)
		require.Len(t, entries, 2)
		assert.Equal(t, task.EventStateChanged, entries[0].Type)
		assert.Equal(t, task.EventProgress, entries[1].Type)
		assert.Equal(t, int64(1), entries[0].ID)
		assert.Equal(t, int64(2), entries[1].ID)
		assert.True(t, f.recorder.Tracked(item.ID))
	})
	t.Run("Should record nothing for untracked tasks", func(t *testing.T) {
		f := newFixture(t, nil)
		item := f.addTask(t, false)

		f.publish(t, item.ID, stateEvent(core.StatusExecuting))
		f.publish(t, item.ID, stateEvent(core.StatusCompleted))

		assert.Empty(t, f.recorder.Entries(item.ID, true))
		assert.False(t, f.recorder.Tracked(item.ID))
	})
	t.Run("Should ignore tasks missing from the repository", func(t *testing.T) {
		f := newFixture(t, nil)
		ghost, err := core.NewID()
		require.NoError(t, err)

		f.publish(t, ghost, stateEvent(core.StatusExecuting))
		assert.Empty(t, f.recorder.Entries(ghost, true))
	})
	t.Run("Should still publish to the hub for untracked tasks", func(t *testing.T) {
		f := newFixture(t, nil)
		item := f.addTask(t, false)

		f.publish(t, item.ID, stateEvent(core.StatusExecuting))
		backlog, err := f.broker.Replay(context.Background(), item.ID, 0, 10)
		require.NoError(t, err)
		assert.Len(t, backlog, 1)
	})
}

func TestRecorder_Ring(t *testing.T) {
	t.Run("Should keep only the newest entries once the ring wraps", func(t *testing.T) {
		f := newFixture(t, &history.Config{RingSize: 4})
		item := f.addTask(t, true)

		for i := 1; i <= 6; i++ {
			f.publish(t, item.ID, progressEvent(float64(i*10), false))
		}

		entries := f.recorder.Entries(item.ID, false)
		require.Len(t, entries, 4)
		for i, e := range entries {
			assert.Equal(t, int64(i+3), e.ID)
		}
	})
	t.Run("Should evict the least recently used task past capacity", func(t *testing.T) {
		f := newFixture(t, &history.Config{TaskCapacity: 2})
		first := f.addTask(t, true)
		second := f.addTask(t, true)
		third := f.addTask(t, true)

		f.publish(t, first.ID, stateEvent(core.StatusExecuting))
		f.publish(t, second.ID, stateEvent(core.StatusExecuting))
		f.publish(t, third.ID, stateEvent(core.StatusExecuting))

		assert.Empty(t, f.recorder.Entries(first.ID, true))
		assert.Len(t, f.recorder.Entries(second.ID, true), 1)
		assert.Len(t, f.recorder.Entries(third.ID, true), 1)

		// A later event restarts recording for the evicted task with an
		// empty ring.
		f.publish(t, first.ID, stateEvent(core.StatusCompleted))
		entries := f.recorder.Entries(first.ID, true)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(2), entries[0].ID)
	})
}

func TestRecorder_AggregatedFiltering(t *testing.T) {
	t.Run("Should hide aggregated progress unless asked for", func(t *testing.T) {
		f := newFixture(t, nil)
		item := f.addTask(t, true)

		f.publish(t, item.ID, progressEvent(25, false))
		f.publish(t, item.ID, progressEvent(40, true))
		f.publish(t, item.ID, stateEvent(core.StatusCompleted))

		leafOnly := f.recorder.Entries(item.ID, false)
		require.Len(t, leafOnly, 2)
		assert.Equal(t, task.EventProgress, leafOnly[0].Type)
		assert.Equal(t, task.EventStateChanged, leafOnly[1].Type)

		all := f.recorder.Entries(item.ID, true)
		assert.Len(t, all, 3)
	})
}

func TestRecorder_Lifecycle(t *testing.T) {
	t.Run("Should drop the ring and hub backlog on forget", func(t *testing.T) {
		f := newFixture(t, nil)
		item := f.addTask(t, true)

		f.publish(t, item.ID, stateEvent(core.StatusExecuting))
		require.NotEmpty(t, f.recorder.Entries(item.ID, true))

		f.recorder.Forget(item.ID)
		assert.Empty(t, f.recorder.Entries(item.ID, true))
		backlog, err := f.broker.Replay(context.Background(), item.ID, 0, 10)
		require.NoError(t, err)
		assert.Empty(t, backlog)
	})
	t.Run("Should pass events through when disabled", func(t *testing.T) {
		f := newFixture(t, &history.Config{Disabled: true})
		item := f.addTask(t, true)

		f.publish(t, item.ID, stateEvent(core.StatusExecuting))
		assert.Empty(t, f.recorder.Entries(item.ID, true))
		backlog, err := f.broker.Replay(context.Background(), item.ID, 0, 10)
		require.NoError(t, err)
		assert.Len(t, backlog, 1)
	})
	t.Run("Should forward live subscriptions to the hub", func(t *testing.T) {
		f := newFixture(t, nil)
		item := f.addTask(t, true)

		sub, err := f.recorder.Subscribe(context.Background(), item.ID)
		require.NoError(t, err)
		defer sub.Close()

		want := f.publish(t, item.ID, stateEvent(core.StatusExecuting))
		select {
		case got := <-sub.Events():
			assert.Equal(t, want.ID, got.ID)
			assert.Equal(t, want.Type, got.Type)
		case <-time.After(time.Second):
			t.Fatal("subscription never delivered the envelope")
		}
	})
}
