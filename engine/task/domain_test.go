package task

import (
	"testing"
	"time"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewItem(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Should apply defaults for group, weight, and root id", func(t *testing.T) {
		item, err := NewItem(&CreateRequest{Type: "countdown", Priority: 5}, "owner-1", "tok", now)
		require.NoError(t, err)
		assert.Equal(t, DefaultGroupID, item.GroupID)
		assert.Equal(t, DefaultWeight, item.Weight)
		assert.Equal(t, item.ID, item.RootTaskID)
		assert.Equal(t, core.StatusQueued, item.State)
		assert.Equal(t, "owner-1", item.OwnerID)
		assert.Equal(t, "tok", item.AuthToken)
		assert.Equal(t, now, item.CreatedAt)
		assert.Nil(t, item.StartedAt)
	})

	t.Run("Should honor an explicit id", func(t *testing.T) {
		id := core.MustNewID()
		item, err := NewItem(&CreateRequest{Type: "sleep", ID: &id}, "owner-1", "", now)
		require.NoError(t, err)
		assert.Equal(t, id, item.ID)
		assert.Equal(t, id, item.RootTaskID)
	})

	t.Run("Should reject a malformed explicit id", func(t *testing.T) {
		bad := core.ID("nope")
		_, err := NewItem(&CreateRequest{Type: "sleep", ID: &bad}, "owner-1", "", now)
		require.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("Should reject an empty type", func(t *testing.T) {
		_, err := NewItem(&CreateRequest{}, "owner-1", "", now)
		require.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("Should reject a negative weight", func(t *testing.T) {
		_, err := NewItem(&CreateRequest{Type: "x", Weight: -1}, "owner-1", "", now)
		require.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestItem_EffectiveProgress(t *testing.T) {
	tests := []struct {
		name     string
		state    core.StatusType
		progress float64
		expected float64
	}{
		{"completed counts as 100", core.StatusCompleted, 40, 100},
		{"errored preserves progress at failure", core.StatusErrored, 60, 60},
		{"cancelled preserves progress at failure", core.StatusCancelled, 25, 25},
		{"terminated preserves progress at failure", core.StatusTerminated, 80, 80},
		{"executing reports current progress", core.StatusExecuting, 33, 33},
		{"queued reports zero", core.StatusQueued, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &Item{State: tt.state, Progress: tt.progress}
			assert.Equal(t, tt.expected, item.EffectiveProgress())
		})
	}
}

func TestItem_Clone(t *testing.T) {
	t.Run("Should deep copy pointer fields", func(t *testing.T) {
		parent := core.MustNewID()
		started := time.Now()
		item := &Item{
			ID:           core.MustNewID(),
			ParentTaskID: &parent,
			StartedAt:    &started,
			Output:       []byte("out"),
		}
		clone := item.Clone()
		require.NotSame(t, item, clone)
		require.NotSame(t, item.ParentTaskID, clone.ParentTaskID)
		assert.Equal(t, *item.ParentTaskID, *clone.ParentTaskID)
		clone.Output[0] = 'X'
		assert.Equal(t, byte('o'), item.Output[0])
	})
	t.Run("Should tolerate nil receiver", func(t *testing.T) {
		var item *Item
		assert.Nil(t, item.Clone())
	})
}

func TestDetailsStrings(t *testing.T) {
	t.Run("Should render contract strings verbatim", func(t *testing.T) {
		assert.Equal(t, "no executor for type countdown", NoExecutorDetails("countdown"))
		assert.Equal(t, "2 child task(s) did not complete successfully", ChildFailureDetails(2))
		assert.Equal(t, "Aggregated from 3 children", AggregatedDetails(3))
		assert.Equal(t, "timed out or terminated", DetailsTimedOutOrTerminated)
		assert.Equal(t, "Cancelled by user request", DetailsCancelledByUser)
	})
}
