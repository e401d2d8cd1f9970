package executor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmincu/pulstrate/engine/executor"
	"github.com/danmincu/pulstrate/engine/task"
)

type stub struct{ taskType string }

func (s *stub) Type() string { return s.taskType }

func (s *stub) Execute(context.Context, *task.Item, executor.ProgressSink) error {
	return nil
}

func TestRegistry(t *testing.T) {
	t.Run("Should register and look up by type", func(t *testing.T) {
		reg := executor.NewRegistry()
		require.NoError(t, reg.Register(&stub{taskType: "noop"}))

		e, ok := reg.Lookup("noop")
		assert.True(t, ok)
		assert.Equal(t, "noop", e.Type())

		_, ok = reg.Lookup("missing")
		assert.False(t, ok)
	})
	t.Run("Should reject duplicate registrations", func(t *testing.T) {
		reg := executor.NewRegistry()
		require.NoError(t, reg.Register(&stub{taskType: "noop"}))
		err := reg.Register(&stub{taskType: "noop"})
		assert.ErrorIs(t, err, executor.ErrDuplicateType)
	})
	t.Run("Should reject nil and empty-type executors", func(t *testing.T) {
		reg := executor.NewRegistry()
		assert.Error(t, reg.Register(nil))
		assert.Error(t, reg.Register(&stub{}))
	})
	t.Run("Should list registered types sorted", func(t *testing.T) {
		reg := executor.NewRegistry()
		require.NoError(t, reg.Register(&stub{taskType: "zeta"}))
		require.NoError(t, reg.Register(&stub{taskType: "alpha"}))
		assert.Equal(t, []string{"alpha", "zeta"}, reg.Types())
	})
}

func TestReportOptions(t *testing.T) {
	t.Run("Should apply details and payload options", func(t *testing.T) {
		u := task.ProgressUpdate{Percentage: 50}
		for _, opt := range []executor.ReportOption{
			executor.WithDetails("halfway"),
			executor.WithPayload(`{"step":2}`),
		} {
			opt(&u)
		}
		assert.Equal(t, "halfway", u.Details)
		assert.Equal(t, `{"step":2}`, u.Payload)
	})
}
