package builtin_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmincu/pulstrate/engine/executor"
	"github.com/danmincu/pulstrate/engine/executor/builtin"
	"github.com/danmincu/pulstrate/engine/task"
)

type captureSink struct {
	mu      sync.Mutex
	reports []task.ProgressUpdate
}

func (s *captureSink) Report(_ context.Context, pct float64, opts ...executor.ReportOption) {
	u := task.ProgressUpdate{Percentage: pct}
	for _, opt := range opts {
		opt(&u)
	}
	s.mu.Lock()
	s.reports = append(s.reports, u)
	s.mu.Unlock()
}

func (s *captureSink) all() []task.ProgressUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]task.ProgressUpdate(nil), s.reports...)
}

func TestRegister(t *testing.T) {
	t.Run("Should register countdown, sleep and fail", func(t *testing.T) {
		reg := executor.NewRegistry()
		require.NoError(t, builtin.Register(reg))
		assert.Equal(t, []string{"countdown", "fail", "sleep"}, reg.Types())
	})
}

func TestCountdown(t *testing.T) {
	t.Run("Should report stepped progress up to 100", func(t *testing.T) {
		sink := &captureSink{}
		item := &task.Item{Payload: `{"durationInSeconds":2}`}
		err := (&builtin.Countdown{}).Execute(context.Background(), item, sink)
		require.NoError(t, err)

		reports := sink.all()
		require.Len(t, reports, 2)
		assert.InDelta(t, 50, reports[0].Percentage, 0.01)
		assert.InDelta(t, 100, reports[1].Percentage, 0.01)
		assert.Equal(t, "1 of 2 seconds elapsed", reports[0].Details)
	})
	t.Run("Should finish immediately for zero duration", func(t *testing.T) {
		sink := &captureSink{}
		item := &task.Item{Payload: `{"durationInSeconds":0}`}
		err := (&builtin.Countdown{}).Execute(context.Background(), item, sink)
		require.NoError(t, err)
		assert.Empty(t, sink.all())
	})
	t.Run("Should stop when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		item := &task.Item{Payload: `{"durationInSeconds":30}`}
		err := (&builtin.Countdown{}).Execute(ctx, item, executor.NopSink{})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
	t.Run("Should reject bad payloads", func(t *testing.T) {
		for name, payload := range map[string]string{
			"missing field": `{}`,
			"negative":      `{"durationInSeconds":-1}`,
		} {
			item := &task.Item{Payload: payload}
			err := (&builtin.Countdown{}).Execute(context.Background(), item, executor.NopSink{})
			assert.Error(t, err, name)
		}
	})
}

func TestSleep(t *testing.T) {
	t.Run("Should return after the configured duration", func(t *testing.T) {
		item := &task.Item{Payload: `{"durationInSeconds":0}`}
		err := (&builtin.Sleep{}).Execute(context.Background(), item, executor.NopSink{})
		assert.NoError(t, err)
	})
	t.Run("Should stop when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			item := &task.Item{Payload: `{"durationInSeconds":30}`}
			done <- (&builtin.Sleep{}).Execute(ctx, item, executor.NopSink{})
		}()
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("sleep did not observe cancellation")
		}
	})
}

func TestFail(t *testing.T) {
	t.Run("Should fail with the payload message", func(t *testing.T) {
		item := &task.Item{Payload: `{"message":"boom"}`}
		err := (&builtin.Fail{}).Execute(context.Background(), item, executor.NopSink{})
		assert.EqualError(t, err, "boom")
	})
	t.Run("Should fail with a default message when payload is empty", func(t *testing.T) {
		err := (&builtin.Fail{}).Execute(context.Background(), &task.Item{}, executor.NopSink{})
		assert.EqualError(t, err, "task failed")
	})
}
