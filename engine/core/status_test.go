package core_test

import (
	"testing"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/stretchr/testify/assert"
)

func TestStatusType_IsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		status   core.StatusType
		terminal bool
	}{
		{"queued is not terminal", core.StatusQueued, false},
		{"executing is not terminal", core.StatusExecuting, false},
		{"completed is terminal", core.StatusCompleted, true},
		{"cancelled is terminal", core.StatusCancelled, true},
		{"errored is terminal", core.StatusErrored, true},
		{"terminated is terminal", core.StatusTerminated, true},
		{"unknown status is not terminal", core.StatusType("BOGUS"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestTerminalStatuses(t *testing.T) {
	t.Run("Should cover exactly the absorbing statuses", func(t *testing.T) {
		statuses := core.TerminalStatuses()
		assert.Len(t, statuses, 4)
		for _, s := range statuses {
			assert.True(t, s.IsTerminal())
		}
	})
}
