package appstate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmincu/pulstrate/engine/group"
	"github.com/danmincu/pulstrate/engine/infra/memstore"
	"github.com/danmincu/pulstrate/engine/progress"
	"github.com/danmincu/pulstrate/engine/queue"
	"github.com/danmincu/pulstrate/engine/service"
	"github.com/danmincu/pulstrate/engine/task"
)

func newTestDeps(t *testing.T) BaseDeps {
	t.Helper()
	repo := memstore.NewStore()
	mutator := task.NewMutator(repo)
	events := task.NopPublisher{}
	svc, err := service.New(service.Options{
		Repo:       repo,
		Mutator:    mutator,
		Queue:      queue.New(),
		Events:     events,
		Aggregator: progress.NewAggregator(repo, mutator, events),
	})
	require.NoError(t, err)
	return NewBaseDeps(svc, repo, nil, nil, group.NewRegistry(0), nil, nil)
}

func TestNewState(t *testing.T) {
	t.Run("Should build state from complete deps", func(t *testing.T) {
		state, err := NewState(newTestDeps(t), nil)
		require.NoError(t, err)
		assert.NotNil(t, state.Service)
		assert.NotNil(t, state.Repo)
		assert.NotNil(t, state.Groups)
	})
	t.Run("Should reject missing service", func(t *testing.T) {
		deps := newTestDeps(t)
		deps.Service = nil
		_, err := NewState(deps, nil)
		assert.ErrorContains(t, err, "task service is required")
	})
	t.Run("Should reject missing repository", func(t *testing.T) {
		deps := newTestDeps(t)
		deps.Repo = nil
		_, err := NewState(deps, nil)
		assert.ErrorContains(t, err, "task repository is required")
	})
	t.Run("Should reject missing group registry", func(t *testing.T) {
		deps := newTestDeps(t)
		deps.Groups = nil
		_, err := NewState(deps, nil)
		assert.ErrorContains(t, err, "group registry is required")
	})
}

func TestGetState(t *testing.T) {
	t.Run("Should round-trip state through a context", func(t *testing.T) {
		state, err := NewState(newTestDeps(t), nil)
		require.NoError(t, err)
		ctx := WithState(context.Background(), state)
		got, err := GetState(ctx)
		require.NoError(t, err)
		assert.Same(t, state, got)
	})
	t.Run("Should fail on a bare context", func(t *testing.T) {
		_, err := GetState(context.Background())
		assert.ErrorContains(t, err, "app state not found")
	})
}

func TestStateMiddleware(t *testing.T) {
	t.Run("Should expose state on the request context", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		state, err := NewState(newTestDeps(t), nil)
		require.NoError(t, err)

		r := gin.New()
		r.Use(StateMiddleware(state))
		r.GET("/probe", func(c *gin.Context) {
			got, err := GetState(c.Request.Context())
			require.NoError(t, err)
			assert.Same(t, state, got)
			c.Status(http.StatusNoContent)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/probe", http.NoBody)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}
