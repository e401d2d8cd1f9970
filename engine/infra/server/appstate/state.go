package appstate

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/danmincu/pulstrate/engine/group"
	"github.com/danmincu/pulstrate/engine/history"
	"github.com/danmincu/pulstrate/engine/infra/monitoring"
	"github.com/danmincu/pulstrate/engine/service"
	"github.com/danmincu/pulstrate/engine/streaming"
	"github.com/danmincu/pulstrate/engine/task"
	"github.com/danmincu/pulstrate/engine/worker"
)

type contextKey string

const (
	stateKey contextKey = "app_state"
)

// HealthChecker probes backing-store connectivity. Stores without a
// meaningful probe stay out of BaseDeps; a nil checker reads as healthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BaseDeps are the collaborators request handlers reach for. Service, Repo,
// and Groups are required; the rest degrade gracefully when absent.
type BaseDeps struct {
	Service    *service.Service
	Repo       task.Repository
	Hub        streaming.Hub
	History    *history.Recorder
	Groups     *group.Registry
	Monitoring *monitoring.Service
	Store      HealthChecker
}

func NewBaseDeps(
	svc *service.Service,
	repo task.Repository,
	hub streaming.Hub,
	recorder *history.Recorder,
	groups *group.Registry,
	monitoringSvc *monitoring.Service,
	store HealthChecker,
) BaseDeps {
	return BaseDeps{
		Service:    svc,
		Repo:       repo,
		Hub:        hub,
		History:    recorder,
		Groups:     groups,
		Monitoring: monitoringSvc,
		Store:      store,
	}
}

type State struct {
	BaseDeps
	Dispatcher *worker.Dispatcher
}

func NewState(deps BaseDeps, dispatcher *worker.Dispatcher) (*State, error) {
	if deps.Service == nil {
		return nil, fmt.Errorf("task service is required")
	}
	if deps.Repo == nil {
		return nil, fmt.Errorf("task repository is required")
	}
	if deps.Groups == nil {
		return nil, fmt.Errorf("group registry is required")
	}
	return &State{
		BaseDeps:   deps,
		Dispatcher: dispatcher,
	}, nil
}

func WithState(ctx context.Context, state *State) context.Context {
	return context.WithValue(ctx, stateKey, state)
}

func GetState(ctx context.Context) (*State, error) {
	state, ok := ctx.Value(stateKey).(*State)
	if !ok {
		return nil, fmt.Errorf("app state not found in context")
	}
	return state, nil
}

// StateMiddleware threads the app state through the request context so
// handlers resolve collaborators without package-level globals.
func StateMiddleware(state *State) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithState(c.Request.Context(), state)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
