package server

import (
	"context"

	"github.com/gin-gonic/gin"

	grouprouter "github.com/danmincu/pulstrate/engine/group/router"
	"github.com/danmincu/pulstrate/engine/infra/server/appstate"
	"github.com/danmincu/pulstrate/engine/infra/server/routes"
	tkrouter "github.com/danmincu/pulstrate/engine/task/router"
	"github.com/danmincu/pulstrate/pkg/logger"
)

// RegisterRoutes mounts the versioned API surface and the health probe.
func RegisterRoutes(ctx context.Context, router *gin.Engine, state *appstate.State) error {
	apiBase := router.Group(routes.Base())
	tkrouter.Register(apiBase)
	grouprouter.Register(apiBase)
	router.GET(routes.Healthz(), CreateHealthHandler(state))

	logger.FromContext(ctx).Info("Completed route registration",
		"base_path", routes.Base(),
		"total_groups", len(state.Groups.List()),
	)
	return nil
}
