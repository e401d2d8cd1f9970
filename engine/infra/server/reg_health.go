package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/danmincu/pulstrate/engine/infra/monitoring"
	"github.com/danmincu/pulstrate/engine/infra/server/appstate"
	"github.com/danmincu/pulstrate/pkg/logger"
	"github.com/danmincu/pulstrate/pkg/version"
)

// Health endpoint
//
//	@Summary      Get server health
//	@Description  Returns overall service health plus dispatcher and store status
//	@Tags         health
//	@Accept       json
//	@Produce      json
//	@Success      200 {object} map[string]interface{} "Service is healthy"
//	@Failure      503 {object} map[string]interface{} "Service is not ready"
//	@Router       /healthz [get]
func CreateHealthHandler(state *appstate.State) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ready, healthStatus, dispatcherStatus := buildDispatcherStatus(state)
		storeHealth := buildStoreHealth(ctx, state, &ready, &healthStatus)
		response := buildHealthResponse(healthStatus, ready, dispatcherStatus, storeHealth)
		statusCode := determineHealthStatusCode(ready)
		c.JSON(statusCode, gin.H{
			"data":    response,
			"message": "Success",
		})
	}
}

func buildDispatcherStatus(state *appstate.State) (bool, string, gin.H) {
	ready := true
	healthStatus := "healthy"
	running := state.Dispatcher != nil && state.Dispatcher.Running()
	dispatcherStatus := gin.H{
		"running": running,
		"healthy": monitoring.GetHealthyDispatcherCount(),
		"stale":   monitoring.GetStaleDispatcherCount(),
	}
	if running {
		dispatcherStatus["status"] = statusReady
	} else {
		dispatcherStatus["status"] = statusNotReady
		ready = false
		healthStatus = statusNotReady
	}
	return ready, healthStatus, dispatcherStatus
}

func buildStoreHealth(ctx context.Context, state *appstate.State, ready *bool, healthStatus *string) gin.H {
	if state.Store == nil {
		return nil
	}
	if err := state.Store.HealthCheck(ctx); err != nil {
		logger.FromContext(ctx).Warn("Readiness probe failed on store health check", "error", err)
		*ready = false
		*healthStatus = "degraded"
		return gin.H{"healthy": false, "error": err.Error()}
	}
	return gin.H{"healthy": true}
}

func buildHealthResponse(healthStatus string, ready bool, dispatcherStatus, storeHealth gin.H) gin.H {
	response := gin.H{
		"status":     healthStatus,
		"version":    version.GetVersion(),
		"ready":      ready,
		"dispatcher": dispatcherStatus,
	}
	if storeHealth != nil {
		response["store"] = storeHealth
	}
	return response
}

func determineHealthStatusCode(ready bool) int {
	if !ready {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
