package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/danmincu/pulstrate/engine/core"
	"github.com/danmincu/pulstrate/engine/infra/server/appstate"
)

// OwnerHeader carries the caller identity. Authentication happens upstream;
// the engine treats the value as an opaque owner key.
const OwnerHeader = "X-Owner-ID"

// GetAppState resolves the application state from the request context. On
// failure it writes a 503 and returns nil; handlers just return.
func GetAppState(c *gin.Context) *appstate.State {
	state, err := appstate.GetState(c.Request.Context())
	if err != nil {
		RespondWithServerError(c, ErrServiceUnavailableCode, ErrMsgAppStateNotInitialized, err)
		return nil
	}
	return state
}

// GetOwnerID reads the owner header. On failure it writes a 400 and returns
// the empty string.
func GetOwnerID(c *gin.Context) string {
	owner := strings.TrimSpace(c.GetHeader(OwnerHeader))
	if owner == "" {
		reqErr := NewRequestError(
			http.StatusBadRequest,
			fmt.Sprintf("missing %s header", OwnerHeader),
			nil,
		)
		RespondWithError(c, reqErr.StatusCode, reqErr)
		return ""
	}
	return owner
}

// GetTaskID parses the task_id path parameter. On failure it writes a 400
// and returns the zero ID.
func GetTaskID(c *gin.Context) core.ID {
	raw := c.Param("task_id")
	id, err := core.ParseID(raw)
	if err != nil {
		reqErr := NewRequestError(http.StatusBadRequest, "invalid task id", err)
		RespondWithError(c, reqErr.StatusCode, reqErr)
		return core.ID("")
	}
	return id
}

// GetGroupID reads the group_id path parameter. On failure it writes a 400
// and returns the empty string.
func GetGroupID(c *gin.Context) string {
	id := strings.TrimSpace(c.Param("group_id"))
	if id == "" {
		reqErr := NewRequestError(http.StatusBadRequest, "missing group id", nil)
		RespondWithError(c, reqErr.StatusCode, reqErr)
		return ""
	}
	return id
}

// BearerToken extracts the bearer token from the Authorization header, or ""
// when absent. The token is never validated here; it rides along on created
// tasks for downstream executors.
func BearerToken(c *gin.Context) string {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if auth == "" {
		return ""
	}
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}
