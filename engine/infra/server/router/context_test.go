package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmincu/pulstrate/engine/core"
)

func newTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v0/tasks", http.NoBody)
	return c, w
}

func TestGetOwnerID(t *testing.T) {
	t.Run("Should return the X-Owner-ID header value", func(t *testing.T) {
		c, _ := newTestContext(t)
		c.Request.Header.Set(OwnerHeader, "team-billing")
		assert.Equal(t, "team-billing", GetOwnerID(c))
	})
	t.Run("Should respond 400 when the header is missing", func(t *testing.T) {
		c, w := newTestContext(t)
		owner := GetOwnerID(c)
		assert.Empty(t, owner)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "missing X-Owner-ID header")
	})
}

func TestGetTaskID(t *testing.T) {
	t.Run("Should parse a valid task id param", func(t *testing.T) {
		c, _ := newTestContext(t)
		id := core.MustNewID()
		c.Params = gin.Params{{Key: "task_id", Value: id.String()}}
		assert.Equal(t, id, GetTaskID(c))
	})
	t.Run("Should respond 400 on a malformed task id", func(t *testing.T) {
		c, w := newTestContext(t)
		c.Params = gin.Params{{Key: "task_id", Value: "not-a-uuid"}}
		id := GetTaskID(c)
		assert.True(t, id.IsZero())
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid task id")
	})
}

func TestBearerToken(t *testing.T) {
	t.Run("Should strip the Bearer prefix", func(t *testing.T) {
		c, _ := newTestContext(t)
		c.Request.Header.Set("Authorization", "Bearer secret-token")
		assert.Equal(t, "secret-token", BearerToken(c))
	})
	t.Run("Should match the prefix case-insensitively", func(t *testing.T) {
		c, _ := newTestContext(t)
		c.Request.Header.Set("Authorization", "bearer secret-token")
		assert.Equal(t, "secret-token", BearerToken(c))
	})
	t.Run("Should ignore non-bearer authorization schemes", func(t *testing.T) {
		c, _ := newTestContext(t)
		c.Request.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		assert.Empty(t, BearerToken(c))
	})
	t.Run("Should return empty without an Authorization header", func(t *testing.T) {
		c, _ := newTestContext(t)
		assert.Empty(t, BearerToken(c))
	})
}

func TestGetAppState(t *testing.T) {
	t.Run("Should respond 503 when state was never attached", func(t *testing.T) {
		c, w := newTestContext(t)
		state := GetAppState(c)
		require.Nil(t, state)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), ErrMsgAppStateNotInitialized)
	})
}
