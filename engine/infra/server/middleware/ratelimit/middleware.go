package ratelimit

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/danmincu/pulstrate/pkg/logger"
)

// Middleware enforces the global per-client rate. Clients are keyed by IP.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.config.GlobalRate.Disabled {
			c.Next()
			return
		}
		path := c.Request.URL.Path
		for _, excluded := range m.config.ExcludedPaths {
			if strings.HasPrefix(path, excluded) {
				c.Next()
				return
			}
		}
		ctx := c.Request.Context()
		limiterCtx, err := m.limiter.Get(ctx, c.ClientIP())
		if err != nil {
			// Store errors fail open.
			logger.FromContext(ctx).Error("Rate limit store failure", "error", err)
			c.Next()
			return
		}
		if !m.config.DisableHeaders {
			c.Header("X-RateLimit-Limit", strconv.FormatInt(limiterCtx.Limit, 10))
			c.Header("X-RateLimit-Remaining", strconv.FormatInt(limiterCtx.Remaining, 10))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(limiterCtx.Reset, 10))
		}
		if limiterCtx.Reached {
			IncrementBlockedRequests(ctx, c.FullPath(), "ip")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
