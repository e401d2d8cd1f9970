package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/danmincu/pulstrate/pkg/logger"
)

// Response is the success envelope shared by every JSON endpoint.
type Response struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the error envelope: a short reason plus optional detail
// from the underlying error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// RespondOK writes a 200 response with the standard envelope.
func RespondOK(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Response{Data: data, Message: message})
}

// RespondCreated writes a 201 response with the standard envelope.
func RespondCreated(c *gin.Context, message string, data any) {
	c.JSON(http.StatusCreated, Response{Data: data, Message: message})
}

// RespondWithError writes the error envelope for a failed request and aborts
// the handler chain.
func RespondWithError(c *gin.Context, status int, reqErr *RequestError) {
	body := ErrorResponse{Error: reqErr.Reason}
	if reqErr.Err != nil {
		body.Details = reqErr.Err.Error()
	}
	logRequestFailure(c, status, reqErr.Reason, reqErr.Err)
	c.AbortWithStatusJSON(status, body)
}

// RespondWithServerError writes the error envelope for a server-side failure,
// deriving the status from the error code.
func RespondWithServerError(c *gin.Context, code string, message string, err error) {
	status := getStatusCode(code)
	body := ErrorResponse{Error: message}
	if err != nil {
		body.Details = err.Error()
	}
	logRequestFailure(c, status, message, err)
	c.AbortWithStatusJSON(status, body)
}

func logRequestFailure(c *gin.Context, status int, reason string, err error) {
	log := logger.FromContext(c.Request.Context())
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	fields := []any{
		"status", status,
		"reason", reason,
		"route", route,
		"method", c.Request.Method,
	}
	if err != nil {
		fields = append(fields, "error", err)
	}
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", fields...)
		return
	}
	log.Warn("Request failed", fields...)
}
