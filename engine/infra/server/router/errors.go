package router

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	ErrInternalCode           = "INTERNAL_ERROR"
	ErrBadRequestCode         = "BAD_REQUEST"
	ErrForbiddenCode          = "FORBIDDEN"
	ErrNotFoundCode           = "NOT_FOUND"
	ErrConflictCode           = "CONFLICT"
	ErrServiceUnavailableCode = "SERVICE_UNAVAILABLE"
)

// Error messages
const (
	ErrMsgAppStateNotInitialized = "application state not initialized"
)

// RequestError represents errors that can occur during request handling
type RequestError struct {
	Reason     string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// NewRequestError creates a new RequestError
func NewRequestError(statusCode int, reason string, err error) *RequestError {
	return &RequestError{
		StatusCode: statusCode,
		Reason:     reason,
		Err:        err,
	}
}

// IsRequestError checks if the given error is a RequestError
func IsRequestError(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr)
}

// getStatusCode returns the appropriate HTTP status code for an error code
func getStatusCode(code string) int {
	switch code {
	case ErrBadRequestCode:
		return http.StatusBadRequest
	case ErrForbiddenCode:
		return http.StatusForbidden
	case ErrNotFoundCode:
		return http.StatusNotFound
	case ErrConflictCode:
		return http.StatusConflict
	case ErrServiceUnavailableCode:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
