package core

import "fmt"

// Error is a serializable error with a machine-readable code and optional
// structured context. Service failures surface through it at the API
// boundary; executor failures are reduced to the task's state details.
type Error struct {
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// NewError wraps err with a code and optional details.
func NewError(err error, code string, details map[string]any) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Message: msg, Code: code, Details: details}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
