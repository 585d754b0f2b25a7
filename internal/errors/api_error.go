package errors

import (
	"net/http"
	"time"
)

// APIError is the error shape every HTTP handler writes. RetryAfter, when
// set, is sent as the Retry-After header.
type APIError struct {
	Status     int           `json:"-"`
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Details    interface{}   `json:"details,omitempty"`
	RetryAfter time.Duration `json:"-"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

func New(status int, code, message string) *APIError {
	return &APIError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

func Internal(message string) *APIError {
	if message == "" {
		message = "internal server error"
	}
	return New(http.StatusInternalServerError, "internal_error", message)
}

func BadRequest(code, message string) *APIError {
	return New(http.StatusBadRequest, code, message)
}

func InvalidJSON() *APIError {
	return BadRequest("invalid_json", "invalid request body")
}

func Unauthorized(message string) *APIError {
	if message == "" {
		message = "unauthorized"
	}
	return New(http.StatusUnauthorized, "unauthorized", message)
}

func Forbidden(message string) *APIError {
	if message == "" {
		message = "forbidden"
	}
	return New(http.StatusForbidden, "forbidden", message)
}

func NotFound(code, message string) *APIError {
	return New(http.StatusNotFound, code, message)
}

func Conflict(code, message string, details interface{}) *APIError {
	err := New(http.StatusConflict, code, message)
	err.Details = details
	return err
}

func TooManyRequests(code, message string, retryAfter time.Duration) *APIError {
	err := New(http.StatusTooManyRequests, code, message)
	err.RetryAfter = retryAfter
	return err
}

func Unavailable(code, message string) *APIError {
	return New(http.StatusServiceUnavailable, code, message)
}

func BadGateway(code, message string) *APIError {
	return New(http.StatusBadGateway, code, message)
}
