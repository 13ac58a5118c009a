package authmodel

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the authentication service. Detail
// carries the server-supplied human-readable message when one was present
// in the response body.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("auth service returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("auth service returned %d", e.StatusCode)
}

// StatusCode extracts the HTTP status from an error chain. It returns 0
// when the error is not an APIError, which classifies the failure as
// transport-level (timeout, connection refused) rather than a service
// verdict.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// ErrorDetail returns the server-supplied detail message, if any.
func ErrorDetail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return ""
}

// IsUnauthorized reports whether err is a 401 service verdict.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// IsForbidden reports whether err is a 403 service verdict.
func IsForbidden(err error) bool {
	return StatusCode(err) == http.StatusForbidden
}

// IsTransient reports whether err never reached a service verdict: the
// request failed at the transport level. Transient failures must never
// clear stored credentials.
func IsTransient(err error) bool {
	return err != nil && StatusCode(err) == 0
}

// UserMessage resolves an error to a single human-readable string.
// Precedence: server-supplied detail, then the endpoint-specific fallback,
// then a generic failure message.
func UserMessage(err error, fallback string) string {
	if detail := ErrorDetail(err); detail != "" {
		return detail
	}
	if fallback != "" {
		return fallback
	}
	return "request failed, please try again"
}
