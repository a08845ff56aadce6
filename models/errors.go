package models

import (
	"errors"
	"fmt"
)

// Common error types used throughout the gateway.
// Handlers map these to HTTP status codes; the comment on each error names
// the status it becomes.

var (
	// ErrNotFound indicates the requested resource does not exist.
	// HTTP equivalent: 404 Not Found
	ErrNotFound = errors.New("resource not found")

	// ErrUnknownCommand indicates no command is registered for the resource/action pair.
	// HTTP equivalent: 404 Not Found
	ErrUnknownCommand = errors.New("unknown command")

	// ErrUnauthorized indicates the request lacks valid authentication credentials.
	// HTTP equivalent: 401 Unauthorized
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidToken indicates the session token is malformed, unknown or expired.
	// HTTP equivalent: 401 Unauthorized
	ErrInvalidToken = errors.New("invalid session token")

	// ErrSupportNotLogged indicates the session has no ticketing credentials.
	// HTTP equivalent: 401 Unauthorized
	ErrSupportNotLogged = errors.New("support session not established")

	// ErrForbidden indicates the authenticated user lacks permission for this operation.
	// HTTP equivalent: 403 Forbidden
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidRequest indicates the request body or parameters are invalid.
	// HTTP equivalent: 400 Bad Request
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMethodNotAllowed indicates the command exists but not for this HTTP method.
	// HTTP equivalent: 405 Method Not Allowed
	ErrMethodNotAllowed = errors.New("method not allowed for command")

	// ErrConflict indicates the resource already exists or is busy.
	// HTTP equivalent: 409 Conflict
	ErrConflict = errors.New("resource conflict")

	// ErrJobLocked indicates the provision side-file was locked by another writer.
	// HTTP equivalent: 409 Conflict
	ErrJobLocked = errors.New("provision mapping is locked")

	// ErrRateLimitExceeded indicates too many requests from this client.
	// HTTP equivalent: 429 Too Many Requests
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInternalError indicates an unexpected server-side error.
	// HTTP equivalent: 500 Internal Server Error
	ErrInternalError = errors.New("internal server error")

	// ErrDatabaseError indicates a database operation failed.
	// HTTP equivalent: 500 Internal Server Error
	ErrDatabaseError = errors.New("database error")

	// ErrUpstreamUnavailable indicates a backend is unreachable or its breaker is open.
	// HTTP equivalent: 503 Service Unavailable
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")

	// ErrSupportDisabled indicates the ticketing integration is not configured.
	// HTTP equivalent: 404 Not Found
	ErrSupportDisabled = errors.New("support integration disabled")

	// ErrTooManyJobs indicates the provision job queue is saturated.
	// HTTP equivalent: 503 Service Unavailable
	ErrTooManyJobs = errors.New("too many provision jobs running")
)

// UpstreamError is a failure reported by a backend (engine, oneflow,
// ticketing API or provisioning CLI). Message is the backend's own text and
// is forwarded to the client unchanged.
type UpstreamError struct {
	// Upstream names the backend ("engine", "oneflow", "support", "provision").
	Upstream string

	// Status is the HTTP status the gateway answers with.
	Status int

	// Code is the backend-specific error code, if any.
	Code int

	// Message is the backend error text.
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: [%d] %s", e.Upstream, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Upstream, e.Message)
}

// AsUpstream unwraps err into an *UpstreamError when possible.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// RateLimitError is returned when a client exhausted its budget.
// It matches ErrRateLimitExceeded with errors.Is.
type RateLimitError struct {
	// RetryAfter is the number of seconds until the next attempt is allowed.
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry after %ds", ErrRateLimitExceeded, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimitExceeded
}
