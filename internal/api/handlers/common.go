// Package handlers provides the HTTP handlers of the gateway API.
//
// Handlers bind and validate the request, call the owning service package
// and translate its result into the JSON envelope shared by every route.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fireedge.io/gateway/internal/api/middleware"
	"fireedge.io/gateway/internal/upstream"
	"fireedge.io/gateway/models"
)

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	// Error is the error code (e.g., "unauthorized", "not_found").
	Error string `json:"error"`

	// Message is a human-readable error message. Backend failures carry
	// the backend's own text.
	Message string `json:"message"`

	// RequestID is the unique request ID for tracing.
	RequestID string `json:"request_id,omitempty"`
}

// SuccessResponse represents a standardized success response with data.
type SuccessResponse struct {
	// Data contains the response payload.
	Data interface{} `json:"data,omitempty"`

	// Message is an optional success message.
	Message string `json:"message,omitempty"`
}

func respondError(c *gin.Context, statusCode int, errorCode string, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestID: middleware.GetRequestID(c),
	})
}

func respondSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, SuccessResponse{
		Data: data,
	})
}

func respondSuccessWithMessage(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, SuccessResponse{
		Message: message,
	})
}

// errorCodes names the error field for statuses backends may report.
var errorCodes = map[int]string{
	http.StatusBadRequest:          "invalid_request",
	http.StatusUnauthorized:        "unauthorized",
	http.StatusForbidden:           "forbidden",
	http.StatusNotFound:            "not_found",
	http.StatusMethodNotAllowed:    "method_not_allowed",
	http.StatusConflict:            "conflict",
	http.StatusLocked:              "locked",
	http.StatusUnprocessableEntity: "invalid_request",
	http.StatusTooManyRequests:     "rate_limit_exceeded",
	http.StatusBadGateway:          "bad_gateway",
	http.StatusServiceUnavailable:  "service_unavailable",
	http.StatusGatewayTimeout:      "gateway_timeout",
}

func codeForStatus(status int) string {
	if code, ok := errorCodes[status]; ok {
		return code
	}
	if status >= 500 {
		return "internal_error"
	}
	return "request_failed"
}

// mapErrorToResponse converts an error from the service packages into an
// HTTP response. Backend failures keep the backend's status and message;
// gateway errors map by sentinel. Unknown errors are logged and hidden.
func mapErrorToResponse(c *gin.Context, err error) {
	_ = c.Error(err)

	var rl *models.RateLimitError
	if errors.As(err, &rl) {
		c.Header("Retry-After", strconv.Itoa(rl.RetryAfter))
		respondError(c, http.StatusTooManyRequests, "rate_limit_exceeded", err.Error())
		return
	}

	if ue, ok := models.AsUpstream(err); ok {
		if ue.Status >= 500 {
			middleware.GetLogger(c).Warn("backend failure",
				zap.String("upstream", ue.Upstream),
				zap.Int("code", ue.Code),
				zap.String("message", ue.Message))
		}
		respondError(c, ue.Status, codeForStatus(ue.Status), ue.Message)
		return
	}

	switch {
	case errors.Is(err, models.ErrSupportDisabled):
		respondError(c, http.StatusNotFound, "support_disabled", err.Error())

	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrUnknownCommand):
		respondError(c, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, models.ErrInvalidToken):
		respondError(c, http.StatusUnauthorized, "unauthorized", "Authentication failed")

	case errors.Is(err, models.ErrUnauthorized), errors.Is(err, models.ErrSupportNotLogged):
		respondError(c, http.StatusUnauthorized, "unauthorized", err.Error())

	case errors.Is(err, models.ErrForbidden):
		respondError(c, http.StatusForbidden, "forbidden", err.Error())

	case errors.Is(err, models.ErrInvalidRequest):
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())

	case errors.Is(err, models.ErrMethodNotAllowed):
		respondError(c, http.StatusMethodNotAllowed, "method_not_allowed", err.Error())

	case errors.Is(err, models.ErrConflict):
		respondError(c, http.StatusConflict, "conflict", err.Error())

	case errors.Is(err, models.ErrJobLocked):
		respondError(c, http.StatusLocked, "locked", err.Error())

	case errors.Is(err, models.ErrRateLimitExceeded):
		respondError(c, http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limit exceeded")

	case errors.Is(err, models.ErrTooManyJobs), errors.Is(err, models.ErrUpstreamUnavailable):
		respondError(c, http.StatusServiceUnavailable, "service_unavailable", err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "gateway_timeout", "Backend did not answer in time")

	default:
		middleware.GetLogger(c).Error("request failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "internal_error", "An internal error occurred")
	}
}

// currentSession returns the session set by middleware.RequireSession.
// Handlers behind that middleware can rely on it being present.
func currentSession(c *gin.Context) *models.Session {
	sess := middleware.GetSession(c)
	if sess == nil {
		panic("handler mounted without session middleware")
	}
	return sess
}

// sessionCredentials is the "user:engine token" pair every backend accepts.
func sessionCredentials(s *models.Session) upstream.Credentials {
	return upstream.Credentials{Username: s.Username, Password: s.EngineToken}
}

// readBody returns the raw request body. An empty body is returned as nil.
func readBody(c *gin.Context) ([]byte, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read body: %v", models.ErrInvalidRequest, err)
	}
	return raw, nil
}

// decodeObject parses an optional JSON object body keeping numbers exact.
func decodeObject(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var obj map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: request body must be a JSON object", models.ErrInvalidRequest)
	}
	return obj, nil
}
