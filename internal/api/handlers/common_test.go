package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fireedge.io/gateway/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMapErrorToResponse(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{
			name:    "backend message is forwarded",
			err:     &models.UpstreamError{Upstream: "engine", Status: http.StatusForbidden, Code: 0x0200, Message: "[one.vm.info] User [2] : Not authorized"},
			status:  http.StatusForbidden,
			code:    "forbidden",
			message: "[one.vm.info] User [2] : Not authorized",
		},
		{
			name:    "wrapped backend error",
			err:     fmt.Errorf("listing: %w", &models.UpstreamError{Upstream: "oneflow", Status: http.StatusLocked, Message: "locked"}),
			status:  http.StatusLocked,
			code:    "locked",
			message: "locked",
		},
		{
			name:   "invalid request",
			err:    fmt.Errorf("%w: id must be numeric", models.ErrInvalidRequest),
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
		{name: "unknown command", err: models.ErrUnknownCommand, status: http.StatusNotFound, code: "not_found"},
		{name: "method not allowed", err: models.ErrMethodNotAllowed, status: http.StatusMethodNotAllowed, code: "method_not_allowed"},
		{name: "support disabled", err: models.ErrSupportDisabled, status: http.StatusNotFound, code: "support_disabled"},
		{name: "support not logged", err: models.ErrSupportNotLogged, status: http.StatusUnauthorized, code: "unauthorized"},
		{name: "invalid token", err: models.ErrInvalidToken, status: http.StatusUnauthorized, code: "unauthorized", message: "Authentication failed"},
		{name: "conflict", err: models.ErrConflict, status: http.StatusConflict, code: "conflict"},
		{name: "mapping locked", err: models.ErrJobLocked, status: http.StatusLocked, code: "locked"},
		{name: "too many jobs", err: models.ErrTooManyJobs, status: http.StatusServiceUnavailable, code: "service_unavailable"},
		{name: "breaker open", err: fmt.Errorf("%w: engine", models.ErrUpstreamUnavailable), status: http.StatusServiceUnavailable, code: "service_unavailable"},
		{name: "timeout", err: context.DeadlineExceeded, status: http.StatusGatewayTimeout, code: "gateway_timeout"},
		{name: "unknown", err: errors.New("disk on fire"), status: http.StatusInternalServerError, code: "internal_error", message: "An internal error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			mapErrorToResponse(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error)
			if tt.message != "" {
				assert.Equal(t, tt.message, body.Message)
			}
		})
	}
}

func TestMapErrorToResponse_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	mapErrorToResponse(c, &models.RateLimitError{RetryAfter: 12})

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "12", w.Header().Get("Retry-After"))
}

func TestDecodeObject(t *testing.T) {
	obj, err := decodeObject(nil)
	require.NoError(t, err)
	assert.Nil(t, obj)

	obj, err = decodeObject([]byte(`{"id": 12345678901, "name": "x"}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901"), obj["id"])

	_, err = decodeObject([]byte(`"text"`))
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}
