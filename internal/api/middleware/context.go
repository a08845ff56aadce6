// Package middleware provides the gin middleware of the gateway API:
// request logging, metrics, CORS, rate limiting and session authentication.
package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fireedge.io/gateway/models"
)

// Context keys set by the middleware chain.
const (
	// ContextKeyRequestID stores the unique request ID for tracing.
	ContextKeyRequestID = "request_id"

	// ContextKeyLogger stores the request-scoped logger.
	ContextKeyLogger = "logger"

	// ContextKeySession stores the authenticated *models.Session.
	ContextKeySession = "session"
)

// GetLogger retrieves the request-scoped logger from Gin context.
// Returns a no-op logger if not found.
func GetLogger(c *gin.Context) *zap.Logger {
	if logger, exists := c.Get(ContextKeyLogger); exists {
		if l, ok := logger.(*zap.Logger); ok {
			return l
		}
	}
	return zap.NewNop()
}

// GetRequestID retrieves the request ID from Gin context.
// Returns empty string if not found.
func GetRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(ContextKeyRequestID); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}

// GetSession returns the session attached by RequireSession, or nil.
func GetSession(c *gin.Context) *models.Session {
	if val, exists := c.Get(ContextKeySession); exists {
		if sess, ok := val.(*models.Session); ok {
			return sess
		}
	}
	return nil
}

// SetSession attaches an authenticated session to the request.
func SetSession(c *gin.Context, sess *models.Session) {
	c.Set(ContextKeySession, sess)
}
