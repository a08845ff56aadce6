package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fireedge.io/gateway/internal/logging"
	"fireedge.io/gateway/models"
	"fireedge.io/gateway/pkg/token"
)

// Authenticator resolves a bearer token to a session.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Session, error)
}

// respondAuthError sends a generic authentication error.
func respondAuthError(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":      "unauthorized",
		"message":    "Authentication failed",
		"request_id": GetRequestID(c),
	})
}

// RequireSession requires an "Authorization: Bearer <token>" header naming a
// live session. The session and a logger carrying the user name are attached
// to the request.
func RequireSession(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided, ok := token.FromAuthorization(c.GetHeader("Authorization"))
		if !ok {
			respondAuthError(c)
			return
		}

		sess, err := authn.Authenticate(c.Request.Context(), provided)
		if errors.Is(err, models.ErrInvalidToken) {
			respondAuthError(c)
			return
		} else if err != nil {
			GetLogger(c).Error("session lookup failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":      "internal_error",
				"message":    "An internal error occurred",
				"request_id": GetRequestID(c),
			})
			return
		}

		SetSession(c, sess)

		logger := GetLogger(c).With(
			zap.String(logging.FieldUser, sess.Username),
			zap.String(logging.FieldSessionID, sess.ID))
		c.Set(ContextKeyLogger, logger)
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), logger))

		c.Next()
	}
}
