package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fireedge.io/gateway/internal/auth"
	"fireedge.io/gateway/models"
)

// AuthHandler handles console login and logout.
type AuthHandler struct {
	service *auth.Service
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(service *auth.Service) *AuthHandler {
	return &AuthHandler{service: service}
}

// SessionResponse describes the caller's session.
type SessionResponse struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ExpiresAt string `json:"expires_at"`
	Support   bool   `json:"support"`
}

// Login handles POST /api/auth.
//
// Request body: {"user": "...", "token": "<password>", "remember": false}
// Response: 200 OK with the session token, 401 on bad credentials,
// 429 with Retry-After once the client failed too often.
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "user and token are required")
		return
	}

	resp, err := h.service.Login(c.Request.Context(), req, c.ClientIP())
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, resp)
}

// Session handles GET /api/auth.
func (h *AuthHandler) Session(c *gin.Context) {
	sess := currentSession(c)
	respondSuccess(c, http.StatusOK, SessionResponse{
		ID:        sess.UserID,
		Name:      sess.Username,
		ExpiresAt: sess.ExpiresAt.UTC().Format(http.TimeFormat),
		Support:   sess.HasSupport(),
	})
}

// Logout handles DELETE /api/auth.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.service.Logout(c.Request.Context(), currentSession(c)); err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccessWithMessage(c, http.StatusOK, "Logged out")
}
