package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fireedge.io/gateway/internal/support"
	"fireedge.io/gateway/models"
)

// SupportHandler proxies the support ticketing portal.
type SupportHandler struct {
	client *support.Client
}

// NewSupportHandler creates a new support handler. client may be nil when
// support is disabled; every route then answers 404.
func NewSupportHandler(client *support.Client) *SupportHandler {
	return &SupportHandler{client: client}
}

// RequireEnabled rejects every support route while support is disabled.
func (h *SupportHandler) RequireEnabled() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.client.Enabled() {
			mapErrorToResponse(c, models.ErrSupportDisabled)
			c.Abort()
			return
		}
		c.Next()
	}
}

// Login handles POST /api/support/login.
func (h *SupportHandler) Login(c *gin.Context) {
	var req models.SupportLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "user must be an email and token is required")
		return
	}

	result, err := h.client.Login(c.Request.Context(), currentSession(c), req)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

// Logout handles DELETE /api/support/login.
func (h *SupportHandler) Logout(c *gin.Context) {
	if err := h.client.Logout(c.Request.Context(), currentSession(c)); err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccessWithMessage(c, http.StatusOK, "Logged out of support")
}

// ListTickets handles GET /api/support/tickets.
func (h *SupportHandler) ListTickets(c *gin.Context) {
	result, err := h.client.ListTickets(c.Request.Context(), currentSession(c))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

// ShowTicket handles GET /api/support/tickets/:id.
func (h *SupportHandler) ShowTicket(c *gin.Context) {
	ticket, err := h.client.ShowTicket(c.Request.Context(), currentSession(c), c.Param("id"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, ticket)
}

// CreateTicket handles POST /api/support/tickets.
func (h *SupportHandler) CreateTicket(c *gin.Context) {
	var req models.TicketCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.client.CreateTicket(c.Request.Context(), currentSession(c), req)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, result)
}

// UpdateTicket handles PUT /api/support/tickets/:id.
func (h *SupportHandler) UpdateTicket(c *gin.Context) {
	var req models.TicketUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.client.UpdateTicket(c.Request.Context(), currentSession(c), c.Param("id"), req)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, result)
}
