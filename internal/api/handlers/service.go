package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"fireedge.io/gateway/internal/oneflow"
	"fireedge.io/gateway/internal/upstream"
)

// ServiceHandler proxies services and service templates to oneflow.
// Bodies are validated by the oneflow package and forwarded unchanged.
type ServiceHandler struct {
	client *oneflow.Client
}

// NewServiceHandler creates a new service handler.
func NewServiceHandler(client *oneflow.Client) *ServiceHandler {
	return &ServiceHandler{client: client}
}

type (
	readCall  func(ctx context.Context, creds upstream.Credentials) (json.RawMessage, error)
	idCall    func(ctx context.Context, creds upstream.Credentials, id string) (json.RawMessage, error)
	bodyCall  func(ctx context.Context, creds upstream.Credentials, body []byte) (json.RawMessage, error)
	writeCall func(ctx context.Context, creds upstream.Credentials, id string, body []byte) (json.RawMessage, error)
)

func (h *ServiceHandler) forward(c *gin.Context, status int, result json.RawMessage, err error) {
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, status, result)
}

func (h *ServiceHandler) read(call readCall) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := call(c.Request.Context(), sessionCredentials(currentSession(c)))
		h.forward(c, http.StatusOK, result, err)
	}
}

func (h *ServiceHandler) byID(call idCall) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := call(c.Request.Context(), sessionCredentials(currentSession(c)), c.Param("id"))
		h.forward(c, http.StatusOK, result, err)
	}
}

func (h *ServiceHandler) create(call bodyCall) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readBody(c)
		if err != nil {
			mapErrorToResponse(c, err)
			return
		}
		result, err := call(c.Request.Context(), sessionCredentials(currentSession(c)), body)
		h.forward(c, http.StatusCreated, result, err)
	}
}

func (h *ServiceHandler) write(call writeCall) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readBody(c)
		if err != nil {
			mapErrorToResponse(c, err)
			return
		}
		result, err := call(c.Request.Context(), sessionCredentials(currentSession(c)), c.Param("id"), body)
		h.forward(c, http.StatusOK, result, err)
	}
}

// ListServices handles GET /api/service.
func (h *ServiceHandler) ListServices() gin.HandlerFunc { return h.read(h.client.List) }

// ShowService handles GET /api/service/:id.
func (h *ServiceHandler) ShowService() gin.HandlerFunc { return h.byID(h.client.Show) }

// DeleteService handles DELETE /api/service/:id.
func (h *ServiceHandler) DeleteService() gin.HandlerFunc { return h.byID(h.client.Delete) }

// ServiceAction handles POST /api/service/:id/action.
func (h *ServiceHandler) ServiceAction() gin.HandlerFunc { return h.write(h.client.Action) }

// ScaleService handles POST /api/service/:id/scale.
func (h *ServiceHandler) ScaleService() gin.HandlerFunc { return h.write(h.client.Scale) }

// RoleAction handles POST /api/service/:id/role/:role/action.
func (h *ServiceHandler) RoleAction() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readBody(c)
		if err != nil {
			mapErrorToResponse(c, err)
			return
		}
		result, err := h.client.RoleAction(c.Request.Context(), sessionCredentials(currentSession(c)),
			c.Param("id"), c.Param("role"), body)
		h.forward(c, http.StatusOK, result, err)
	}
}

// ListTemplates handles GET /api/service_template.
func (h *ServiceHandler) ListTemplates() gin.HandlerFunc { return h.read(h.client.ListTemplates) }

// ShowTemplate handles GET /api/service_template/:id.
func (h *ServiceHandler) ShowTemplate() gin.HandlerFunc { return h.byID(h.client.ShowTemplate) }

// CreateTemplate handles POST /api/service_template.
func (h *ServiceHandler) CreateTemplate() gin.HandlerFunc { return h.create(h.client.CreateTemplate) }

// UpdateTemplate handles PUT /api/service_template/:id.
func (h *ServiceHandler) UpdateTemplate() gin.HandlerFunc { return h.write(h.client.UpdateTemplate) }

// DeleteTemplate handles DELETE /api/service_template/:id.
func (h *ServiceHandler) DeleteTemplate() gin.HandlerFunc { return h.byID(h.client.DeleteTemplate) }

// InstantiateTemplate handles POST /api/service_template/:id/action.
func (h *ServiceHandler) InstantiateTemplate() gin.HandlerFunc {
	return h.write(h.client.InstantiateTemplate)
}
