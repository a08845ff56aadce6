package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"fireedge.io/gateway/internal/provision"
	"fireedge.io/gateway/models"
)

// ProvisionHandler exposes the provisioning CLI: synchronous reads and
// host or provider operations, and asynchronous create/delete jobs.
type ProvisionHandler struct {
	manager *provision.Manager
	runner  *provision.Runner
}

// NewProvisionHandler creates a new provision handler.
func NewProvisionHandler(manager *provision.Manager) *ProvisionHandler {
	return &ProvisionHandler{manager: manager, runner: manager.Runner()}
}

// ListProvisions handles GET /api/provision.
func (h *ProvisionHandler) ListProvisions(c *gin.Context) {
	result, err := h.runner.ListProvisions(c.Request.Context(), sessionCredentials(currentSession(c)))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

// ShowProvision handles GET /api/provision/:id.
func (h *ProvisionHandler) ShowProvision(c *gin.Context) {
	result, err := h.runner.ShowProvision(c.Request.Context(), sessionCredentials(currentSession(c)), c.Param("id"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

// CreateProvision handles POST /api/provision.
//
// Request body: the provision template as a JSON object.
// Response: 202 Accepted with the job record; follow it with
// GET /api/provision/job/:uuid or GET /api/provision/:uuid/log.
func (h *ProvisionHandler) CreateProvision(c *gin.Context) {
	var template map[string]interface{}
	if err := c.ShouldBindJSON(&template); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "provision template must be a JSON object")
		return
	}

	sess := currentSession(c)
	job, err := h.manager.Create(c.Request.Context(), sessionCredentials(sess), sess.Username, template)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusAccepted, job)
}

// DeleteProvision handles DELETE /api/provision/:id. Runs asynchronously.
func (h *ProvisionHandler) DeleteProvision(c *gin.Context) {
	sess := currentSession(c)
	job, err := h.manager.Delete(c.Request.Context(), sessionCredentials(sess), sess.Username, c.Param("id"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusAccepted, job)
}

// Log handles GET /api/provision/:id/log. id is a provision ID or a job UUID.
// The same ownership rule as ownedJob applies; logs without a surviving job
// record are visible to the administrator only.
func (h *ProvisionHandler) Log(c *gin.Context) {
	id := c.Param("id")
	log, err := h.manager.Log(c.Request.Context(), id)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	if sess := currentSession(c); sess.UserID != 0 && log.Owner != sess.Username {
		mapErrorToResponse(c, fmt.Errorf("%w: no log for %s", models.ErrNotFound, id))
		return
	}
	respondSuccess(c, http.StatusOK, log)
}

// ownedJob loads a job the caller may see. The engine administrator
// (user ID 0) sees every job; other users only their own.
func (h *ProvisionHandler) ownedJob(c *gin.Context) (*models.ProvisionJob, error) {
	job, err := h.manager.Job(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		return nil, err
	}
	sess := currentSession(c)
	if sess.UserID != 0 && job.Owner != sess.Username {
		return nil, fmt.Errorf("%w: job %s", models.ErrNotFound, job.ID)
	}
	return job, nil
}

// Job handles GET /api/provision/job/:uuid.
func (h *ProvisionHandler) Job(c *gin.Context) {
	job, err := h.ownedJob(c)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, job)
}

// CancelJob handles DELETE /api/provision/job/:uuid.
func (h *ProvisionHandler) CancelJob(c *gin.Context) {
	job, err := h.ownedJob(c)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	if err := h.manager.Cancel(c.Request.Context(), job.ID); err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccessWithMessage(c, http.StatusAccepted, "Cancellation requested")
}

// HostAction handles POST /api/provision/host/:action/:id.
func (h *ProvisionHandler) HostAction(c *gin.Context) {
	err := h.runner.HostAction(c.Request.Context(), sessionCredentials(currentSession(c)), c.Param("action"), c.Param("id"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"id": c.Param("id"), "action": c.Param("action")})
}

// ListProviders handles GET /api/provider.
func (h *ProvisionHandler) ListProviders(c *gin.Context) {
	result, err := h.runner.ListProviders(c.Request.Context(), sessionCredentials(currentSession(c)))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

// ShowProvider handles GET /api/provider/:id.
func (h *ProvisionHandler) ShowProvider(c *gin.Context) {
	result, err := h.runner.ShowProvider(c.Request.Context(), sessionCredentials(currentSession(c)), c.Param("id"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

// DeleteProvider handles DELETE /api/provider/:id.
func (h *ProvisionHandler) DeleteProvider(c *gin.Context) {
	if err := h.runner.DeleteProvider(c.Request.Context(), sessionCredentials(currentSession(c)), c.Param("id")); err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccessWithMessage(c, http.StatusOK, "Provider deleted")
}
