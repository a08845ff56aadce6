package handlers

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"fireedge.io/gateway/internal/upstream"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db       *sql.DB
	version  string
	engine   *upstream.Breaker
	breakers []*upstream.Breaker
}

// NewHealthHandler creates a new health check handler.
//
// Parameters:
//   - db: Database connection for readiness checks
//   - version: Build version reported by the probes
//   - engine: Breaker of the engine; an open breaker makes the gateway unready
//   - others: Breakers of optional backends, reported but not gating
func NewHealthHandler(db *sql.DB, version string, engine *upstream.Breaker, others ...*upstream.Breaker) *HealthHandler {
	breakers := []*upstream.Breaker{}
	if engine != nil {
		breakers = append(breakers, engine)
	}
	for _, b := range others {
		if b != nil {
			breakers = append(breakers, b)
		}
	}
	return &HealthHandler{db: db, version: version, engine: engine, breakers: breakers}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Database  string            `json:"database"`
	Upstreams map[string]string `json:"upstreams"`
}

// Liveness handles GET /health/live.
//
// Response: 200 OK as long as the HTTP server is running.
func (h *HealthHandler) Liveness(c *gin.Context) {
	respondSuccess(c, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
	})
}

// Readiness handles GET /health/ready.
//
// Returns:
//   - 200 OK when the database answers and the engine breaker is not open
//   - 503 Service Unavailable otherwise
func (h *HealthHandler) Readiness(c *gin.Context) {
	if err := h.db.PingContext(c.Request.Context()); err != nil {
		respondError(c, http.StatusServiceUnavailable, "unhealthy", "Database unavailable")
		return
	}

	states := make(map[string]string, len(h.breakers))
	for _, b := range h.breakers {
		states[b.Name()] = b.State()
	}

	if h.engine != nil && h.engine.Open() {
		respondError(c, http.StatusServiceUnavailable, "unhealthy", "Engine unavailable")
		return
	}

	respondSuccess(c, http.StatusOK, ReadinessResponse{
		Status:    "ready",
		Version:   h.version,
		Database:  "connected",
		Upstreams: states,
	})
}
