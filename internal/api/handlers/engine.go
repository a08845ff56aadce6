package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fireedge.io/gateway/internal/engine"
)

// EngineHandler proxies resource actions to the orchestration engine.
type EngineHandler struct {
	dispatcher *engine.Dispatcher
}

// NewEngineHandler creates a new engine handler.
func NewEngineHandler(dispatcher *engine.Dispatcher) *EngineHandler {
	return &EngineHandler{dispatcher: dispatcher}
}

// Dispatch returns the handler for /api/<resource>/:action[/:id].
//
// Inputs come from the :id path segment, the query string and an optional
// JSON object body. The engine result is returned as "data".
func (h *EngineHandler) Dispatch(resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := readBody(c)
		if err != nil {
			mapErrorToResponse(c, err)
			return
		}
		body, err := decodeObject(raw)
		if err != nil {
			mapErrorToResponse(c, err)
			return
		}

		in := engine.Inputs{
			ID:    c.Param("id"),
			Query: c.Request.URL.Query(),
			Body:  body,
		}

		sess := currentSession(c)
		result, err := h.dispatcher.Dispatch(c.Request.Context(), sess.EngineSession(),
			c.Request.Method, resource, c.Param("action"), in)
		if err != nil {
			mapErrorToResponse(c, err)
			return
		}

		respondSuccess(c, http.StatusOK, result)
	}
}

// Commands handles GET /api/commands, listing every registered command.
func (h *EngineHandler) Commands(c *gin.Context) {
	respondSuccess(c, http.StatusOK, h.dispatcher.Registry().List())
}
