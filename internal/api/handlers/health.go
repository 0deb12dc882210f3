package handlers

import (
	"net/http"

	"github.com/matiasleandrokruk/lightspeed/internal/domain/assistant"
)

// IndexState reports whether the reference index load has run.
// *knowledge.IndexLoader satisfies it.
type IndexState interface {
	Attempted() bool
}

// HealthHandler serves the liveness and readiness endpoints.
type HealthHandler struct {
	index  IndexState
	models assistant.ModelLoader
}

// NewHealthHandler creates a HealthHandler. A nil index is treated as ready.
func NewHealthHandler(index IndexState, models assistant.ModelLoader) *HealthHandler {
	return &HealthHandler{index: index, models: models}
}

type readinessResponse struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason"`
}

type livenessResponse struct {
	Alive bool `json:"alive"`
}

// Readiness handles GET /readiness: ready once the index load has been
// attempted and the default model can be built.
func (h *HealthHandler) Readiness(w http.ResponseWriter, _ *http.Request) {
	if h.index != nil && !h.index.Attempted() {
		writeError(w, http.StatusServiceUnavailable, "Service is not ready", "index is not ready")
		return
	}
	if h.models == nil {
		writeError(w, http.StatusServiceUnavailable, "Service is not ready", "no model loader configured")
		return
	}
	provider, model := h.models.Default()
	if _, err := h.models.Load(provider, model, nil); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Service is not ready", "LLM is not ready: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, readinessResponse{Ready: true, Reason: "service is ready"})
}

// Liveness handles GET /liveness.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, livenessResponse{Alive: true})
}
