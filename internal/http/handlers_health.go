package httpx

import (
	"net/http"

	"github.com/scenesmith/scenesmith/internal/service"
)

// HealthHandlers serves liveness checks with job counts.
type HealthHandlers struct {
	Svc *service.JobService
}

// Health returns 200 OK with store counts for readiness/liveness checks.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}

	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusServiceUnavailable, ErrCode: "store_unavailable", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "jobs": stats})
}
