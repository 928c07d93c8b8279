package httpx

import (
	"log/slog"
	"net/http"

	"github.com/scenesmith/scenesmith/config"
	"github.com/scenesmith/scenesmith/internal/service"
)

// RouterServices holds the services needed by the HTTP router.
type RouterServices struct {
	Jobs   *service.JobService
	Status *service.StatusService
	HTTP   config.HTTPConfig
	Logger *slog.Logger
}

// NewRouter creates and configures the HTTP router. Middleware is applied by
// the caller.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{
		Svc:    services.Jobs,
		Status: services.Status,
		Config: services.HTTP,
		Logger: services.Logger,
	}
	healthHandlers := &HealthHandlers{Svc: services.Jobs}

	registerJobRoutes(mux, jobHandlers)
	mux.HandleFunc("GET /healthz", healthHandlers.Health)
	mux.HandleFunc("HEAD /healthz", healthHandlers.Health)

	return mux
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /api/jobs", h.CreateJob)
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}/status", h.GetStatus)
	mux.HandleFunc("GET /api/jobs/{id}/artifacts/{kind}", h.DownloadArtifact)
	mux.HandleFunc("DELETE /api/jobs/{id}", h.DeleteJob)
}
