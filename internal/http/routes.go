package httpx

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/pressroom/pressroom/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs *service.JobService
	DB   *sql.DB
	// Workers is optional; only the worker service mode populates it.
	Workers WorkerGauge
	// QueueDepthThreshold marks /healthz degraded past this backlog. Zero disables.
	QueueDepthThreshold int
	Logger              *slog.Logger
}

// NewRouter creates and configures a new HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Svc: services.Jobs}
	deadLetterHandlers := &DeadLetterHandlers{Svc: services.Jobs}
	healthHandlers := &HealthHandlers{
		DB:             services.DB,
		Svc:            services.Jobs,
		Workers:        services.Workers,
		DepthThreshold: services.QueueDepthThreshold,
	}

	registerJobRoutes(mux, jobHandlers)
	registerDeadLetterRoutes(mux, deadLetterHandlers)
	mux.HandleFunc("GET /healthz", healthHandlers.Health)
	mux.HandleFunc("HEAD /healthz", healthHandlers.Health)

	return mux
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /api/jobs", h.SubmitJob)
	mux.HandleFunc("GET /api/jobs/{kind}/reserve_next", h.ReserveNext)
	mux.HandleFunc("GET /api/jobs/{kind}/stats", h.Stats)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetStatus)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /api/jobs/{id}/replay", h.Replay)
	mux.HandleFunc("POST /api/jobs/{id}/heartbeat", h.Heartbeat)
}

func registerDeadLetterRoutes(mux *http.ServeMux, h *DeadLetterHandlers) {
	mux.HandleFunc("GET /api/dead_letters", h.List)
	mux.HandleFunc("GET /api/jobs/{id}/dead_letters", h.ListByJob)
}
