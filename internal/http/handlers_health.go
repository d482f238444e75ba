package httpx

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/pressroom/pressroom/internal/domain/model"
	"github.com/pressroom/pressroom/internal/service"
)

// WorkerGauge reports how many workers are currently processing jobs.
// The HTTP-only service mode has no workers and reports zero.
type WorkerGauge interface {
	ActiveWorkers() int
}

// HealthHandlers answers readiness probes with queue state.
type HealthHandlers struct {
	DB  *sql.DB
	Svc *service.JobService
	// Workers is optional; nil means this process runs no workers.
	Workers WorkerGauge
	// DepthThreshold marks the service degraded when the queue backs up
	// beyond this many jobs. Zero disables the check.
	DepthThreshold int
}

const (
	healthPingTimeout = 2 * time.Second

	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
)

// Health reports service health, queue depth and active worker count.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{Status: healthStatusHealthy}

	ctx := r.Context()
	if h.DB != nil {
		pingCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
		if err := h.DB.PingContext(pingCtx); err != nil {
			resp.Status = healthStatusDegraded
		}
		cancel()
	}

	if h.Svc != nil {
		depth, err := h.Svc.QueueDepth(ctx)
		if err != nil {
			resp.Status = healthStatusDegraded
		} else {
			resp.QueueDepth = depth
			if h.DepthThreshold > 0 && depth > h.DepthThreshold {
				resp.Status = healthStatusDegraded
			}
		}
	}

	if h.Workers != nil {
		resp.ActiveWorkers = h.Workers.ActiveWorkers()
	}

	code := http.StatusOK
	if resp.Status != healthStatusHealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, resp)
}
