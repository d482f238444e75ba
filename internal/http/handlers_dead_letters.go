package httpx

import (
	"errors"
	"net/http"

	"github.com/pressroom/pressroom/internal/domain/model"
	"github.com/pressroom/pressroom/internal/service"
)

// DeadLetterHandlers provides HTTP handlers for inspecting dead-lettered jobs.
type DeadLetterHandlers struct {
	Svc *service.JobService
}

const defaultDeadLetterLimit = 100

type deadLetterListResponse struct {
	DeadLetters []model.DeadLetter `json:"dead_letters"`
}

// List handles HTTP requests to list dead-letter records across all jobs,
// newest first. Replayed records are hidden unless include_replayed is set.
func (h *DeadLetterHandlers) List(w http.ResponseWriter, r *http.Request) {
	includeReplayed := parseBoolQuery(r, "include_replayed")
	limit := parseIntQuery(r, "limit", defaultDeadLetterLimit)

	letters, err := h.Svc.DeadLetters(r.Context(), includeReplayed, limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if letters == nil {
		letters = []model.DeadLetter{}
	}
	WriteJSON(w, http.StatusOK, deadLetterListResponse{DeadLetters: letters})
}

// ListByJob handles HTTP requests for the dead-letter history of one job.
func (h *DeadLetterHandlers) ListByJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	letters, err := h.Svc.DeadLettersForJob(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if letters == nil {
		letters = []model.DeadLetter{}
	}
	WriteJSON(w, http.StatusOK, deadLetterListResponse{DeadLetters: letters})
}
