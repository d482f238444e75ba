// Package httpx provides HTTP handlers and utilities for the pressroom job API.
package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/pressroom/pressroom/internal/domain/model"
	"github.com/pressroom/pressroom/internal/service"
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc *service.JobService
}

const defaultLeaseSeconds = 30

// SubmitJob handles HTTP requests to submit a new job.
func (h *JobHandlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	resp, err := h.Svc.Submit(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, resp)
}

// GetStatus handles HTTP requests to retrieve the status of a specific job.
func (h *JobHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	status, err := h.Svc.GetStatus(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// Cancel handles HTTP requests to cancel a queued job.
func (h *JobHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	job, err := h.Svc.Cancel(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	resp := model.StatusResponseFromJob(job)
	WriteJSON(w, http.StatusOK, resp)
}

// Replay handles HTTP requests to requeue a dead-lettered job.
func (h *JobHandlers) Replay(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	job, err := h.Svc.Replay(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	resp := model.StatusResponseFromJob(job)
	WriteJSON(w, http.StatusOK, resp)
}

// Heartbeat handles HTTP requests to extend a job lease.
func (h *JobHandlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	var body struct {
		LeaseOwner    string `json:"lease_owner"`
		ExtendSeconds int    `json:"extend_seconds"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	if body.LeaseOwner == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_body", Err: errors.New("lease_owner is required")},
		)
		return
	}
	extend := body.ExtendSeconds
	if extend <= 0 {
		extend = defaultLeaseSeconds
	}

	success, err := h.Svc.Heartbeat(r.Context(), jobID, body.LeaseOwner, time.Duration(extend)*time.Second)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": success})
}

// Stats handles HTTP requests to retrieve job stats for a job kind.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	kind := model.JobKind(r.PathValue("kind"))
	if !kind.Valid() {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("unknown job kind")},
		)
		return
	}

	stats, err := h.Svc.Stats(r.Context(), kind)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// ReserveNext handles HTTP requests from out-of-process workers to reserve
// the next available job. Supports long polling via the wait query parameter.
func (h *JobHandlers) ReserveNext(w http.ResponseWriter, r *http.Request) {
	kind := model.JobKind(r.PathValue("kind"))
	if !kind.Valid() {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("unknown job kind")},
		)
		return
	}
	lease := parseIntQuery(r, "lease", defaultLeaseSeconds)
	wait := parseIntQuery(r, "wait", 0)

	// First attempt
	if job, err := h.tryReserveJob(r.Context(), kind, lease); err != nil {
		WriteAppError(w, err)
		return
	} else if job != nil {
		WriteJSON(w, http.StatusOK, job)
		return
	}

	if wait <= 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.handleLongPoll(w, r, longPollParams{
		kind:  kind,
		lease: lease,
		wait:  wait,
	})
}

func (h *JobHandlers) tryReserveJob(
	ctx context.Context,
	kind model.JobKind,
	lease int,
) (*model.Job, error) {
	job, err := h.Svc.ReserveNext(ctx, kind, time.Duration(lease)*time.Second)
	if err != nil && !errors.Is(err, model.ErrNoJobsAvailable) {
		return nil, err
	}
	return job, nil
}

type longPollParams struct {
	kind  model.JobKind
	lease int
	wait  int
}

func (h *JobHandlers) handleLongPoll(w http.ResponseWriter, r *http.Request, params longPollParams) {
	dur := time.Duration(params.wait) * time.Second
	if dur <= 0 {
		dur = time.Second
	}

	ctx, cancel := context.WithTimeout(r.Context(), dur)
	defer cancel()

	unsub, ch := h.Svc.Subscribe(params.kind)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			w.WriteHeader(http.StatusNoContent)
			return
		case <-ch:
			if job, err := h.tryReserveJob(ctx, params.kind, params.lease); err != nil {
				WriteAppError(w, err)
				return
			} else if job != nil {
				WriteJSON(w, http.StatusOK, job)
				return
			}
			// No job yet; keep waiting until ctx timeout to handle missed/duplicate signals.
		}
	}
}
