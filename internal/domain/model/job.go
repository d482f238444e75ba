// Package model defines the core data types and structures used throughout the pressroom job system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// JobKind selects the task handler that executes a job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobKind string

// JobStatus represents the current status of a job.
type JobStatus string

// PriorityTier is the submission-facing priority label. It maps to an
// integer priority column so ordering stays a single ORDER BY.
type PriorityTier string

const (
	// JobKindRender represents a document rendering job.
	JobKindRender JobKind = "render"
	// JobKindExport represents an export/conversion job for an already rendered document.
	JobKindExport JobKind = "export"

	// JobStatusQueued indicates a job is waiting to be leased by a worker.
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing indicates a worker currently holds a lease on the job.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job exhausted its retries or hit a permanent error.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates a job was cancelled before any worker picked it up.
	JobStatusCancelled JobStatus = "cancelled"

	// PriorityHigh jumps the queue ahead of normal traffic.
	PriorityHigh PriorityTier = "high"
	// PriorityNormal is the default tier.
	PriorityNormal PriorityTier = "normal"
	// PriorityLow is for bulk/backfill submissions.
	PriorityLow PriorityTier = "low"
)

// Priority weights per tier. Stored in the jobs.priority column.
const (
	PriorityWeightHigh   = 100
	PriorityWeightNormal = 50
	PriorityWeightLow    = 10
)

// ErrNoJobsAvailable is returned when no jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// UnmarshalText implements encoding.TextUnmarshaler for JobKind to allow env parsing.
func (k *JobKind) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jk := JobKind(v)
	if jk.Valid() {
		*k = jk
		return nil
	}
	return fmt.Errorf("invalid JobKind: %q", v)
}

// Valid returns true if the JobKind is valid.
func (k JobKind) Valid() bool {
	return k == JobKindRender || k == JobKindExport
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusQueued || s == JobStatusProcessing || s == JobStatusCompleted ||
		s == JobStatusFailed || s == JobStatusCancelled
}

// Terminal returns true for statuses a job can never leave.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Valid returns true if the PriorityTier is a known tier.
func (p PriorityTier) Valid() bool {
	return p == PriorityHigh || p == PriorityNormal || p == PriorityLow
}

// Weight maps the tier to its stored integer priority.
func (p PriorityTier) Weight() int {
	switch p {
	case PriorityHigh:
		return PriorityWeightHigh
	case PriorityLow:
		return PriorityWeightLow
	default:
		return PriorityWeightNormal
	}
}

// TierForWeight maps a stored priority back to its tier label for API responses.
func TierForWeight(weight int) PriorityTier {
	switch {
	case weight >= PriorityWeightHigh:
		return PriorityHigh
	case weight <= PriorityWeightLow:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Job represents a job in the system with all its metadata and status information.
type Job struct {
	ID             string          `json:"id"                         db:"id"`
	Kind           JobKind         `json:"kind"                       db:"kind"`
	Status         JobStatus       `json:"status"                     db:"status"`
	Priority       int             `json:"priority"                   db:"priority"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	CallbackURL    *string         `json:"callback_url,omitempty"     db:"callback_url"`
	RetryCount     int             `json:"retry_count"                db:"retry_count"`
	MaxRetries     int             `json:"max_retries"                db:"max_retries"`
	Result         json.RawMessage `json:"result,omitempty"           db:"result"`
	ErrorMessage   *string         `json:"error_message,omitempty"    db:"error_message"`
	LeaseOwner     *string         `json:"lease_owner,omitempty"      db:"lease_owner"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	ScheduledAt    time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// SubmitJobRequest represents a request to submit a new job.
type SubmitJobRequest struct {
	Kind        JobKind         `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Priority    PriorityTier    `json:"priority,omitempty"`
	CallbackURL *string         `json:"callback_url,omitempty"`
	MaxRetries  *int            `json:"max_retries,omitempty"`
}

// Validate validates the SubmitJobRequest fields.
func (r *SubmitJobRequest) Validate() error {
	if !r.Kind.Valid() {
		return errors.New("invalid job kind")
	}
	if len(r.Payload) == 0 || string(r.Payload) == "null" {
		return errors.New("payload is required")
	}
	if !json.Valid(r.Payload) {
		return errors.New("payload must be valid JSON")
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return errors.New("priority must be one of high, normal, low")
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	if r.CallbackURL != nil && *r.CallbackURL != "" {
		u, err := url.Parse(*r.CallbackURL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("callback url must be an absolute http(s) URL")
		}
	}
	return nil
}

// Tier returns the requested tier, defaulting to normal when omitted.
func (r *SubmitJobRequest) Tier() PriorityTier {
	if r.Priority == "" {
		return PriorityNormal
	}
	return r.Priority
}

// SubmitJobResponse is returned on successful submission.
type SubmitJobResponse struct {
	JobID               string    `json:"job_id"`
	Status              JobStatus `json:"status"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

// JobStats represents statistics about jobs in different states.
type JobStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// JobStatusResponse represents the status information for a specific job.
type JobStatusResponse struct {
	JobID        string          `json:"job_id"`
	Kind         JobKind         `json:"kind"`
	Status       JobStatus       `json:"status"`
	Priority     PriorityTier    `json:"priority"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// StatusResponseFromJob projects a Job row into its API status record.
func StatusResponseFromJob(j *Job) JobStatusResponse {
	return JobStatusResponse{
		JobID:        j.ID,
		Kind:         j.Kind,
		Status:       j.Status,
		Priority:     TierForWeight(j.Priority),
		RetryCount:   j.RetryCount,
		MaxRetries:   j.MaxRetries,
		Result:       j.Result,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		CompletedAt:  j.CompletedAt,
	}
}

// HealthResponse is the payload for the health endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	QueueDepth    int    `json:"queue_depth"`
	ActiveWorkers int    `json:"active_workers"`
}
