package model

import (
	"encoding/json"
	"time"
)

// WebhookEvent is the outbound notification body posted to a job's callback URL.
// Exactly one of the terminal shapes is populated depending on Status.
type WebhookEvent struct {
	JobID       string          `json:"job_id"`
	Status      JobStatus       `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	RetryCount  *int            `json:"retry_count,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	FailedAt    *time.Time      `json:"failed_at,omitempty"`
}

// WebhookDeliveryAttempt records one delivery attempt against a callback URL.
// Attempts are append-only and never influence the job row itself.
type WebhookDeliveryAttempt struct {
	ID          int64     `json:"id"           db:"id"`
	JobID       string    `json:"job_id"       db:"job_id"`
	Attempt     int       `json:"attempt"      db:"attempt"`
	URL         string    `json:"url"          db:"url"`
	HTTPStatus  *int      `json:"http_status,omitempty" db:"http_status"`
	Succeeded   bool      `json:"succeeded"    db:"succeeded"`
	Error       *string   `json:"error,omitempty" db:"error"`
	AttemptedAt time.Time `json:"attempted_at" db:"attempted_at"`
}

// DeadLetter is an append-only record of a job that exhausted its retries
// or hit a permanent error. Replaying a job stamps replayed_at but keeps the row.
type DeadLetter struct {
	ID             int64      `json:"id"              db:"id"`
	JobID          string     `json:"job_id"          db:"job_id"`
	Kind           JobKind    `json:"kind"            db:"kind"`
	Reason         string     `json:"reason"          db:"reason"`
	RetryCount     int        `json:"retry_count"     db:"retry_count"`
	DeadLetteredAt time.Time  `json:"dead_lettered_at" db:"dead_lettered_at"`
	ReplayedAt     *time.Time `json:"replayed_at,omitempty" db:"replayed_at"`
}
