package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pressroom/pressroom/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// CompleteJobParams groups parameters for committing a successful result.
type CompleteJobParams struct {
	ID         string
	LeaseOwner string
	Result     json.RawMessage
}

// FailJobParams groups parameters for recording a handler failure.
type FailJobParams struct {
	ID           string
	LeaseOwner   string
	ErrorMessage string
	Retry        bool
	RetryDelay   time.Duration
	Reason       string
}

// JobRepository defines the interface for job queue and store operations.
type JobRepository interface {
	Create(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	ReserveNext(ctx context.Context, kind model.JobKind, leaseSeconds int) (*model.Job, error)
	WaitForNotification(ctx context.Context, kind model.JobKind) error
	Heartbeat(ctx context.Context, jobID, leaseOwner string, leaseSeconds int) (bool, error)
	Complete(ctx context.Context, params CompleteJobParams) error
	Fail(ctx context.Context, params FailJobParams) (*model.Job, error)
	Cancel(ctx context.Context, id string) (*model.Job, error)
	Replay(ctx context.Context, id string) (*model.Job, error)
	Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error)
	QueueDepth(ctx context.Context) (int, error)
	QueuePosition(ctx context.Context, job *model.Job) (int, error)
}

// DeadLetterRepository defines the read side of the dead-letter log.
type DeadLetterRepository interface {
	List(ctx context.Context, includeReplayed bool, limit int) ([]model.DeadLetter, error)
	ListByJob(ctx context.Context, jobID string) ([]model.DeadLetter, error)
}

// WebhookDeliveryRepository persists webhook delivery attempts.
type WebhookDeliveryRepository interface {
	RecordAttempt(ctx context.Context, attempt *model.WebhookDeliveryAttempt) error
	ListByJob(ctx context.Context, jobID string) ([]model.WebhookDeliveryAttempt, error)
}

// TerminalStatusCache caches status responses for jobs in terminal states.
type TerminalStatusCache interface {
	Get(ctx context.Context, jobID string) (*model.JobStatusResponse, bool, error)
	Set(ctx context.Context, resp *model.JobStatusResponse) error
	Invalidate(ctx context.Context, jobID string) error
}

// WebhookNotifier accepts terminal-state notifications for asynchronous
// delivery. Enqueue never blocks on network I/O.
type WebhookNotifier interface {
	Enqueue(event model.WebhookEvent, callbackURL string) bool
}

// Renderer is the boundary to the external rendering engine.
type Renderer interface {
	Render(ctx context.Context, jobID string, payload json.RawMessage) ([]byte, string, error)
}

// ArtifactStore is the boundary to the external artifact object store.
// Put is idempotent on jobID: re-running a job overwrites the same key.
type ArtifactStore interface {
	Put(ctx context.Context, jobID, contentType string, body []byte) (string, error)
}

// DeleteOldJobsParams groups parameters for DeleteOldJobs.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository defines the interface for retention cleanup operations.
type ReaperRepository interface {
	// DeleteOldJobs deletes terminal jobs with the given status older than maxAge.
	// Processes up to batchSize jobs per call to prevent long locks.
	// Returns the number of jobs deleted.
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)

	// DeleteOldDeadLetters deletes dead-letter rows older than maxAge.
	DeleteOldDeadLetters(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)

	// DeleteOldWebhookDeliveries deletes delivery attempt rows older than maxAge.
	DeleteOldWebhookDeliveries(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}
