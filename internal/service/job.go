package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressroom/pressroom/internal/core"
	"github.com/pressroom/pressroom/internal/data"
	domainjob "github.com/pressroom/pressroom/internal/domain/job"
	"github.com/pressroom/pressroom/internal/domain/model"
	apperrors "github.com/pressroom/pressroom/internal/errors"
	"github.com/pressroom/pressroom/internal/observability/metrics"
	"github.com/pressroom/pressroom/internal/observability/statsd"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo            core.JobRepository        // Required: job repository
	DefaultLease    time.Duration             // Required unless LeasePolicy given
	MaxLease        time.Duration             // Optional: ceiling for requested leases
	RetryBackoff    time.Duration             // Optional: base backoff delay, default 30s
	RetryBackoffCap time.Duration             // Optional: backoff ceiling, default 10m
	AvgJobDuration  time.Duration             // Optional: per-job estimate for completion hints
	Logger          *slog.Logger              // Optional: structured logger
	StatusCache     core.TerminalStatusCache  // Optional: terminal status cache
	DeadLetters     core.DeadLetterRepository // Optional: dead-letter inspection
	Webhooks        core.WebhookNotifier      // Optional: terminal-state webhook delivery
	LeasePolicy     *domainjob.LeasePolicy    // Optional: override default lease policy
	RetryPolicy     *domainjob.RetryPolicy    // Optional: override default retry policy
	Notifier        domainjob.Notifier        // Optional: custom job availability notifier
	NotifierOptions domainjob.NotifierOptions // Optional: configure default notifier behaviour
	Metrics         statsd.Sink               // Optional: lifecycle metrics
}

const (
	defaultRetryBackoff    = 30 * time.Second
	defaultRetryBackoffCap = 10 * time.Minute
	defaultAvgJobDuration  = 30 * time.Second
)

// JobService provides business logic for job operations.
//
// This service manages:
// - Submission with validation and completion estimates
// - Reservation and lease management for workers
// - Terminal commits (complete / fail / retry / dead-letter)
// - Cancel and operator replay transitions
// - Pub/sub notification system for job availability
// - Terminal status caching and webhook notification fan-out.
type JobService struct {
	repo           core.JobRepository
	leasePolicy    *domainjob.LeasePolicy
	retryPolicy    *domainjob.RetryPolicy
	notifier       domainjob.Notifier
	logger         *slog.Logger
	statusCache    core.TerminalStatusCache
	deadLetters    core.DeadLetterRepository
	webhooks       core.WebhookNotifier
	metrics        statsd.Sink
	avgJobDuration time.Duration
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	var leasePolicy *domainjob.LeasePolicy
	switch {
	case opts.LeasePolicy != nil:
		leasePolicy = opts.LeasePolicy
	case opts.DefaultLease > 0:
		var err error
		leasePolicy, err = domainjob.NewLeasePolicy(opts.DefaultLease, opts.MaxLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	default:
		return nil, errors.New("DefaultLease must be positive")
	}

	retryPolicy := opts.RetryPolicy
	if retryPolicy == nil {
		base := opts.RetryBackoff
		if base <= 0 {
			base = defaultRetryBackoff
		}
		ceiling := opts.RetryBackoffCap
		if ceiling <= 0 {
			ceiling = defaultRetryBackoffCap
		}
		var err error
		retryPolicy, err = domainjob.NewRetryPolicy(base, ceiling)
		if err != nil {
			return nil, fmt.Errorf("create retry policy: %w", err)
		}
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	avg := opts.AvgJobDuration
	if avg <= 0 {
		avg = defaultAvgJobDuration
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
		logger.Debug("JobService initialized",
			"default_lease", leasePolicy.Default(),
		)
	}

	return &JobService{
		repo:           opts.Repo,
		leasePolicy:    leasePolicy,
		retryPolicy:    retryPolicy,
		notifier:       notifier,
		logger:         logger,
		statusCache:    opts.StatusCache,
		deadLetters:    opts.DeadLetters,
		webhooks:       opts.Webhooks,
		metrics:        opts.Metrics,
		avgJobDuration: avg,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Submit validates and persists a new job, returning the acceptance record
// with a completion estimate based on the job's position in its queue.
func (s *JobService) Submit(ctx context.Context, req *model.SubmitJobRequest) (*model.SubmitJobResponse, error) {
	if req == nil {
		return nil, apperrors.Validation("submit request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid submit request")
	}

	job, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	position, posErr := s.repo.QueuePosition(ctx, job)
	if posErr != nil {
		// The estimate is a hint; submission already succeeded.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "queue position lookup failed", "job_id", job.ID, "error", posErr)
		}
		position = 0
	}

	estimated := job.CreatedAt.Add(time.Duration(position+1) * s.avgJobDuration)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job submitted",
			"id", job.ID,
			"kind", job.Kind,
			"priority", model.TierForWeight(job.Priority),
			"queue_position", position,
		)
	}
	s.emitTransition(job.Kind, "submit", metrics.ResultSuccess, 0, nil)

	return &model.SubmitJobResponse{
		JobID:               job.ID,
		Status:              job.Status,
		EstimatedCompletion: estimated.UTC(),
	}, nil
}

// ReserveNext reserves the next available job of the given kind for processing.
func (s *JobService) ReserveNext(
	ctx context.Context,
	kind model.JobKind,
	lease time.Duration,
) (*model.Job, error) {
	decision := s.leasePolicy.Resolve(lease)
	if decision.Clamped() && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped requested lease duration",
			"requested_duration", decision.Requested,
			"kind", kind)
	}

	job, err := s.repo.ReserveNext(ctx, kind, decision.Seconds)
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("reserve next job: %w", err)
	}

	if s.logger != nil && job != nil {
		s.logger.DebugContext(ctx, "job reserved",
			"id", job.ID,
			"kind", kind,
			"lease_seconds", decision.Seconds,
		)
	}

	return job, nil
}

// Subscribe creates a subscription for job notifications of the given kind.
// Returns an unsubscribe function and a channel that receives notifications.
func (s *JobService) Subscribe(kind model.JobKind) (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe(kind)
}

// Heartbeat extends the lease on a job to indicate it's still being processed.
func (s *JobService) Heartbeat(ctx context.Context, id, leaseOwner string, extend time.Duration) (bool, error) {
	decision := s.leasePolicy.Resolve(extend)
	if decision.Clamped() && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped requested heartbeat duration",
			"requested_duration", decision.Requested,
			"job_id", id)
	}

	updated, err := s.repo.Heartbeat(ctx, id, leaseOwner, decision.Seconds)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return false, apperrors.NotFoundf("job %s not found", id)
		}
		return false, fmt.Errorf("heartbeat job %s: %w", id, err)
	}

	if s.logger != nil && updated {
		s.logger.DebugContext(ctx, "job heartbeat updated", "id", id, "extend_seconds", decision.Seconds)
	}

	return updated, nil
}

// Complete commits a successful result for a leased job, caches the terminal
// record and enqueues the success webhook. A stale lease surfaces as a
// LeaseConflict error and the result is discarded.
func (s *JobService) Complete(ctx context.Context, params core.CompleteJobParams) error {
	if err := s.repo.Complete(ctx, params); err != nil {
		if errors.Is(err, data.ErrLeaseNotHeld) {
			s.emitTransition("", "complete", metrics.ResultNoop, 0, nil)
			return apperrors.LeaseConflict(fmt.Sprintf("job %s: lease is no longer held", params.ID))
		}
		if errors.Is(err, data.ErrJobNotFound) {
			return apperrors.NotFoundf("job %s not found", params.ID)
		}
		return fmt.Errorf("complete job %s: %w", params.ID, err)
	}

	job, err := s.repo.GetByID(ctx, params.ID)
	if err != nil {
		// The commit itself succeeded; follow-ups are best-effort.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to reload completed job", "job_id", params.ID, "error", err)
		}
		return nil
	}

	s.cacheTerminal(ctx, job)
	s.notifyTerminal(job)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job completed", "id", job.ID, "kind", job.Kind)
	}
	s.emitTransition(job.Kind, "complete", metrics.ResultSuccess, 0, nil)
	return nil
}

// FailureParams captures a handler failure for HandleFailure.
type FailureParams struct {
	ID         string
	LeaseOwner string
	Err        error
}

// HandleFailure records a handler failure against a leased job. The retry
// policy decides between a backoff reschedule and dead-lettering; the
// dead-letter path also caches the terminal record and enqueues the failure
// webhook.
func (s *JobService) HandleFailure(ctx context.Context, params FailureParams) (*model.Job, error) {
	if params.Err == nil {
		return nil, errors.New("failure error is required")
	}

	current, err := s.repo.GetByID(ctx, params.ID)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return nil, apperrors.NotFoundf("job %s not found", params.ID)
		}
		return nil, fmt.Errorf("load job %s: %w", params.ID, err)
	}

	decision := s.retryPolicy.Decide(params.Err, current.RetryCount, current.MaxRetries)

	job, failErr := s.repo.Fail(ctx, core.FailJobParams{
		ID:           params.ID,
		LeaseOwner:   params.LeaseOwner,
		ErrorMessage: params.Err.Error(),
		Retry:        decision.Disposition == domainjob.DispositionRetry,
		RetryDelay:   decision.Delay,
		Reason:       deadLetterReason(params.Err, decision),
	})
	if failErr != nil {
		if errors.Is(failErr, data.ErrLeaseNotHeld) {
			s.emitTransition(current.Kind, "fail", metrics.ResultNoop, 0, nil)
			return nil, apperrors.LeaseConflict(fmt.Sprintf("job %s: lease is no longer held", params.ID))
		}
		if errors.Is(failErr, data.ErrJobNotFound) {
			return nil, apperrors.NotFoundf("job %s not found", params.ID)
		}
		return nil, fmt.Errorf("fail job %s: %w", params.ID, failErr)
	}

	switch decision.Disposition {
	case domainjob.DispositionRetry:
		if s.logger != nil {
			s.logger.InfoContext(ctx, "job scheduled for retry",
				"id", job.ID,
				"kind", job.Kind,
				"retry_count", job.RetryCount,
				"max_retries", job.MaxRetries,
				"delay", decision.Delay,
				"error", params.Err,
			)
		}
		s.emitTransition(job.Kind, "retry", metrics.ResultSuccess, 0, params.Err)
	case domainjob.DispositionDeadLetter:
		if s.logger != nil {
			s.logger.WarnContext(ctx, "job dead-lettered",
				"id", job.ID,
				"kind", job.Kind,
				"retry_count", job.RetryCount,
				"retryable", decision.Retryable,
				"error", params.Err,
			)
		}
		s.cacheTerminal(ctx, job)
		s.notifyTerminal(job)
		s.emitTransition(job.Kind, "dead_letter", metrics.ResultError, 0, params.Err)
	}

	return job, nil
}

func deadLetterReason(err error, decision domainjob.FailureDecision) string {
	if decision.Disposition != domainjob.DispositionDeadLetter {
		return ""
	}
	if decision.Retryable {
		return "retries exhausted: " + err.Error()
	}
	return "permanent: " + err.Error()
}

// Cancel moves a queued job to cancelled. Jobs already picked up by a worker
// or in a terminal state yield a Conflict error.
func (s *JobService) Cancel(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.Cancel(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		}
		if errors.Is(err, data.ErrJobNotCancellable) {
			return nil, apperrors.Conflictf("job %s cannot be cancelled", id)
		}
		return nil, fmt.Errorf("cancel job %s: %w", id, err)
	}

	s.cacheTerminal(ctx, job)
	// Cancelled jobs never ran; no webhook fires.

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job cancelled", "id", id)
	}
	s.emitTransition(job.Kind, "cancel", metrics.ResultSuccess, 0, nil)
	return job, nil
}

// Replay returns a failed job to the queue with a fresh retry budget.
// Only failed jobs can be replayed; anything else yields a Conflict error.
func (s *JobService) Replay(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.Replay(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		}
		if errors.Is(err, data.ErrJobNotReplayable) {
			return nil, apperrors.Conflictf("job %s cannot be replayed", id)
		}
		return nil, fmt.Errorf("replay job %s: %w", id, err)
	}

	if s.statusCache != nil {
		if invErr := s.statusCache.Invalidate(ctx, id); invErr != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "status cache invalidation failed", "job_id", id, "error", invErr)
		}
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job replayed", "id", id, "kind", job.Kind)
	}
	s.emitTransition(job.Kind, "replay", metrics.ResultSuccess, 0, nil)
	return job, nil
}

// GetStatus returns the status record for a job. Terminal records are served
// from and populated into the cache; non-terminal records always hit the store.
func (s *JobService) GetStatus(ctx context.Context, id string) (*model.JobStatusResponse, error) {
	if s.statusCache != nil {
		cached, ok, cacheErr := s.statusCache.Get(ctx, id)
		if cacheErr != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "status cache read failed", "job_id", id, "error", cacheErr)
		}
		if ok {
			return cached, nil
		}
	}

	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}

	resp := model.StatusResponseFromJob(job)
	if job.Status.Terminal() {
		s.cacheTerminal(ctx, job)
	}
	return &resp, nil
}

// GetByID returns a job by its ID.
func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		}
		return nil, fmt.Errorf("get job by id %s: %w", id, err)
	}
	return job, nil
}

// Stats returns statistics about jobs of the given kind in different states.
func (s *JobService) Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("get job stats for kind %s: %w", kind, err)
	}
	return stats, nil
}

// DeadLetters lists dead-letter records, newest first. By default only
// records awaiting operator action are returned; includeReplayed widens the
// listing to replayed ones as well.
func (s *JobService) DeadLetters(ctx context.Context, includeReplayed bool, limit int) ([]model.DeadLetter, error) {
	if s.deadLetters == nil {
		return nil, apperrors.Internal("dead-letter inspection is not configured")
	}
	letters, err := s.deadLetters.List(ctx, includeReplayed, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return letters, nil
}

// DeadLettersForJob returns the dead-letter history of a single job. The job
// must exist; a job with no dead letters yields an empty list.
func (s *JobService) DeadLettersForJob(ctx context.Context, jobID string) ([]model.DeadLetter, error) {
	if s.deadLetters == nil {
		return nil, apperrors.Internal("dead-letter inspection is not configured")
	}
	if _, err := s.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	letters, err := s.deadLetters.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list dead letters for job %s: %w", jobID, err)
	}
	return letters, nil
}

// QueueDepth returns the number of queued jobs across all kinds.
func (s *JobService) QueueDepth(ctx context.Context) (int, error) {
	depth, err := s.repo.QueueDepth(ctx)
	if err != nil {
		return 0, fmt.Errorf("get queue depth: %w", err)
	}
	return depth, nil
}

// StopAllListeners stops all active job notification listeners.
// This should be called during graceful shutdown to clean up goroutines.
func (s *JobService) StopAllListeners() {
	if s.logger != nil {
		s.logger.Info("stopping all job listeners")
	}

	if s.notifier != nil {
		s.notifier.StopAll()
	}
}

func (s *JobService) cacheTerminal(ctx context.Context, job *model.Job) {
	if s.statusCache == nil || job == nil || !job.Status.Terminal() {
		return
	}
	resp := model.StatusResponseFromJob(job)
	if err := s.statusCache.Set(ctx, &resp); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "status cache write failed", "job_id", job.ID, "error", err)
	}
}

// notifyTerminal enqueues the terminal-state webhook for jobs that asked for
// one. Delivery is asynchronous and can never affect the job row.
func (s *JobService) notifyTerminal(job *model.Job) {
	if s.webhooks == nil || job == nil || job.CallbackURL == nil || *job.CallbackURL == "" {
		return
	}

	event := model.WebhookEvent{
		JobID:  job.ID,
		Status: job.Status,
	}
	switch job.Status {
	case model.JobStatusCompleted:
		event.Result = job.Result
		event.CompletedAt = job.CompletedAt
	case model.JobStatusFailed:
		event.Error = job.ErrorMessage
		retries := job.RetryCount
		event.RetryCount = &retries
		event.FailedAt = job.CompletedAt
	default:
		return
	}

	if !s.webhooks.Enqueue(event, *job.CallbackURL) && s.logger != nil {
		s.logger.Warn("webhook queue full, notification dropped", "job_id", job.ID)
	}
}

func (s *JobService) emitTransition(kind model.JobKind, transition, result string, duration time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobKind:    string(kind),
		Transition: transition,
		Result:     result,
		Duration:   duration,
		Err:        err,
	})
}
