// Package worker pulls queued jobs and executes them with registered
// handlers under a lease. Each worker heartbeats its lease while the
// handler runs and commits the outcome through the job service.
package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pressroom/pressroom/internal/core"
	"github.com/pressroom/pressroom/internal/data"
	"github.com/pressroom/pressroom/internal/domain/model"
	apperrors "github.com/pressroom/pressroom/internal/errors"
	"github.com/pressroom/pressroom/internal/observability/metrics"
	"github.com/pressroom/pressroom/internal/observability/statsd"
	"github.com/pressroom/pressroom/internal/service"
)

// HandlerFunc processes a job and returns the result document to persist.
// A returned error is classified by the retry policy; transient errors are
// retried, permanent ones dead-letter the job.
type HandlerFunc func(ctx context.Context, job *model.Job) (json.RawMessage, error)

// RunnerOptions configures the worker runner.
type RunnerOptions struct {
	DB     *sql.DB
	Logger *slog.Logger

	// Job processing settings
	Lease       time.Duration // per-job lease duration; defaults to 30s
	Concurrency int           // number of worker goroutines; defaults to 1
	Kind        model.JobKind // which job kind to process; defaults to render

	// Optional dependency injections (useful for tests/decoupling)
	JobsRepo core.JobRepository
	Jobs     *service.JobService
	Metrics  statsd.Sink
}

// Runner pulls jobs of one kind and executes them using registered handlers.
type Runner struct {
	jobs     *service.JobService
	logger   *slog.Logger
	lease    time.Duration
	kind     model.JobKind
	workers  int
	handlers map[model.JobKind]HandlerFunc
	metrics  statsd.Sink
	active   atomic.Int64
}

// NewRunner wires repositories/services and constructs a worker runner for a single job kind.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && opts.JobsRepo == nil && opts.Jobs == nil {
		return nil, errors.New("either DB, JobsRepo or Jobs must be provided")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = 30 * time.Second
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	kind := opts.Kind
	if !kind.Valid() {
		kind = model.JobKindRender
	}

	jobs := opts.Jobs
	if jobs == nil {
		repo := opts.JobsRepo
		if repo == nil {
			repo = data.NewJobRepo(opts.DB, data.RepoConfig{Logger: logger})
		}
		var err error
		jobs, err = service.NewJobService(service.JobServiceOptions{
			Repo:         repo,
			DefaultLease: lease,
			Logger:       logger,
			Metrics:      opts.Metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("create job service: %w", err)
		}
	}

	return &Runner{
		jobs:     jobs,
		logger:   logger,
		lease:    lease,
		kind:     kind,
		workers:  workers,
		handlers: make(map[model.JobKind]HandlerFunc),
		metrics:  opts.Metrics,
	}, nil
}

// Register installs the handler for a job kind. Jobs of a kind with no
// handler fail permanently.
func (r *Runner) Register(kind model.JobKind, fn HandlerFunc) {
	r.handlers[kind] = fn
}

// ActiveWorkers reports how many workers are currently processing a job.
func (r *Runner) ActiveWorkers() int {
	return int(r.active.Load())
}

// Kind returns the job kind this runner processes.
func (r *Runner) Kind() model.JobKind {
	return r.kind
}

// Run starts worker goroutines and processes jobs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting worker runner",
		"kind", r.kind,
		"workers", r.workers,
		"lease", r.lease,
	)

	// Subscribe for notifications for the job kind we process
	unsub, ch := r.jobs.Subscribe(r.kind)
	defer unsub()

	// First fatal error cancels the group and stops all workers.
	g, gctx := errgroup.WithContext(ctx)
	for range r.workers {
		g.Go(func() error {
			return r.workerLoop(gctx, ch)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.jobs.ReserveNext(ctx, r.kind, r.lease)
		switch {
		case err == nil:
			if job != nil {
				r.processJob(ctx, job)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForNotify(ctx, notify) {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return ctx.Err()
}

func (r *Runner) waitForNotify(ctx context.Context, notify <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	}
}

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	r.active.Add(1)
	defer r.active.Add(-1)

	owner := ""
	if job.LeaseOwner != nil {
		owner = *job.LeaseOwner
	}

	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			JobKind:    string(job.Kind),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	h, ok := r.handlers[job.Kind]
	if !ok {
		err := apperrors.Permanentf("no handler for job kind %s", job.Kind)
		r.failJob(ctx, job.ID, owner, err)
		emit("failed", metrics.ResultError, err)
		return
	}

	result, err := r.runHandler(ctx, job, owner, h)
	if err != nil {
		r.failJob(ctx, job.ID, owner, err)
		emit("failed", metrics.ResultError, err)
		return
	}

	if err := r.jobs.Complete(ctx, core.CompleteJobParams{
		ID:         job.ID,
		LeaseOwner: owner,
		Result:     result,
	}); err != nil {
		if apperrors.IsLeaseConflict(err) {
			// The lease expired mid-run and another worker took over.
			// The result is discarded; the new owner's commit wins.
			r.logger.WarnContext(ctx, "lease lost, discarding result", "job_id", job.ID)
			emit("completed", metrics.ResultNoop, nil)
			return
		}
		r.logger.ErrorContext(ctx, "complete job error", "job_id", job.ID, "error", err)
		emit("completed", metrics.ResultError, err)
		return
	}
	emit("completed", metrics.ResultSuccess, nil)
}

// runHandler executes the handler with a heartbeat goroutine extending the
// lease until the handler returns.
func (r *Runner) runHandler(
	ctx context.Context,
	job *model.Job,
	owner string,
	h HandlerFunc,
) (json.RawMessage, error) {
	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		r.heartbeatLoop(handlerCtx, job.ID, owner)
	}()

	result, err := h(handlerCtx, job)
	cancel()
	hbWG.Wait()
	return result, err
}

func (r *Runner) heartbeatLoop(ctx context.Context, jobID, owner string) {
	interval := r.lease / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updated, err := r.jobs.Heartbeat(ctx, jobID, owner, r.lease)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.WarnContext(ctx, "heartbeat failed", "job_id", jobID, "error", err)
				}
				continue
			}
			if !updated {
				r.logger.WarnContext(ctx, "heartbeat rejected, lease no longer held", "job_id", jobID)
				return
			}
		}
	}
}

func (r *Runner) failJob(ctx context.Context, id, owner string, cause error) {
	if _, err := r.jobs.HandleFailure(ctx, service.FailureParams{
		ID:         id,
		LeaseOwner: owner,
		Err:        cause,
	}); err != nil {
		if apperrors.IsLeaseConflict(err) {
			r.logger.WarnContext(ctx, "lease lost before failure could be recorded", "job_id", id)
			return
		}
		r.logger.ErrorContext(ctx, "fail job error", "job_id", id, "error", err, "original_error", cause)
	}
}
