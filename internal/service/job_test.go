package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressroom/pressroom/internal/core"
	"github.com/pressroom/pressroom/internal/data"
	"github.com/pressroom/pressroom/internal/domain/model"
	apperrors "github.com/pressroom/pressroom/internal/errors"
)

type stubRepo struct {
	createFn        func(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, error)
	getByIDFn       func(ctx context.Context, id string) (*model.Job, error)
	reserveNextFn   func(ctx context.Context, kind model.JobKind, leaseSeconds int) (*model.Job, error)
	heartbeatFn     func(ctx context.Context, jobID, leaseOwner string, leaseSeconds int) (bool, error)
	completeFn      func(ctx context.Context, params core.CompleteJobParams) error
	failFn          func(ctx context.Context, params core.FailJobParams) (*model.Job, error)
	cancelFn        func(ctx context.Context, id string) (*model.Job, error)
	replayFn        func(ctx context.Context, id string) (*model.Job, error)
	statsFn         func(ctx context.Context, kind model.JobKind) (*model.JobStats, error)
	queueDepthFn    func(ctx context.Context) (int, error)
	queuePositionFn func(ctx context.Context, job *model.Job) (int, error)
}

func (s *stubRepo) Create(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, error) {
	return s.createFn(ctx, req)
}

func (s *stubRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	return s.getByIDFn(ctx, id)
}

func (s *stubRepo) ReserveNext(ctx context.Context, kind model.JobKind, leaseSeconds int) (*model.Job, error) {
	return s.reserveNextFn(ctx, kind, leaseSeconds)
}

func (s *stubRepo) WaitForNotification(ctx context.Context, _ model.JobKind) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubRepo) Heartbeat(ctx context.Context, jobID, leaseOwner string, leaseSeconds int) (bool, error) {
	return s.heartbeatFn(ctx, jobID, leaseOwner, leaseSeconds)
}

func (s *stubRepo) Complete(ctx context.Context, params core.CompleteJobParams) error {
	return s.completeFn(ctx, params)
}

func (s *stubRepo) Fail(ctx context.Context, params core.FailJobParams) (*model.Job, error) {
	return s.failFn(ctx, params)
}

func (s *stubRepo) Cancel(ctx context.Context, id string) (*model.Job, error) {
	return s.cancelFn(ctx, id)
}

func (s *stubRepo) Replay(ctx context.Context, id string) (*model.Job, error) {
	return s.replayFn(ctx, id)
}

func (s *stubRepo) Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error) {
	return s.statsFn(ctx, kind)
}

func (s *stubRepo) QueueDepth(ctx context.Context) (int, error) {
	return s.queueDepthFn(ctx)
}

func (s *stubRepo) QueuePosition(ctx context.Context, job *model.Job) (int, error) {
	return s.queuePositionFn(ctx, job)
}

type stubStatusCache struct {
	entries     map[string]*model.JobStatusResponse
	invalidated []string
}

func newStubStatusCache() *stubStatusCache {
	return &stubStatusCache{entries: make(map[string]*model.JobStatusResponse)}
}

func (c *stubStatusCache) Get(_ context.Context, jobID string) (*model.JobStatusResponse, bool, error) {
	resp, ok := c.entries[jobID]
	return resp, ok, nil
}

func (c *stubStatusCache) Set(_ context.Context, resp *model.JobStatusResponse) error {
	c.entries[resp.JobID] = resp
	return nil
}

func (c *stubStatusCache) Invalidate(_ context.Context, jobID string) error {
	c.invalidated = append(c.invalidated, jobID)
	delete(c.entries, jobID)
	return nil
}

type stubWebhooks struct {
	events []model.WebhookEvent
	urls   []string
	full   bool
}

func (w *stubWebhooks) Enqueue(event model.WebhookEvent, callbackURL string) bool {
	if w.full {
		return false
	}
	w.events = append(w.events, event)
	w.urls = append(w.urls, callbackURL)
	return true
}

func newTestService(t *testing.T, repo core.JobRepository, mutate func(*JobServiceOptions)) *JobService {
	t.Helper()
	opts := JobServiceOptions{
		Repo:         repo,
		DefaultLease: 30 * time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := NewJobService(opts)
	require.NoError(t, err)
	t.Cleanup(svc.StopAllListeners)
	return svc
}

func TestNewJobServiceValidation(t *testing.T) {
	_, err := NewJobService(JobServiceOptions{DefaultLease: time.Second})
	assert.ErrorContains(t, err, "JobRepository is required")

	_, err = NewJobService(JobServiceOptions{Repo: &stubRepo{}})
	assert.ErrorContains(t, err, "DefaultLease must be positive")
}

func TestSubmitReturnsEstimate(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	repo := &stubRepo{
		createFn: func(_ context.Context, req *model.SubmitJobRequest) (*model.Job, error) {
			return &model.Job{
				ID:        "job-1",
				Kind:      req.Kind,
				Status:    model.JobStatusQueued,
				Priority:  req.Tier().Weight(),
				Payload:   req.Payload,
				CreatedAt: created,
			}, nil
		},
		queuePositionFn: func(context.Context, *model.Job) (int, error) {
			return 3, nil
		},
	}
	svc := newTestService(t, repo, func(o *JobServiceOptions) {
		o.AvgJobDuration = time.Minute
	})

	resp, err := svc.Submit(context.Background(), &model.SubmitJobRequest{
		Kind:    model.JobKindRender,
		Payload: json.RawMessage(`{"template":"invoice"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, model.JobStatusQueued, resp.Status)
	assert.Equal(t, created.Add(4*time.Minute), resp.EstimatedCompletion)
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	repo := &stubRepo{
		createFn: func(context.Context, *model.SubmitJobRequest) (*model.Job, error) {
			t.Fatal("create should not be called")
			return nil, nil
		},
	}
	svc := newTestService(t, repo, nil)

	_, err := svc.Submit(context.Background(), &model.SubmitJobRequest{
		Kind: model.JobKind("bogus"),
	})
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.Submit(context.Background(), nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestSubmitSurvivesEstimateFailure(t *testing.T) {
	repo := &stubRepo{
		createFn: func(_ context.Context, req *model.SubmitJobRequest) (*model.Job, error) {
			return &model.Job{ID: "job-2", Kind: req.Kind, Status: model.JobStatusQueued}, nil
		},
		queuePositionFn: func(context.Context, *model.Job) (int, error) {
			return 0, assertErr("position unavailable")
		},
	}
	svc := newTestService(t, repo, nil)

	resp, err := svc.Submit(context.Background(), &model.SubmitJobRequest{
		Kind:    model.JobKindExport,
		Payload: json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "job-2", resp.JobID)
	assert.False(t, resp.EstimatedCompletion.IsZero())
}

func TestReserveNextNoJobs(t *testing.T) {
	repo := &stubRepo{
		reserveNextFn: func(context.Context, model.JobKind, int) (*model.Job, error) {
			return nil, model.ErrNoJobsAvailable
		},
	}
	svc := newTestService(t, repo, nil)

	_, err := svc.ReserveNext(context.Background(), model.JobKindRender, 0)
	assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
}

func TestReserveNextClampsLease(t *testing.T) {
	var gotSeconds int
	repo := &stubRepo{
		reserveNextFn: func(_ context.Context, _ model.JobKind, leaseSeconds int) (*model.Job, error) {
			gotSeconds = leaseSeconds
			return &model.Job{ID: "job-3", Status: model.JobStatusProcessing}, nil
		},
	}
	svc := newTestService(t, repo, func(o *JobServiceOptions) {
		o.DefaultLease = 30 * time.Second
		o.MaxLease = time.Minute
	})

	_, err := svc.ReserveNext(context.Background(), model.JobKindRender, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 60, gotSeconds)
}

func TestHeartbeatUsesDefaultLease(t *testing.T) {
	var gotSeconds int
	repo := &stubRepo{
		heartbeatFn: func(_ context.Context, _, _ string, leaseSeconds int) (bool, error) {
			gotSeconds = leaseSeconds
			return true, nil
		},
	}
	svc := newTestService(t, repo, nil)

	updated, err := svc.Heartbeat(context.Background(), "job-hb", "owner-1", 0)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, 30, gotSeconds)
}

func TestHeartbeatUnknownJobIsNotFound(t *testing.T) {
	repo := &stubRepo{
		heartbeatFn: func(context.Context, string, string, int) (bool, error) {
			return false, data.ErrJobNotFound
		},
	}
	svc := newTestService(t, repo, nil)

	updated, err := svc.Heartbeat(context.Background(), "no-such-job", "owner-1", 0)
	assert.False(t, updated)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCompleteCachesAndNotifies(t *testing.T) {
	callback := "https://example.com/hook"
	completedAt := time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)
	repo := &stubRepo{
		completeFn: func(context.Context, core.CompleteJobParams) error { return nil },
		getByIDFn: func(_ context.Context, id string) (*model.Job, error) {
			return &model.Job{
				ID:          id,
				Kind:        model.JobKindRender,
				Status:      model.JobStatusCompleted,
				Result:      json.RawMessage(`{"artifact_url":"https://cdn/x.pdf"}`),
				CallbackURL: &callback,
				CompletedAt: &completedAt,
			}, nil
		},
	}
	cache := newStubStatusCache()
	hooks := &stubWebhooks{}
	svc := newTestService(t, repo, func(o *JobServiceOptions) {
		o.StatusCache = cache
		o.Webhooks = hooks
	})

	err := svc.Complete(context.Background(), core.CompleteJobParams{
		ID:         "job-4",
		LeaseOwner: "owner-1",
		Result:     json.RawMessage(`{"artifact_url":"https://cdn/x.pdf"}`),
	})
	require.NoError(t, err)

	cached, ok := cache.entries["job-4"]
	require.True(t, ok)
	assert.Equal(t, model.JobStatusCompleted, cached.Status)

	require.Len(t, hooks.events, 1)
	assert.Equal(t, model.JobStatusCompleted, hooks.events[0].Status)
	assert.Equal(t, callback, hooks.urls[0])
	assert.NotNil(t, hooks.events[0].CompletedAt)
	assert.Nil(t, hooks.events[0].Error)
}

func TestCompleteWithoutCallbackSkipsWebhook(t *testing.T) {
	repo := &stubRepo{
		completeFn: func(context.Context, core.CompleteJobParams) error { return nil },
		getByIDFn: func(_ context.Context, id string) (*model.Job, error) {
			return &model.Job{ID: id, Kind: model.JobKindRender, Status: model.JobStatusCompleted}, nil
		},
	}
	hooks := &stubWebhooks{}
	svc := newTestService(t, repo, func(o *JobServiceOptions) {
		o.Webhooks = hooks
	})

	err := svc.Complete(context.Background(), core.CompleteJobParams{ID: "job-4b", LeaseOwner: "owner-1"})
	require.NoError(t, err)
	assert.Empty(t, hooks.events)
}

func TestCompleteLeaseConflict(t *testing.T) {
	repo := &stubRepo{
		completeFn: func(context.Context, core.CompleteJobParams) error {
			return data.ErrLeaseNotHeld
		},
	}
	svc := newTestService(t, repo, nil)

	err := svc.Complete(context.Background(), core.CompleteJobParams{ID: "job-5", LeaseOwner: "stale"})
	assert.True(t, apperrors.IsLeaseConflict(err))
}

func TestHandleFailureRetries(t *testing.T) {
	var gotParams core.FailJobParams
	repo := &stubRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Job, error) {
			return &model.Job{ID: id, Kind: model.JobKindRender, RetryCount: 1, MaxRetries: 3}, nil
		},
		failFn: func(_ context.Context, params core.FailJobParams) (*model.Job, error) {
			gotParams = params
			return &model.Job{
				ID:         params.ID,
				Kind:       model.JobKindRender,
				Status:     model.JobStatusQueued,
				RetryCount: 2,
				MaxRetries: 3,
			}, nil
		},
	}
	hooks := &stubWebhooks{}
	svc := newTestService(t, repo, func(o *JobServiceOptions) {
		o.RetryBackoff = 10 * time.Second
		o.Webhooks = hooks
	})

	job, err := svc.HandleFailure(context.Background(), FailureParams{
		ID:         "job-6",
		LeaseOwner: "owner-1",
		Err:        apperrors.Transientf("renderer unavailable"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)

	assert.True(t, gotParams.Retry)
	assert.Equal(t, 20*time.Second, gotParams.RetryDelay)
	assert.Empty(t, gotParams.Reason)
	assert.Empty(t, hooks.events)
}

func TestHandleFailureDeadLettersOnExhaustedBudget(t *testing.T) {
	callback := "https://example.com/hook"
	failedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	errMsg := "renderer unavailable"
	var gotParams core.FailJobParams
	repo := &stubRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Job, error) {
			return &model.Job{ID: id, Kind: model.JobKindRender, RetryCount: 3, MaxRetries: 3}, nil
		},
		failFn: func(_ context.Context, params core.FailJobParams) (*model.Job, error) {
			gotParams = params
			return &model.Job{
				ID:           params.ID,
				Kind:         model.JobKindRender,
				Status:       model.JobStatusFailed,
				RetryCount:   3,
				MaxRetries:   3,
				ErrorMessage: &errMsg,
				CallbackURL:  &callback,
				CompletedAt:  &failedAt,
			}, nil
		},
	}
	cache := newStubStatusCache()
	hooks := &stubWebhooks{}
	svc := newTestService(t, repo, func(o *JobServiceOptions) {
		o.StatusCache = cache
		o.Webhooks = hooks
	})

	job, err := svc.HandleFailure(context.Background(), FailureParams{
		ID:         "job-7",
		LeaseOwner: "owner-1",
		Err:        apperrors.Transientf("%s", errMsg),
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)

	assert.False(t, gotParams.Retry)
	assert.Contains(t, gotParams.Reason, "retries exhausted")

	_, ok := cache.entries["job-7"]
	assert.True(t, ok)

	require.Len(t, hooks.events, 1)
	assert.Equal(t, model.JobStatusFailed, hooks.events[0].Status)
	require.NotNil(t, hooks.events[0].Error)
	assert.Equal(t, errMsg, *hooks.events[0].Error)
	assert.NotNil(t, hooks.events[0].FailedAt)
}

func TestHandleFailurePermanentSkipsRetryBudget(t *testing.T) {
	var gotParams core.FailJobParams
	repo := &stubRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Job, error) {
			return &model.Job{ID: id, Kind: model.JobKindRender, RetryCount: 0, MaxRetries: 3}, nil
		},
		failFn: func(_ context.Context, params core.FailJobParams) (*model.Job, error) {
			gotParams = params
			return &model.Job{ID: params.ID, Kind: model.JobKindRender, Status: model.JobStatusFailed}, nil
		},
	}
	svc := newTestService(t, repo, nil)

	_, err := svc.HandleFailure(context.Background(), FailureParams{
		ID:         "job-8",
		LeaseOwner: "owner-1",
		Err:        apperrors.Permanentf("template does not exist"),
	})
	require.NoError(t, err)
	assert.False(t, gotParams.Retry)
	assert.Contains(t, gotParams.Reason, "permanent")
}

func TestHandleFailureLeaseConflict(t *testing.T) {
	repo := &stubRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Job, error) {
			return &model.Job{ID: id, Kind: model.JobKindRender, MaxRetries: 3}, nil
		},
		failFn: func(context.Context, core.FailJobParams) (*model.Job, error) {
			return nil, data.ErrLeaseNotHeld
		},
	}
	svc := newTestService(t, repo, nil)

	_, err := svc.HandleFailure(context.Background(), FailureParams{
		ID:         "job-9",
		LeaseOwner: "stale",
		Err:        apperrors.Transientf("boom"),
	})
	assert.True(t, apperrors.IsLeaseConflict(err))
}

func TestCancelMapsConflicts(t *testing.T) {
	repo := &stubRepo{
		cancelFn: func(context.Context, string) (*model.Job, error) {
			return nil, data.ErrJobNotCancellable
		},
	}
	svc := newTestService(t, repo, nil)

	_, err := svc.Cancel(context.Background(), "job-10")
	assert.True(t, apperrors.IsConflict(err))

	repo.cancelFn = func(context.Context, string) (*model.Job, error) {
		return nil, data.ErrJobNotFound
	}
	_, err = svc.Cancel(context.Background(), "job-10")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestReplayInvalidatesCache(t *testing.T) {
	repo := &stubRepo{
		replayFn: func(_ context.Context, id string) (*model.Job, error) {
			return &model.Job{ID: id, Kind: model.JobKindRender, Status: model.JobStatusQueued}, nil
		},
	}
	cache := newStubStatusCache()
	cache.entries["job-11"] = &model.JobStatusResponse{JobID: "job-11", Status: model.JobStatusFailed}
	svc := newTestService(t, repo, func(o *JobServiceOptions) {
		o.StatusCache = cache
	})

	job, err := svc.Replay(context.Background(), "job-11")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Contains(t, cache.invalidated, "job-11")
}

func TestGetStatusPrefersCache(t *testing.T) {
	repo := &stubRepo{
		getByIDFn: func(context.Context, string) (*model.Job, error) {
			t.Fatal("repository should not be hit on cache hit")
			return nil, nil
		},
	}
	cache := newStubStatusCache()
	cache.entries["job-12"] = &model.JobStatusResponse{JobID: "job-12", Status: model.JobStatusCompleted}
	svc := newTestService(t, repo, func(o *JobServiceOptions) {
		o.StatusCache = cache
	})

	resp, err := svc.GetStatus(context.Background(), "job-12")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, resp.Status)
}

func TestGetStatusPopulatesCacheForTerminalJobs(t *testing.T) {
	repo := &stubRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Job, error) {
			return &model.Job{ID: id, Kind: model.JobKindRender, Status: model.JobStatusCompleted}, nil
		},
	}
	cache := newStubStatusCache()
	svc := newTestService(t, repo, func(o *JobServiceOptions) {
		o.StatusCache = cache
	})

	_, err := svc.GetStatus(context.Background(), "job-13")
	require.NoError(t, err)
	_, ok := cache.entries["job-13"]
	assert.True(t, ok)
}

func TestGetStatusNotFound(t *testing.T) {
	repo := &stubRepo{
		getByIDFn: func(context.Context, string) (*model.Job, error) {
			return nil, data.ErrJobNotFound
		},
	}
	svc := newTestService(t, repo, nil)

	_, err := svc.GetStatus(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
