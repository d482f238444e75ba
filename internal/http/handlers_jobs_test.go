package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressroom/pressroom/internal/core"
	"github.com/pressroom/pressroom/internal/data"
	"github.com/pressroom/pressroom/internal/domain/model"
	"github.com/pressroom/pressroom/internal/service"
)

// fakeRepo is a function-field stub of core.JobRepository. Tests set only the
// methods a handler exercises; anything else panics to surface bad wiring.
type fakeRepo struct {
	create       func(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, error)
	getByID      func(ctx context.Context, id string) (*model.Job, error)
	reserveNext  func(ctx context.Context, kind model.JobKind, leaseSeconds int) (*model.Job, error)
	heartbeat    func(ctx context.Context, jobID, leaseOwner string, leaseSeconds int) (bool, error)
	cancel       func(ctx context.Context, id string) (*model.Job, error)
	replay       func(ctx context.Context, id string) (*model.Job, error)
	stats        func(ctx context.Context, kind model.JobKind) (*model.JobStats, error)
	queuePos     func(ctx context.Context, job *model.Job) (int, error)
	queueDepth   func(ctx context.Context) (int, error)
	completeFunc func(ctx context.Context, params core.CompleteJobParams) error
	failFunc     func(ctx context.Context, params core.FailJobParams) (*model.Job, error)
}

func (f *fakeRepo) Create(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, error) {
	return f.create(ctx, req)
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	return f.getByID(ctx, id)
}

func (f *fakeRepo) ReserveNext(
	ctx context.Context,
	kind model.JobKind,
	leaseSeconds int,
) (*model.Job, error) {
	return f.reserveNext(ctx, kind, leaseSeconds)
}

func (f *fakeRepo) WaitForNotification(ctx context.Context, _ model.JobKind) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeRepo) Heartbeat(
	ctx context.Context,
	jobID, leaseOwner string,
	leaseSeconds int,
) (bool, error) {
	return f.heartbeat(ctx, jobID, leaseOwner, leaseSeconds)
}

func (f *fakeRepo) Complete(ctx context.Context, params core.CompleteJobParams) error {
	return f.completeFunc(ctx, params)
}

func (f *fakeRepo) Fail(ctx context.Context, params core.FailJobParams) (*model.Job, error) {
	return f.failFunc(ctx, params)
}

func (f *fakeRepo) Cancel(ctx context.Context, id string) (*model.Job, error) {
	return f.cancel(ctx, id)
}

func (f *fakeRepo) Replay(ctx context.Context, id string) (*model.Job, error) {
	return f.replay(ctx, id)
}

func (f *fakeRepo) Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error) {
	return f.stats(ctx, kind)
}

func (f *fakeRepo) QueueDepth(ctx context.Context) (int, error) {
	return f.queueDepth(ctx)
}

func (f *fakeRepo) QueuePosition(ctx context.Context, job *model.Job) (int, error) {
	return f.queuePos(ctx, job)
}

func newHandlers(t *testing.T, repo *fakeRepo) *JobHandlers {
	t.Helper()
	svc := service.MustNewJobService(service.JobServiceOptions{
		Repo:         repo,
		DefaultLease: 30 * time.Second,
	})
	t.Cleanup(svc.StopAllListeners)
	return &JobHandlers{Svc: svc}
}

func TestSubmitJob_Success(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	repo := &fakeRepo{
		create: func(_ context.Context, req *model.SubmitJobRequest) (*model.Job, error) {
			return &model.Job{
				ID:        "job-123",
				Kind:      req.Kind,
				Status:    model.JobStatusQueued,
				Payload:   req.Payload,
				CreatedAt: created,
			}, nil
		},
		queuePos: func(context.Context, *model.Job) (int, error) { return 0, nil },
	}
	h := newHandlers(t, repo)

	reqBody := model.SubmitJobRequest{
		Kind:    model.JobKindRender,
		Payload: json.RawMessage(`{"template":"invoice"}`),
	}
	b, _ := json.Marshal(reqBody)
	r := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(b))
	w := httptest.NewRecorder()

	h.SubmitJob(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var got model.SubmitJobResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "job-123", got.JobID)
	assert.Equal(t, model.JobStatusQueued, got.Status)
	assert.True(t, got.EstimatedCompletion.After(created))
}

func TestSubmitJob_InvalidJSON(t *testing.T) {
	h := newHandlers(t, &fakeRepo{})

	r := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString("{bad"))
	w := httptest.NewRecorder()

	h.SubmitJob(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitJob_ValidationError(t *testing.T) {
	h := newHandlers(t, &fakeRepo{})

	r := httptest.NewRequest(http.MethodPost, "/api/jobs",
		bytes.NewBufferString(`{"kind":"render"}`))
	w := httptest.NewRecorder()

	h.SubmitJob(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "validation", body["error"])
}

func TestGetStatus_Success(t *testing.T) {
	repo := &fakeRepo{
		getByID: func(_ context.Context, id string) (*model.Job, error) {
			return &model.Job{
				ID:       id,
				Kind:     model.JobKindRender,
				Status:   model.JobStatusProcessing,
				Priority: model.PriorityWeightNormal,
			}, nil
		},
	}
	h := newHandlers(t, repo)

	r := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil)
	r.SetPathValue("id", "job-1")
	w := httptest.NewRecorder()

	h.GetStatus(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got model.JobStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, model.JobStatusProcessing, got.Status)
	assert.Equal(t, model.PriorityNormal, got.Priority)
}

func TestGetStatus_NotFound(t *testing.T) {
	repo := &fakeRepo{
		getByID: func(context.Context, string) (*model.Job, error) {
			return nil, data.ErrJobNotFound
		},
	}
	h := newHandlers(t, repo)

	r := httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil)
	r.SetPathValue("id", "nope")
	w := httptest.NewRecorder()

	h.GetStatus(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancel_Conflict(t *testing.T) {
	repo := &fakeRepo{
		cancel: func(context.Context, string) (*model.Job, error) {
			return nil, data.ErrJobNotCancellable
		},
	}
	h := newHandlers(t, repo)

	r := httptest.NewRequest(http.MethodPost, "/api/jobs/job-2/cancel", nil)
	r.SetPathValue("id", "job-2")
	w := httptest.NewRecorder()

	h.Cancel(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancel_Success(t *testing.T) {
	repo := &fakeRepo{
		cancel: func(_ context.Context, id string) (*model.Job, error) {
			return &model.Job{ID: id, Kind: model.JobKindRender, Status: model.JobStatusCancelled}, nil
		},
	}
	h := newHandlers(t, repo)

	r := httptest.NewRequest(http.MethodPost, "/api/jobs/job-2/cancel", nil)
	r.SetPathValue("id", "job-2")
	w := httptest.NewRecorder()

	h.Cancel(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got model.JobStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, model.JobStatusCancelled, got.Status)
}

func TestReplay_Conflict(t *testing.T) {
	repo := &fakeRepo{
		replay: func(context.Context, string) (*model.Job, error) {
			return nil, data.ErrJobNotReplayable
		},
	}
	h := newHandlers(t, repo)

	r := httptest.NewRequest(http.MethodPost, "/api/jobs/job-3/replay", nil)
	r.SetPathValue("id", "job-3")
	w := httptest.NewRecorder()

	h.Replay(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReplay_Success(t *testing.T) {
	repo := &fakeRepo{
		replay: func(_ context.Context, id string) (*model.Job, error) {
			return &model.Job{ID: id, Kind: model.JobKindRender, Status: model.JobStatusQueued}, nil
		},
	}
	h := newHandlers(t, repo)

	r := httptest.NewRequest(http.MethodPost, "/api/jobs/job-3/replay", nil)
	r.SetPathValue("id", "job-3")
	w := httptest.NewRecorder()

	h.Replay(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got model.JobStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, model.JobStatusQueued, got.Status)
}

func TestHeartbeat_Success(t *testing.T) {
	var gotLease int
	repo := &fakeRepo{
		heartbeat: func(_ context.Context, _, _ string, leaseSeconds int) (bool, error) {
			gotLease = leaseSeconds
			return true, nil
		},
	}
	h := newHandlers(t, repo)

	r := httptest.NewRequest(http.MethodPost, "/api/jobs/job-4/heartbeat",
		bytes.NewBufferString(`{"lease_owner":"worker-1","extend_seconds":45}`))
	r.SetPathValue("id", "job-4")
	w := httptest.NewRecorder()

	h.Heartbeat(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 45, gotLease)

	var got map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got["ok"])
}

func TestHeartbeat_MissingLeaseOwner(t *testing.T) {
	h := newHandlers(t, &fakeRepo{})

	r := httptest.NewRequest(http.MethodPost, "/api/jobs/job-4/heartbeat",
		bytes.NewBufferString(`{"extend_seconds":45}`))
	r.SetPathValue("id", "job-4")
	w := httptest.NewRecorder()

	h.Heartbeat(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStats_Success(t *testing.T) {
	repo := &fakeRepo{
		stats: func(context.Context, model.JobKind) (*model.JobStats, error) {
			return &model.JobStats{Queued: 3, Processing: 1, Completed: 10}, nil
		},
	}
	h := newHandlers(t, repo)

	r := httptest.NewRequest(http.MethodGet, "/api/jobs/render/stats", nil)
	r.SetPathValue("kind", "render")
	w := httptest.NewRecorder()

	h.Stats(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got model.JobStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 3, got.Queued)
}

func TestStats_UnknownKind(t *testing.T) {
	h := newHandlers(t, &fakeRepo{})

	r := httptest.NewRequest(http.MethodGet, "/api/jobs/bogus/stats", nil)
	r.SetPathValue("kind", "bogus")
	w := httptest.NewRecorder()

	h.Stats(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReserveNext_Success(t *testing.T) {
	repo := &fakeRepo{
		reserveNext: func(_ context.Context, kind model.JobKind, leaseSeconds int) (*model.Job, error) {
			assert.Equal(t, model.JobKindRender, kind)
			assert.Equal(t, 45, leaseSeconds)
			return &model.Job{ID: "job-abc", Kind: kind, Status: model.JobStatusProcessing}, nil
		},
	}
	h := newHandlers(t, repo)

	r := httptest.NewRequest(http.MethodGet, "/api/jobs/render/reserve_next?lease=45", nil)
	r.SetPathValue("kind", "render")
	w := httptest.NewRecorder()

	h.ReserveNext(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got model.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "job-abc", got.ID)
}

func TestReserveNext_NoJob_NoWait_Returns204(t *testing.T) {
	repo := &fakeRepo{
		reserveNext: func(context.Context, model.JobKind, int) (*model.Job, error) {
			return nil, model.ErrNoJobsAvailable
		},
	}
	h := newHandlers(t, repo)

	r := httptest.NewRequest(http.MethodGet, "/api/jobs/render/reserve_next", nil)
	r.SetPathValue("kind", "render")
	w := httptest.NewRecorder()

	h.ReserveNext(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestReserveNext_LongPoll_TimesOutWith204(t *testing.T) {
	repo := &fakeRepo{
		reserveNext: func(context.Context, model.JobKind, int) (*model.Job, error) {
			return nil, model.ErrNoJobsAvailable
		},
	}
	h := newHandlers(t, repo)

	start := time.Now()
	r := httptest.NewRequest(http.MethodGet, "/api/jobs/render/reserve_next?wait=1", nil)
	r.SetPathValue("kind", "render")
	w := httptest.NewRecorder()

	h.ReserveNext(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}
