package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressroom/pressroom/config"
	"github.com/pressroom/pressroom/internal/core"
	"github.com/pressroom/pressroom/internal/domain/model"
)

// mockReaperRepo is a simple mock implementation for testing.
type mockReaperRepo struct {
	mu sync.Mutex

	deleteOldJobsCalls  map[model.JobStatus]int
	deleteOldJobsCounts map[model.JobStatus]int64
	deleteOldJobsError  error

	deleteDeadLettersCalled int
	deleteDeadLettersCount  int64
	deleteDeadLettersError  error

	deleteWebhooksCalled int
	deleteWebhooksCount  int64
}

func (m *mockReaperRepo) DeleteOldJobs(
	_ context.Context,
	params core.DeleteOldJobsParams,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteOldJobsCalls == nil {
		m.deleteOldJobsCalls = make(map[model.JobStatus]int)
	}
	m.deleteOldJobsCalls[params.Status]++
	if m.deleteOldJobsError != nil {
		return 0, m.deleteOldJobsError
	}
	// Return the configured count on the first call per status, then 0 to
	// simulate batch exhaustion.
	if m.deleteOldJobsCalls[params.Status] == 1 {
		return m.deleteOldJobsCounts[params.Status], nil
	}
	return 0, nil
}

func (m *mockReaperRepo) DeleteOldDeadLetters(
	_ context.Context,
	_ time.Duration,
	_ int,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteDeadLettersCalled++
	if m.deleteDeadLettersError != nil {
		return 0, m.deleteDeadLettersError
	}
	if m.deleteDeadLettersCalled == 1 {
		return m.deleteDeadLettersCount, nil
	}
	return 0, nil
}

func (m *mockReaperRepo) DeleteOldWebhookDeliveries(
	_ context.Context,
	_ time.Duration,
	_ int,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteWebhooksCalled++
	if m.deleteWebhooksCalled == 1 {
		return m.deleteWebhooksCount, nil
	}
	return 0, nil
}

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:         5 * time.Minute,
		CompletedMaxAge:  7 * 24 * time.Hour,
		FailedMaxAge:     30 * 24 * time.Hour,
		CancelledMaxAge:  7 * 24 * time.Hour,
		DeadLetterMaxAge: 90 * 24 * time.Hour,
		WebhookMaxAge:    30 * 24 * time.Hour,
		BatchSize:        1000,
	}
}

func TestNewReaperService(t *testing.T) {
	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   &mockReaperRepo{},
			Config: testReaperConfig(),
			Logger: slog.Default(),
		})

		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("returns error when repo is nil", func(t *testing.T) {
		_, err := NewReaperService(ReaperServiceOptions{
			Repo:   nil,
			Config: testReaperConfig(),
		})

		assert.ErrorContains(t, err, "ReaperRepository is required")
	})
}

func TestRunCleanupSweepsAllTables(t *testing.T) {
	repo := &mockReaperRepo{
		deleteOldJobsCounts: map[model.JobStatus]int64{
			model.JobStatusCompleted: 12,
			model.JobStatusFailed:    3,
			model.JobStatusCancelled: 1,
		},
		deleteDeadLettersCount: 4,
		deleteWebhooksCount:    9,
	}
	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:   repo,
		Config: testReaperConfig(),
		Logger: slog.Default(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.runCleanup(context.Background()))

	// Each status swept until a zero batch comes back.
	assert.Equal(t, 2, repo.deleteOldJobsCalls[model.JobStatusCompleted])
	assert.Equal(t, 2, repo.deleteOldJobsCalls[model.JobStatusFailed])
	assert.Equal(t, 2, repo.deleteOldJobsCalls[model.JobStatusCancelled])
	assert.Equal(t, 2, repo.deleteDeadLettersCalled)
	assert.Equal(t, 2, repo.deleteWebhooksCalled)
}

func TestRunCleanupKeepsDeadLettersForever(t *testing.T) {
	repo := &mockReaperRepo{}
	cfg := testReaperConfig()
	cfg.DeadLetterMaxAge = 0

	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:   repo,
		Config: cfg,
	})
	require.NoError(t, err)

	require.NoError(t, svc.runCleanup(context.Background()))
	assert.Zero(t, repo.deleteDeadLettersCalled)
}

func TestRunCleanupAggregatesErrors(t *testing.T) {
	repo := &mockReaperRepo{
		deleteOldJobsError:     assertErr("disk on fire"),
		deleteDeadLettersCount: 2,
	}
	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:   repo,
		Config: testReaperConfig(),
	})
	require.NoError(t, err)

	err = svc.runCleanup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete old completed jobs")
	assert.Contains(t, err.Error(), "disk on fire")

	// Later steps still ran despite the earlier failure.
	assert.Equal(t, 2, repo.deleteDeadLettersCalled)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	repo := &mockReaperRepo{}
	cfg := testReaperConfig()
	cfg.Interval = 10 * time.Millisecond

	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:   repo,
		Config: cfg,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case runErr := <-done:
		assert.NoError(t, runErr)
	case <-time.After(5 * time.Second):
		t.Fatal("reaper did not stop after context cancellation")
	}
}
