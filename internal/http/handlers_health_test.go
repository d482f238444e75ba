package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressroom/pressroom/internal/domain/model"
)

type staticGauge int

func (g staticGauge) ActiveWorkers() int { return int(g) }

func doHealth(t *testing.T, h *HealthHandlers) (*http.Response, model.HealthResponse) {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.Health(w, r)

	resp := w.Result()
	t.Cleanup(func() { resp.Body.Close() })

	var body model.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestHealth_Healthy(t *testing.T) {
	repo := &fakeRepo{
		queueDepth: func(context.Context) (int, error) { return 7, nil },
	}
	h := &HealthHandlers{
		Svc:     newHandlers(t, repo).Svc,
		Workers: staticGauge(2),
	}

	resp, body := doHealth(t, h)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, healthStatusHealthy, body.Status)
	assert.Equal(t, 7, body.QueueDepth)
	assert.Equal(t, 2, body.ActiveWorkers)
}

func TestHealth_DegradedOnDeepQueue(t *testing.T) {
	repo := &fakeRepo{
		queueDepth: func(context.Context) (int, error) { return 500, nil },
	}
	h := &HealthHandlers{
		Svc:            newHandlers(t, repo).Svc,
		DepthThreshold: 100,
	}

	resp, body := doHealth(t, h)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, healthStatusDegraded, body.Status)
	assert.Equal(t, 500, body.QueueDepth)
}

func TestHealth_DegradedOnDepthError(t *testing.T) {
	repo := &fakeRepo{
		queueDepth: func(context.Context) (int, error) {
			return 0, errors.New("connection refused")
		},
	}
	h := &HealthHandlers{Svc: newHandlers(t, repo).Svc}

	resp, body := doHealth(t, h)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, healthStatusDegraded, body.Status)
}

func TestHealth_ZeroThresholdDisablesDepthCheck(t *testing.T) {
	repo := &fakeRepo{
		queueDepth: func(context.Context) (int, error) { return 10000, nil },
	}
	h := &HealthHandlers{Svc: newHandlers(t, repo).Svc}

	resp, body := doHealth(t, h)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, healthStatusHealthy, body.Status)
}
