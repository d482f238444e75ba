// Package webhooknotifier delivers terminal-state job notifications to
// submitter callback URLs. Delivery is asynchronous: the job transition
// commits first, then the notification is queued here and posted with
// bounded retries. A delivery failure never affects the job row.
package webhooknotifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pressroom/pressroom/internal/core"
	"github.com/pressroom/pressroom/internal/domain/model"
	"github.com/pressroom/pressroom/internal/observability/metrics"
	"github.com/pressroom/pressroom/internal/observability/statsd"
)

// Options configures the webhook notifier service.
type Options struct {
	Logger      *slog.Logger
	Deliveries  core.WebhookDeliveryRepository // Optional: delivery attempt log
	Metrics     statsd.Sink                    // Optional: delivery metrics
	Client      *http.Client                   // Optional: override HTTP client
	QueueSize   int                            // Optional: pending notification buffer, default 256
	Workers     int                            // Optional: concurrent deliverers, default 2
	MaxAttempts int                            // Optional: attempts per notification, default 3
	Timeout     time.Duration                  // Optional: per-request timeout, default 10s
	Backoff     time.Duration                  // Optional: base delay between attempts, default 1s
}

const (
	defaultQueueSize   = 256
	defaultWorkers     = 2
	defaultMaxAttempts = 3
	defaultTimeout     = 10 * time.Second
	defaultBackoff     = time.Second
)

type delivery struct {
	event model.WebhookEvent
	url   string
}

// Service posts webhook notifications from a bounded queue.
type Service struct {
	logger      *slog.Logger
	deliveries  core.WebhookDeliveryRepository
	metrics     statsd.Sink
	client      *http.Client
	queue       chan delivery
	maxAttempts int
	backoff     time.Duration

	mu      sync.RWMutex
	closed  bool
	workers sync.WaitGroup
}

var _ core.WebhookNotifier = (*Service)(nil)

// NewService constructs the notifier and starts its delivery workers.
// Call Stop during shutdown to drain the queue.
func NewService(ctx context.Context, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "webhook_notifier")

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	s := &Service{
		logger:      logger,
		deliveries:  opts.Deliveries,
		metrics:     opts.Metrics,
		client:      client,
		queue:       make(chan delivery, queueSize),
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}

	for range workers {
		s.workers.Add(1)
		go s.worker(ctx)
	}

	return s
}

// Enqueue queues a notification for delivery. It never blocks; a full queue
// drops the notification and returns false.
func (s *Service) Enqueue(event model.WebhookEvent, callbackURL string) bool {
	if strings.TrimSpace(callbackURL) == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}

	select {
	case s.queue <- delivery{event: event, url: callbackURL}:
		return true
	default:
		return false
	}
}

// Stop closes the queue and waits for in-flight deliveries to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.workers.Wait()
}

func (s *Service) worker(ctx context.Context) {
	defer s.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-s.queue:
			if !ok {
				return
			}
			s.deliver(ctx, d)
		}
	}
}

func (s *Service) deliver(ctx context.Context, d delivery) {
	body, err := json.Marshal(d.event)
	if err != nil {
		s.logger.Error("encode webhook payload", "job_id", d.event.JobID, "error", err)
		return
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		status, postErr := s.post(ctx, d.url, body)
		s.recordAttempt(ctx, d, attempt, status, postErr)

		if postErr == nil {
			s.logger.Info("webhook delivered",
				"job_id", d.event.JobID,
				"status", d.event.Status,
				"attempt", attempt,
			)
			metrics.EmitWebhookDelivery(s.metrics, true, attempt, time.Since(start))
			return
		}
		lastErr = postErr

		if attempt < s.maxAttempts {
			delay := s.backoff << uint(attempt-1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return
			case <-timer.C:
			}
		}
	}

	s.logger.Error("webhook delivery exhausted",
		"job_id", d.event.JobID,
		"url", d.url,
		"attempts", s.maxAttempts,
		"error", lastErr,
	)
	metrics.EmitWebhookDelivery(s.metrics, false, s.maxAttempts, time.Since(start))
}

// post returns the response status code and a nil error only for 2xx responses.
func (s *Service) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, errorResponse(resp)
	}

	return resp.StatusCode, drainSuccess(resp)
}

func (s *Service) recordAttempt(ctx context.Context, d delivery, attempt, status int, postErr error) {
	if s.deliveries == nil {
		return
	}

	rec := &model.WebhookDeliveryAttempt{
		JobID:     d.event.JobID,
		Attempt:   attempt,
		URL:       d.url,
		Succeeded: postErr == nil,
	}
	if status > 0 {
		rec.HTTPStatus = &status
	}
	if postErr != nil {
		msg := postErr.Error()
		rec.Error = &msg
	}

	if err := s.deliveries.RecordAttempt(ctx, rec); err != nil {
		s.logger.Warn("record webhook attempt failed", "job_id", d.event.JobID, "error", err)
	}
}

func drainSuccess(resp *http.Response) error {
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return errors.Join(
				fmt.Errorf("drain webhook response body: %w", err),
				fmt.Errorf("close response body: %w", closeErr),
			)
		}
		return fmt.Errorf("drain webhook response body: %w", err)
	}
	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}
	return nil
}

func errorResponse(resp *http.Response) error {
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	closeErr := resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("read webhook error response: %w", readErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close response body: %w", closeErr)
	}
	return fmt.Errorf("webhook endpoint %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
}
