package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressroom/pressroom/internal/domain/model"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the job worker pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the job reaper for retention cleanup.
	ServiceModeReaper ServiceMode = "reaper"
	// ServiceModeWebhookNotifier runs the webhook delivery workers.
	ServiceModeWebhookNotifier ServiceMode = "webhook-notifier"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeWorker,
		ServiceModeReaper,
		ServiceModeWebhookNotifier,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP,
			ServiceModeWorker,
			ServiceModeReaper,
			ServiceModeWebhookNotifier:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, worker, reaper, webhook-notifier)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains job worker pool configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines per job kind.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"2"`

	// JobLease is the duration a worker holds a job before the lease expires.
	JobLease time.Duration `env:"WORKER_JOB_LEASE" envDefault:"30s"`

	// Kinds is the list of job kinds this worker process handles.
	Kinds []model.JobKind `env:"WORKER_KINDS" envDefault:"render,export"`

	// RetryBackoff is the base delay before a failed job becomes visible again.
	// The delay doubles with each retry.
	RetryBackoff time.Duration `env:"WORKER_RETRY_BACKOFF" envDefault:"30s"`

	// RetryBackoffCap bounds the doubled retry delay.
	RetryBackoffCap time.Duration `env:"WORKER_RETRY_BACKOFF_CAP" envDefault:"10m"`

	// AvgJobDuration feeds the completion estimate returned on submission.
	AvgJobDuration time.Duration `env:"WORKER_AVG_JOB_DURATION" envDefault:"30s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.JobLease < 5*time.Second {
		w.JobLease = 5 * time.Second
	}
	if len(w.Kinds) == 0 {
		w.Kinds = []model.JobKind{model.JobKindRender, model.JobKindExport}
	}
	if w.RetryBackoff < time.Second {
		w.RetryBackoff = time.Second
	}
	if w.RetryBackoffCap < w.RetryBackoff {
		w.RetryBackoffCap = w.RetryBackoff
	}
	if w.AvgJobDuration <= 0 {
		w.AvgJobDuration = 30 * time.Second
	}
}

// WebhookConfig contains webhook delivery configuration.
type WebhookConfig struct {
	// QueueSize bounds the in-memory delivery queue. Enqueues beyond this
	// are dropped rather than blocking job commits.
	QueueSize int `env:"WEBHOOK_QUEUE_SIZE" envDefault:"256"`

	// Workers is the number of delivery goroutines.
	Workers int `env:"WEBHOOK_WORKERS" envDefault:"2"`

	// MaxAttempts is the number of delivery attempts per notification.
	MaxAttempts int `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"3"`

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`

	// Backoff is the base delay between delivery attempts. The delay
	// doubles with each attempt.
	Backoff time.Duration `env:"WEBHOOK_BACKOFF" envDefault:"1s"`
}

// Sanitize applies guardrails to webhook configuration values.
func (w *WebhookConfig) Sanitize() {
	if w.QueueSize < 1 {
		w.QueueSize = 1
	}
	if w.Workers < 1 {
		w.Workers = 1
	}
	if w.MaxAttempts < 1 {
		w.MaxAttempts = 1
	}
	if w.Timeout <= 0 {
		w.Timeout = 10 * time.Second
	}
	if w.Backoff <= 0 {
		w.Backoff = time.Second
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// CompletedMaxAge is the maximum age for completed jobs before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"168h"` // 7 days

	// FailedMaxAge is the maximum age for failed jobs before deletion.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"168h"` // 7 days

	// CancelledMaxAge is the maximum age for cancelled jobs before deletion.
	CancelledMaxAge time.Duration `env:"REAPER_CANCELLED_MAX_AGE" envDefault:"168h"` // 7 days

	// DeadLetterMaxAge is the maximum age for dead-letter rows before deletion.
	// Zero or negative keeps dead letters forever.
	DeadLetterMaxAge time.Duration `env:"REAPER_DEAD_LETTER_MAX_AGE" envDefault:"0"`

	// WebhookMaxAge is the maximum age for webhook delivery attempt rows before deletion.
	WebhookMaxAge time.Duration `env:"REAPER_WEBHOOK_MAX_AGE" envDefault:"720h"` // 30 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.CompletedMaxAge < 1*time.Hour {
		r.CompletedMaxAge = 1 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}
	if r.CancelledMaxAge < 1*time.Hour {
		r.CancelledMaxAge = 1 * time.Hour
	}
	// DeadLetterMaxAge <= 0 means keep forever; otherwise enforce a floor.
	if r.DeadLetterMaxAge > 0 && r.DeadLetterMaxAge < 24*time.Hour {
		r.DeadLetterMaxAge = 24 * time.Hour
	}
	if r.WebhookMaxAge < 24*time.Hour {
		r.WebhookMaxAge = 24 * time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
