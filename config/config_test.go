package config

import (
	"reflect"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"

	"github.com/pressroom/pressroom/internal/domain/model"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:  "single service - http",
			input: "http",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP: true,
			},
		},
		{
			name:  "single service - worker",
			input: "worker",
			expected: map[ServiceMode]bool{
				ServiceModeWorker: true,
			},
		},
		{
			name:  "multiple services",
			input: "http,worker,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeWorker: true,
				ServiceModeReaper: true,
			},
		},
		{
			name:  "all services",
			input: "http,worker,reaper,webhook-notifier",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:            true,
				ServiceModeWorker:          true,
				ServiceModeReaper:          true,
				ServiceModeWebhookNotifier: true,
			},
		},
		{
			name:  "services with spaces",
			input: " http , worker ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeWorker: true,
			},
		},
		{
			name:  "duplicate services",
			input: "http,http,worker",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeWorker: true,
			},
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "http,scheduler",
			expectError: true,
		},
		{
			name:        "only commas",
			input:       ",,,",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error, got services %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestAppConfigDefaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Services != "http" {
		t.Errorf("expected default services http, got %q", cfg.Services)
	}
	if !cfg.IsHTTPServerEnabled() {
		t.Error("expected HTTP server enabled by default")
	}
	if cfg.IsWorkerEnabled() {
		t.Error("expected worker disabled by default")
	}
	if cfg.Postgres.Port != 5432 {
		t.Errorf("expected default postgres port 5432, got %d", cfg.Postgres.Port)
	}
	if cfg.Worker.JobLease != 30*time.Second {
		t.Errorf("expected default job lease 30s, got %v", cfg.Worker.JobLease)
	}
	if !reflect.DeepEqual(cfg.Worker.Kinds, []model.JobKind{model.JobKindRender, model.JobKindExport}) {
		t.Errorf("expected default worker kinds render,export, got %v", cfg.Worker.Kinds)
	}
	if cfg.Webhooks.MaxAttempts != 3 {
		t.Errorf("expected default webhook max attempts 3, got %d", cfg.Webhooks.MaxAttempts)
	}
	if cfg.Reaper.DeadLetterMaxAge != 0 {
		t.Errorf("expected dead letters kept forever by default, got %v", cfg.Reaper.DeadLetterMaxAge)
	}
}

func TestWorkerConfigSanitize(t *testing.T) {
	w := WorkerConfig{
		Concurrency:     0,
		JobLease:        time.Second,
		RetryBackoff:    0,
		RetryBackoffCap: 0,
	}
	w.Sanitize()

	if w.Concurrency != 1 {
		t.Errorf("expected concurrency clamped to 1, got %d", w.Concurrency)
	}
	if w.JobLease != 5*time.Second {
		t.Errorf("expected lease clamped to 5s, got %v", w.JobLease)
	}
	if w.RetryBackoff != time.Second {
		t.Errorf("expected retry backoff floor 1s, got %v", w.RetryBackoff)
	}
	if w.RetryBackoffCap < w.RetryBackoff {
		t.Errorf("expected cap >= base, got %v < %v", w.RetryBackoffCap, w.RetryBackoff)
	}
	if len(w.Kinds) == 0 {
		t.Error("expected default kinds after sanitize")
	}
}

func TestReaperConfigSanitize(t *testing.T) {
	r := ReaperConfig{
		Interval:         time.Second,
		CompletedMaxAge:  time.Minute,
		FailedMaxAge:     time.Minute,
		CancelledMaxAge:  time.Minute,
		DeadLetterMaxAge: time.Hour,
		WebhookMaxAge:    time.Hour,
		BatchSize:        100000,
	}
	r.Sanitize()

	if r.Interval != time.Minute {
		t.Errorf("expected interval floor 1m, got %v", r.Interval)
	}
	if r.CompletedMaxAge != time.Hour {
		t.Errorf("expected completed max age floor 1h, got %v", r.CompletedMaxAge)
	}
	if r.DeadLetterMaxAge != 24*time.Hour {
		t.Errorf("expected dead letter floor 24h, got %v", r.DeadLetterMaxAge)
	}
	if r.BatchSize != 10000 {
		t.Errorf("expected batch size capped at 10000, got %d", r.BatchSize)
	}
}

func TestReaperConfigKeepsDeadLettersForever(t *testing.T) {
	r := ReaperConfig{DeadLetterMaxAge: 0}
	r.Sanitize()
	if r.DeadLetterMaxAge != 0 {
		t.Errorf("expected zero dead letter max age preserved, got %v", r.DeadLetterMaxAge)
	}
}
