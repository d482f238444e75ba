package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressroom/pressroom/config"
	"github.com/pressroom/pressroom/internal/adapters/reaper"
	"github.com/pressroom/pressroom/internal/adapters/render"
	"github.com/pressroom/pressroom/internal/adapters/worker"
	"github.com/pressroom/pressroom/internal/domain/model"
	"github.com/pressroom/pressroom/internal/observability/statsd"
	"github.com/pressroom/pressroom/internal/service"
)

// WorkerRunnerConfig contains configuration for one worker runner.
type WorkerRunnerConfig struct {
	DB          *sql.DB
	Logger      *slog.Logger
	Kind        model.JobKind
	Lease       time.Duration
	Concurrency int
	Render      config.RenderConfig
	Jobs        *service.JobService
	Metrics     statsd.Sink
}

// NewWorkerRunner builds a worker runner with render/export handlers registered.
// The runner is returned unstarted so callers can wire its worker gauge into
// health reporting before launching it.
func NewWorkerRunner(cfg WorkerRunnerConfig) (*worker.Runner, error) {
	runner, err := worker.NewRunner(worker.RunnerOptions{
		DB:          cfg.DB,
		Logger:      cfg.Logger,
		Lease:       cfg.Lease,
		Concurrency: cfg.Concurrency,
		Kind:        cfg.Kind,
		Jobs:        cfg.Jobs,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s worker runner: %w", cfg.Kind, err)
	}

	handler, err := newRenderHandler(cfg.Render, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("create render handler: %w", err)
	}

	runner.Register(model.JobKindRender, handler.HandleRender)
	runner.Register(model.JobKindExport, handler.HandleExport)

	return runner, nil
}

func newRenderHandler(cfg config.RenderConfig, logger *slog.Logger) (*render.Handler, error) {
	engine, err := render.NewEngineClient(render.EngineConfig{
		BaseURL: cfg.EngineURL,
		Timeout: cfg.EngineTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create engine client: %w", err)
	}

	store, err := render.NewStoreClient(render.StoreConfig{
		BaseURL:       cfg.StoreURL,
		PublicBaseURL: cfg.StorePublicURL,
		Timeout:       cfg.StoreTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create store client: %w", err)
	}

	return render.NewHandler(render.HandlerOptions{
		Renderer: engine,
		Store:    store,
		Logger:   logger,
	})
}

// ReaperConfig contains configuration for the reaper.
type ReaperConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
