package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pressroom/pressroom/config"
	"github.com/pressroom/pressroom/internal/adapters/worker"
	"github.com/pressroom/pressroom/internal/data"
	"github.com/pressroom/pressroom/internal/observability/statsd"
	"github.com/pressroom/pressroom/internal/service"
	"github.com/pressroom/pressroom/internal/service/webhooknotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *service.JobService
	JobRepo       *data.JobRepo
	StatusCache   *data.StatusCache
	Webhooks      *webhooknotifier.Service
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "pressroom",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// NewServices wires the job service with its cache, webhook delivery, and
// metrics dependencies. The returned container owns the webhook notifier
// workers; callers must stop them through gracefulStop or Webhooks.Stop.
func NewServices(ctx context.Context, deps *ServiceDeps) ServiceContainer {
	if deps == nil {
		return ServiceContainer{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	observability := buildObservability(logger, appCfg.Observability)
	jobRepo := data.NewJobRepo(deps.DB, data.RepoConfig{Logger: logger})

	var statusCache *data.StatusCache
	if deps.RedisClient != nil && appCfg.StatusCache.Enabled {
		statusCache = data.NewStatusCache(deps.RedisClient, appCfg.StatusCache.TTL)
	}

	var webhooks *webhooknotifier.Service
	if appCfg.IsWebhookNotifierEnabled() && deps.DB != nil {
		webhooks = webhooknotifier.NewService(ctx, webhooknotifier.Options{
			Logger:      logger,
			Deliveries:  data.NewWebhookDeliveryRepo(deps.DB, nil),
			Metrics:     observability.MetricsSink,
			QueueSize:   appCfg.Webhooks.QueueSize,
			Workers:     appCfg.Webhooks.Workers,
			MaxAttempts: appCfg.Webhooks.MaxAttempts,
			Timeout:     appCfg.Webhooks.Timeout,
			Backoff:     appCfg.Webhooks.Backoff,
		})
	}

	opts := service.JobServiceOptions{
		Repo:            jobRepo,
		DefaultLease:    appCfg.Worker.JobLease,
		RetryBackoff:    appCfg.Worker.RetryBackoff,
		RetryBackoffCap: appCfg.Worker.RetryBackoffCap,
		AvgJobDuration:  appCfg.Worker.AvgJobDuration,
		Logger:          logger,
		Metrics:         observability.MetricsSink,
	}
	// Assign optional deps only when non-nil so the service sees nil interfaces.
	if statusCache != nil {
		opts.StatusCache = statusCache
	}
	if deps.DB != nil {
		opts.DeadLetters = data.NewDeadLetterRepo(deps.DB)
	}
	if webhooks != nil {
		opts.Webhooks = webhooks
	}

	return ServiceContainer{
		Jobs:          service.MustNewJobService(opts),
		JobRepo:       jobRepo,
		StatusCache:   statusCache,
		Webhooks:      webhooks,
		Observability: observability,
	}
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	workerRunners   []*worker.Runner
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// runnerGauge sums active workers across per-kind runners for health reporting.
type runnerGauge []*worker.Runner

func (g runnerGauge) ActiveWorkers() int {
	total := 0
	for _, r := range g {
		total += r.ActiveWorkers()
	}
	return total
}

// buildWorkerRunners constructs one runner per configured job kind.
func buildWorkerRunners(cfg *ServiceOrchestrationConfig, logger *slog.Logger) ([]*worker.Runner, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, nil
	}

	runners := make([]*worker.Runner, 0, len(cfg.Config.Worker.Kinds))
	for _, kind := range cfg.Config.Worker.Kinds {
		runner, err := NewWorkerRunner(WorkerRunnerConfig{
			DB:          cfg.DB,
			Logger:      logger,
			Kind:        kind,
			Lease:       cfg.Config.Worker.JobLease,
			Concurrency: cfg.Config.Worker.Concurrency,
			Render:      cfg.Config.Render,
			Jobs:        cfg.Services.Jobs,
			Metrics:     cfg.Services.Observability.MetricsSink,
		})
		if err != nil {
			return nil, err
		}
		runners = append(runners, runner)
	}
	return runners, nil
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Workers:  runnerGauge(deps.workerRunners),
		Logger:   deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name,
					"error", errMsg,
				)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)

	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newWorkerBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}

	services := make([]backgroundService, 0, len(deps.workerRunners))
	for _, runner := range deps.workerRunners {
		r := runner
		services = append(services, backgroundService{
			mode: config.ServiceModeWorker,
			name: fmt.Sprintf("%s worker", r.Kind()),
			start: func(ctx context.Context) error {
				err := r.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			},
		})
	}
	return services
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			var reaperCfg config.ReaperConfig
			if deps.cfg.Config != nil {
				reaperCfg = deps.cfg.Config.Reaper
			}
			return RunReaper(ctx, ReaperConfig{
				DB:      deps.cfg.DB,
				Logger:  deps.logger,
				Config:  reaperCfg,
				Metrics: deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	services := newWorkerBackgroundServices(deps)
	services = append(services, newReaperBackgroundService(deps))
	return services
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	var workerRunners []*worker.Runner
	if enabledServices[config.ServiceModeWorker] {
		workerRunners, err = buildWorkerRunners(cfg, logger)
		if err != nil {
			return fmt.Errorf("build worker runners: %w", err)
		}
	}

	// Start all enabled services
	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		workerRunners:   workerRunners,
		errCh:           errCh,
	})

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		jobService:  cfg.Services.Jobs,
		webhooks:    cfg.Services.Webhooks,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	modes := []config.ServiceMode{
		config.ServiceModeHTTP,
		config.ServiceModeWorker,
		config.ServiceModeReaper,
		config.ServiceModeWebhookNotifier,
	}

	count := 0
	for _, mode := range modes {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	jobService  *service.JobService
	webhooks    *webhooknotifier.Service
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	// Gracefully stop HTTP server if running
	if cfg.httpServer != nil {
		// Create a timeout context for HTTP shutdown
		shutdownCtx, cancel := context.WithTimeout(cfg.ctx, shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context:    shutdownCtx,
			Server:     cfg.httpServer,
			JobService: cfg.jobService,
			Logger:     cfg.logger,
		}); err != nil {
			return err
		}
	}

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	// Drain and stop webhook delivery workers last so terminal commits made
	// during shutdown still notify.
	if cfg.webhooks != nil {
		cfg.webhooks.Stop()
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
