package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cvforge/cv-engine/config"
	"github.com/cvforge/cv-engine/internal/adapters/jobrunner"
	"github.com/cvforge/cv-engine/internal/adapters/reaper"
	"github.com/cvforge/cv-engine/internal/core"
	"github.com/cvforge/cv-engine/internal/data"
	"github.com/cvforge/cv-engine/internal/data/memory"
	domainjob "github.com/cvforge/cv-engine/internal/domain/job"
	"github.com/cvforge/cv-engine/internal/observability/statsd"
	"github.com/cvforge/cv-engine/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs      *service.JobService
	Queue     *domainjob.Queue
	Documents *core.DocumentStore
	// Scorer and Worker are nil when no AI provider is configured.
	Scorer        *service.SectionScorer
	Worker        *jobrunner.Worker
	Reaper        *reaper.Runner
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// sink returns the metrics sink as the port type, nil when metrics are disabled.
//
//nolint:ireturn // a typed nil *statsd.Client must not leak into the interface.
func (o ObservabilityContainer) sink() statsd.Sink {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink
}

// Close releases the metrics connection.
func (o ObservabilityContainer) Close() error {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink.Close()
}

// ServiceDeps groups dependencies for service initialization.
// DB and RedisClient are nil in memory mode.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	// AI overrides the HTTP AI client; used by tests.
	AI core.AIEvaluator
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	Jobs   core.JobRepository
	Reaper core.ReaperRepository
	Scores core.SectionScoreRepository
	Cache  core.CacheRepository
}

// buildObservability configures the metrics adapter.
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
			Prefix:  cfg.Metrics.Prefix,
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

// buildRepositories picks Postgres/Redis adapters when connections are given and
// memory stores otherwise; no business rules here.
func buildRepositories(db *sql.DB, rdb redis.UniversalClient, keyPrefix string) *serviceRepositories {
	repos := &serviceRepositories{}

	if db != nil {
		jobRepo := data.NewJobRepo(db, data.RepoConfig{})
		repos.Jobs = jobRepo
		repos.Reaper = jobRepo
		repos.Scores = data.NewSectionScoreRepo(db, data.RepoConfig{})
	} else {
		jobStore := memory.NewJobStore(memory.Options{})
		repos.Jobs = jobStore
		repos.Reaper = jobStore
		repos.Scores = memory.NewSectionScoreStore(memory.Options{})
	}

	if rdb != nil {
		repos.Cache = data.NewRedisCacheRepo(data.RedisCacheOptions{Client: rdb, KeyPrefix: keyPrefix})
	} else {
		repos.Cache = memory.NewCache(memory.Options{})
	}

	return repos
}

// NewServices wires every service from deps.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := *deps.Config

	observability := buildObservability(logger, cfg.Observability)
	sink := observability.sink()
	repos := buildRepositories(deps.DB, deps.RedisClient, cfg.Redis.KeyPrefix)

	documents := core.NewDocumentStore(core.DocumentStoreOptions{
		Cache:  repos.Cache,
		Config: core.DocumentStoreConfig{TTL: cfg.Scoring.DocumentTTL},
	})
	queue := domainjob.NewQueue(domainjob.QueueOptions{})

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:            repos.Jobs,
		Queue:           queue,
		DefaultPriority: cfg.Worker.DefaultPriority,
		Logger:          logger,
		Metrics:         sink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job service: %w", err)
	}

	container := ServiceContainer{
		Jobs:          jobs,
		Queue:         queue,
		Documents:     documents,
		Observability: observability,
	}

	ai, err := newAIEvaluator(deps.AI, cfg.AI, logger)
	if err != nil {
		return ServiceContainer{}, err
	}
	if ai != nil {
		container.Worker, container.Scorer, err = newWorker(WorkerDeps{
			Config:    cfg,
			AI:        ai,
			Repos:     repos,
			Documents: documents,
			Queue:     queue,
			Metrics:   sink,
			Logger:    logger,
		})
		if err != nil {
			return ServiceContainer{}, err
		}
	} else {
		logger.Warn("AI endpoint not configured; job worker is unavailable")
	}

	container.Reaper, err = newReaperRunner(repos.Reaper, cfg.Reaper, sink, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	return container, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
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
				deps.logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
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

func newWorkerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeWorker,
		name: "job worker",
		start: func(ctx context.Context) error {
			worker := deps.cfg.Services.Worker
			if worker == nil {
				return errAIUnavailable
			}
			return worker.Run(ctx)
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			runner := deps.cfg.Services.Reaper
			if runner == nil {
				return errors.New("reaper runner is not configured")
			}
			return runner.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newWorkerBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until ctx is done, a shutdown signal is received or a
// service fails.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	// Start all enabled services
	deps := &serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	}
	backgrounds := startBackgroundServices(deps, buildBackgroundServices(deps))

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		logger:      logger,
		backgrounds: backgrounds,
		timeout:     cfg.Config.Worker.ShutdownTimeout,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
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
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
	timeout     time.Duration
}

// waitForShutdown waits for shutdown signal, parent cancellation or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		gracefulStop(cfg)
		return nil
	case <-cfg.ctx.Done():
		cfg.logger.Info("shutting down services...", "reason", cfg.ctx.Err())
		gracefulStop(cfg)
		return nil
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		gracefulStop(cfg)
		return err
	}
}

// gracefulStop waits for background services to finish. Jobs a worker was
// running when it stopped stay Running.
func gracefulStop(cfg shutdownConfig) {
	timeout := cfg.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	expired := false
	for _, svc := range cfg.backgrounds {
		if expired {
			cfg.logger.Warn("timeout waiting for " + svc.name + " to stop")
			continue
		}
		expired = !waitForService(svc.done, svc.name, deadline.C, cfg.logger)
	}
}

// waitForService waits for a service to finish or the shared shutdown deadline.
// It reports false when the deadline fired first.
func waitForService(done <-chan struct{}, name string, deadline <-chan time.Time, logger *slog.Logger) bool {
	if done == nil {
		return true
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
		return true
	case <-deadline:
		logger.Warn("timeout waiting for " + name + " to stop")
		return false
	}
}
