package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cvforge/cv-engine/config"
	"github.com/cvforge/cv-engine/internal/adapters/aiclient"
	"github.com/cvforge/cv-engine/internal/adapters/jobrunner"
	"github.com/cvforge/cv-engine/internal/adapters/reaper"
	"github.com/cvforge/cv-engine/internal/core"
	domainjob "github.com/cvforge/cv-engine/internal/domain/job"
	"github.com/cvforge/cv-engine/internal/observability/statsd"
	"github.com/cvforge/cv-engine/internal/service"
)

// errAIUnavailable is returned when the worker is wired without an AI provider.
var errAIUnavailable = errors.New("AI evaluator is not configured")

// newAIEvaluator returns the override when set, otherwise an HTTP client for cfg.
// A nil evaluator with a nil error means no provider is configured.
//
//nolint:ireturn // callers hold the port, not the HTTP client.
func newAIEvaluator(override core.AIEvaluator, cfg config.AIConfig, logger *slog.Logger) (core.AIEvaluator, error) {
	if override != nil {
		return override, nil
	}
	if !cfg.IsConfigured() {
		return nil, nil
	}
	client, err := aiclient.New(aiclient.Options{Config: cfg, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("create ai client: %w", err)
	}
	return client, nil
}

// WorkerDeps groups what the job worker needs.
type WorkerDeps struct {
	Config    config.AppConfig
	AI        core.AIEvaluator
	Repos     *serviceRepositories
	Documents *core.DocumentStore
	Queue     *domainjob.Queue
	Metrics   statsd.Sink
	Logger    *slog.Logger
}

// newWorker builds the section scorer, the three handlers, the router and the worker.
func newWorker(deps WorkerDeps) (*jobrunner.Worker, *service.SectionScorer, error) {
	if deps.AI == nil {
		return nil, nil, errAIUnavailable
	}

	scorer, err := service.NewSectionScorer(service.SectionScorerOptions{
		Repo:    deps.Repos.Scores,
		AI:      deps.AI,
		Logger:  deps.Logger,
		Metrics: deps.Metrics,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create section scorer: %w", err)
	}

	handlers, err := jobrunner.NewHandlers(jobrunner.HandlersOptions{
		AI:                  deps.AI,
		CVSections:          deps.Documents,
		Rubrics:             deps.Documents,
		Scorer:              scorer,
		Logger:              deps.Logger,
		MaxParallelSections: deps.Config.Scoring.MaxParallelSections,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create handlers: %w", err)
	}

	router, err := domainjob.NewRouter(handlers...)
	if err != nil {
		return nil, nil, fmt.Errorf("create router: %w", err)
	}

	worker, err := jobrunner.NewWorker(jobrunner.WorkerOptions{
		Queue:          deps.Queue,
		Jobs:           deps.Repos.Jobs,
		Router:         router,
		Logger:         deps.Logger,
		Metrics:        deps.Metrics,
		Concurrency:    deps.Config.Worker.Concurrency,
		HandlerTimeout: deps.Config.Worker.HandlerTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create worker: %w", err)
	}
	return worker, scorer, nil
}

// newReaperRunner builds the reaper runner over the configured job store.
func newReaperRunner(repo core.ReaperRepository, cfg config.ReaperConfig, metrics statsd.Sink, logger *slog.Logger) (*reaper.Runner, error) {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		Repo:    repo,
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create reaper runner: %w", err)
	}
	return runner, nil
}
