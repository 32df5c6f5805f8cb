package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeWorker runs the job worker loop.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the stale job sweep and retention cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeWorker, ServiceModeReaper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: worker, reaper)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains job worker configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker loops pulling from the in-memory queue.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"1"`

	// DefaultPriority is applied to jobs created without an explicit priority.
	DefaultPriority int `env:"WORKER_DEFAULT_PRIORITY" envDefault:"0"`

	// HandlerTimeout bounds a single handler invocation. Zero disables the bound.
	HandlerTimeout time.Duration `env:"WORKER_HANDLER_TIMEOUT" envDefault:"5m"`

	// ShutdownTimeout bounds how long shutdown waits for in-flight handlers.
	ShutdownTimeout time.Duration `env:"WORKER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.Concurrency > 64 {
		w.Concurrency = 64
	}
	if w.HandlerTimeout < 0 {
		w.HandlerTimeout = 0
	}
	if w.ShutdownTimeout <= 0 {
		w.ShutdownTimeout = 30 * time.Second
	}
}

// ScoringConfig contains section scoring configuration.
type ScoringConfig struct {
	// MaxParallelSections caps the number of sections scored concurrently for one job.
	MaxParallelSections int `env:"SCORING_MAX_PARALLEL_SECTIONS" envDefault:"7"`

	// DocumentTTL is how long CV section documents and rubrics are kept in the document store.
	DocumentTTL time.Duration `env:"SCORING_DOCUMENT_TTL" envDefault:"720h"`
}

// Sanitize applies guardrails to scoring configuration values.
func (s *ScoringConfig) Sanitize() {
	if s.MaxParallelSections < 1 {
		s.MaxParallelSections = 1
	}
	if s.DocumentTTL < 0 {
		s.DocumentTTL = 0
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// RunningMaxAge is the maximum time a job may stay running before it is marked failed.
	// A worker that died mid-handler leaves its job running forever otherwise.
	RunningMaxAge time.Duration `env:"REAPER_RUNNING_MAX_AGE" envDefault:"1h"`

	// CompletedMaxAge is the maximum age for terminal jobs before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"168h"` // 7 days

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
	if r.RunningMaxAge < 5*time.Minute {
		r.RunningMaxAge = 5 * time.Minute
	}
	if r.CompletedMaxAge < 1*time.Hour {
		r.CompletedMaxAge = 1 * time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
