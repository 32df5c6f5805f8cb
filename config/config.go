package config

import (
	"log/slog"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: store backend, Postgres and Redis configuration
//   - services.go: service modes, worker, scoring and reaper configuration
//   - ai.go: AI provider client configuration
//   - observability.go: metrics and logging configuration
type AppConfig struct {
	// Store selects the persistence backend for jobs and section scores.
	Store StoreConfig

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"worker"`

	Worker  WorkerConfig
	Scoring ScoringConfig
	Reaper  ReaperConfig
	AI      AIConfig

	// Observability configuration
	Observability ObservabilityConfig

	// DevSeedFile is a JSON file of documents and jobs submitted at startup (development only).
	DevSeedFile string `env:"DEV_SEED_FILE"`
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Store.Sanitize()
	c.Worker.Sanitize()
	c.Scoring.Sanitize()
	c.Reaper.Sanitize()
	c.AI.Sanitize()
	c.Observability.Sanitize()
	c.Services = strings.TrimSpace(c.Services)
	c.DevSeedFile = strings.TrimSpace(c.DevSeedFile)
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsWorkerEnabled returns true if the job worker service is enabled.
func (c *AppConfig) IsWorkerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeWorker]
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReaper]
}

// UsesPostgres reports whether jobs and section scores are stored in Postgres.
func (c *AppConfig) UsesPostgres() bool {
	return c.Store.Backend == StoreBackendPostgres
}

// LogLevel returns the slog level parsed from LOG_LEVEL.
func (c *AppConfig) LogLevel() slog.Level {
	return c.Observability.Logging.SlogLevel()
}
