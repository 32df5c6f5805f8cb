package config

import (
	"fmt"
	"strings"
	"time"
)

// StoreBackend selects where jobs and section scores live.
type StoreBackend string

const (
	// StoreBackendMemory keeps everything in process memory (development and tests).
	StoreBackendMemory StoreBackend = "memory"
	// StoreBackendPostgres stores jobs and scores in Postgres and documents in Redis.
	StoreBackendPostgres StoreBackend = "postgres"
)

// StoreConfig contains persistence backend selection.
type StoreConfig struct {
	Backend StoreBackend `env:"STORE_BACKEND" envDefault:"memory"`
}

// Sanitize normalises the backend name, falling back to memory for unknown values.
func (s *StoreConfig) Sanitize() {
	b := StoreBackend(strings.ToLower(strings.TrimSpace(string(s.Backend))))
	switch b {
	case StoreBackendMemory, StoreBackendPostgres:
		s.Backend = b
	default:
		s.Backend = StoreBackendMemory
	}
}

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"cvengine"`
	Password string `env:"PASSWORD" envDefault:"cvengine"`
	Name     string `env:"NAME"     envDefault:"cvengine"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`

	MaxOpenConns    int           `env:"MAX_OPEN_CONNS"    envDefault:"10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
}

// DSN renders the pgx connection string.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	KeyPrefix          string   `env:"KEY_PREFIX"           envDefault:"cvengine:"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}
