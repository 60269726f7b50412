package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
	DBMinConns  int    `envconfig:"NR_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int    `envconfig:"NR_DB_MAX_CONNS" default:"8"`

	HTTPAddr string `envconfig:"NR_HTTP_ADDR" default:":8787"`

	IngestWorkers      int `envconfig:"NR_INGEST_WORKERS" default:"4"`
	MaintenanceMinutes int `envconfig:"NR_MAINTENANCE_MINUTES" default:"30"`

	ProfilePath     string `envconfig:"NR_PROFILE_PATH" default:""`
	ExperimentsPath string `envconfig:"NR_EXPERIMENTS_PATH" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBMinConns < 0 {
		return fmt.Errorf("NR_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("NR_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("NR_DB_MIN_CONNS (%d) cannot exceed NR_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.IngestWorkers < 1 {
		return fmt.Errorf("NR_INGEST_WORKERS must be >= 1")
	}
	if c.MaintenanceMinutes < 1 {
		return fmt.Errorf("NR_MAINTENANCE_MINUTES must be >= 1")
	}
	return nil
}

// RequireDatabase validates that a database URL is configured for commands
// that cannot run against the in-memory store.
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}
