// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Store    StoreConfig    `mapstructure:"store"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Email    EmailConfig    `mapstructure:"email"`
	AWS      AWSConfig      `mapstructure:"aws"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// StoreConfig selects and configures the record store backend.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"` // "redis" or "postgres"
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// PipelineConfig carries the externally tunable delivery constants.
type PipelineConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryWindow     time.Duration `mapstructure:"retry_window"`
	SweepBatchLimit int           `mapstructure:"sweep_batch_limit"`
	RetentionDays   int           `mapstructure:"retention_days"`

	SweepSchedule       string `mapstructure:"sweep_schedule"`
	ReplicationSchedule string `mapstructure:"replication_schedule"`
	GCSchedule          string `mapstructure:"gc_schedule"`

	// Unresolved chat messages are re-scanned on this schedule once
	// they are older than UnresolvedAge.
	UnresolvedSchedule string        `mapstructure:"unresolved_schedule"`
	UnresolvedAge      time.Duration `mapstructure:"unresolved_age"`
	UnresolvedLimit    int           `mapstructure:"unresolved_limit"`
}

// EmailConfig fixes the sender identity and rendering defaults.
type EmailConfig struct {
	FromAddress     string `mapstructure:"from_address"`
	FromName        string `mapstructure:"from_name"`
	DefaultSubject  string `mapstructure:"default_subject"`
	DefaultTemplate string `mapstructure:"default_template"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "poppins-pipeline"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "redis"
	}
	if cfg.Store.Redis.Address == "" {
		cfg.Store.Redis.Address = "localhost:6379"
	}
	if cfg.Store.Postgres.SSLMode == "" {
		cfg.Store.Postgres.SSLMode = "disable"
	}
	if cfg.Pipeline.MaxRetries == 0 {
		cfg.Pipeline.MaxRetries = 3
	}
	if cfg.Pipeline.RetryWindow == 0 {
		cfg.Pipeline.RetryWindow = 2 * time.Hour
	}
	if cfg.Pipeline.SweepBatchLimit == 0 {
		cfg.Pipeline.SweepBatchLimit = 10
	}
	if cfg.Pipeline.RetentionDays == 0 {
		cfg.Pipeline.RetentionDays = 7
	}
	if cfg.Pipeline.SweepSchedule == "" {
		cfg.Pipeline.SweepSchedule = "@every 2h"
	}
	if cfg.Pipeline.ReplicationSchedule == "" {
		cfg.Pipeline.ReplicationSchedule = "CRON_TZ=Europe/Paris 0 0 * * 0"
	}
	if cfg.Pipeline.GCSchedule == "" {
		cfg.Pipeline.GCSchedule = "@every 24h"
	}
	if cfg.Pipeline.UnresolvedSchedule == "" {
		cfg.Pipeline.UnresolvedSchedule = "@every 24h"
	}
	if cfg.Pipeline.UnresolvedAge == 0 {
		cfg.Pipeline.UnresolvedAge = time.Hour
	}
	if cfg.Pipeline.UnresolvedLimit == 0 {
		cfg.Pipeline.UnresolvedLimit = 50
	}
	if cfg.Email.FromAddress == "" {
		cfg.Email.FromAddress = "noreply@poppin-s.app"
	}
	if cfg.Email.FromName == "" {
		cfg.Email.FromName = "Les Lutins - Application Poppins"
	}
	if cfg.Email.DefaultSubject == "" {
		cfg.Email.DefaultSubject = "Invitation à l'application Poppins"
	}
	if cfg.Email.DefaultTemplate == "" {
		cfg.Email.DefaultTemplate = "parent-invitation"
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "eu-west-1"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":2112"
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Store.Backend {
	case "redis", "postgres":
	default:
		return fmt.Errorf("unknown store backend: %q", cfg.Store.Backend)
	}
	if cfg.Pipeline.MaxRetries < 1 {
		return fmt.Errorf("pipeline.max_retries must be positive")
	}
	if cfg.Pipeline.RetryWindow <= 0 {
		return fmt.Errorf("pipeline.retry_window must be positive")
	}
	if cfg.Pipeline.SweepBatchLimit < 1 {
		return fmt.Errorf("pipeline.sweep_batch_limit must be positive")
	}
	if cfg.Pipeline.RetentionDays < 1 {
		return fmt.Errorf("pipeline.retention_days must be positive")
	}
	if cfg.Email.FromAddress == "" {
		return fmt.Errorf("email.from_address is required")
	}
	return nil
}
