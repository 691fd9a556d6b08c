package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	applyDefaults(&cfg)

	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, 3, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 2*time.Hour, cfg.Pipeline.RetryWindow)
	assert.Equal(t, 10, cfg.Pipeline.SweepBatchLimit)
	assert.Equal(t, 7, cfg.Pipeline.RetentionDays)
	assert.Equal(t, "CRON_TZ=Europe/Paris 0 0 * * 0", cfg.Pipeline.ReplicationSchedule)
	assert.Equal(t, "noreply@poppin-s.app", cfg.Email.FromAddress)
	assert.Equal(t, "parent-invitation", cfg.Email.DefaultTemplate)
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := Config{}
	cfg.Store.Backend = "postgres"
	cfg.Pipeline.MaxRetries = 5
	cfg.Email.FromAddress = "hello@example.com"

	applyDefaults(&cfg)

	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, 5, cfg.Pipeline.MaxRetries)
	assert.Equal(t, "hello@example.com", cfg.Email.FromAddress)
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		var cfg Config
		applyDefaults(&cfg)
		return &cfg
	}

	t.Run("defaults are valid", func(t *testing.T) {
		require.NoError(t, validateConfig(valid()))
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "dynamo" }},
		{"zero retries", func(c *Config) { c.Pipeline.MaxRetries = -1 }},
		{"negative retry window", func(c *Config) { c.Pipeline.RetryWindow = -time.Hour }},
		{"zero batch limit", func(c *Config) { c.Pipeline.SweepBatchLimit = -1 }},
		{"no sender", func(c *Config) { c.Email.FromAddress = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, validateConfig(cfg))
		})
	}
}

func TestPostgresConfig_GetDSN(t *testing.T) {
	p := PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		Database: "pipeline",
		User:     "app",
		Password: "secret",
		SSLMode:  "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=app password=secret dbname=pipeline sslmode=disable",
		p.GetDSN())
}
