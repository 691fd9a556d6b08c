// internal/workers/maintenance/retry-sweep/config.go
package retrysweep

import (
	"fmt"
	"time"
)

type Config struct {
	MaxRetries int `mapstructure:"max_retries"`
	// RetryWindow is how long a failed entry rests before the sweep
	// considers it again.
	RetryWindow time.Duration `mapstructure:"retry_window"`
	BatchLimit  int           `mapstructure:"batch_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		MaxRetries:  3,
		RetryWindow: 2 * time.Hour,
		BatchLimit:  10,
	}
}

func (c *Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be positive")
	}
	if c.RetryWindow <= 0 {
		return fmt.Errorf("retry_window must be positive")
	}
	if c.BatchLimit < 1 {
		return fmt.Errorf("batch_limit must be positive")
	}
	return nil
}
