// internal/workers/delivery/recipient-resolve/config.go
package recipientresolve

import (
	"fmt"
	"time"
)

type Config struct {
	// UnresolvedAge is how old an undelivered message must be before the
	// sweep retries resolution for it.
	UnresolvedAge   time.Duration `mapstructure:"unresolved_age"`
	UnresolvedLimit int           `mapstructure:"unresolved_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		UnresolvedAge:   time.Hour,
		UnresolvedLimit: 50,
	}
}

func (c *Config) Validate() error {
	if c.UnresolvedAge <= 0 {
		return fmt.Errorf("unresolved_age must be positive")
	}
	if c.UnresolvedLimit < 1 {
		return fmt.Errorf("unresolved_limit must be positive")
	}
	return nil
}
