// internal/workers/delivery/email-dispatch/config.go
package emaildispatch

import "fmt"

type Config struct {
	MaxRetries      int    `mapstructure:"max_retries"`
	FromAddress     string `mapstructure:"from_address"`
	FromName        string `mapstructure:"from_name"`
	DefaultSubject  string `mapstructure:"default_subject"`
	DefaultTemplate string `mapstructure:"default_template"`
}

func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      3,
		FromAddress:     "noreply@poppin-s.app",
		FromName:        "Les Lutins - Application Poppins",
		DefaultSubject:  "Invitation à l'application Poppins",
		DefaultTemplate: "parent-invitation",
	}
}

func (c *Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be positive")
	}
	if c.FromAddress == "" {
		return fmt.Errorf("from_address is required")
	}
	if c.DefaultTemplate == "" {
		return fmt.Errorf("default_template is required")
	}
	return nil
}
