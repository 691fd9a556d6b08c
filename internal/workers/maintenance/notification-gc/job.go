// internal/workers/maintenance/notification-gc/job.go
package notificationgc

import (
	"context"
	"fmt"
	"time"

	"poppins-pipeline/internal/common/logger"
	"poppins-pipeline/internal/common/store"
	"poppins-pipeline/internal/models"
)

type Config struct {
	RetentionDays int `mapstructure:"retention_days"`
}

func DefaultConfig() *Config {
	return &Config{RetentionDays: 7}
}

func (c *Config) Validate() error {
	if c.RetentionDays < 1 {
		return fmt.Errorf("retention_days must be positive")
	}
	return nil
}

// Job deletes notification records past the retention window. Delivery
// state lives on the records themselves, so expired ones carry no value
// beyond audit and can go wholesale.
type Job struct {
	config *Config
	store  store.Store
	logger logger.Logger
	now    func() time.Time
}

func NewJob(cfg *Config, st store.Store, log logger.Logger) *Job {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Job{
		config: cfg,
		store:  st,
		logger: log,
		now:    time.Now,
	}
}

func (j *Job) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.config.RetentionDays)

	records, err := j.store.Query(ctx, models.CollectionNotifications, []store.Filter{
		store.Where("createdAt", store.OpLess, cutoff),
	}, 0)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		j.logger.Debug("no expired notifications", nil)
		return nil
	}

	ops := make([]store.WriteOp, 0, len(records))
	for _, record := range records {
		ops = append(ops, store.WriteOp{
			Kind:       store.WriteDelete,
			Collection: models.CollectionNotifications,
			ID:         record.ID,
		})
	}
	if err := j.store.BatchWrite(ctx, ops); err != nil {
		return err
	}

	j.logger.Info("expired notifications deleted", map[string]interface{}{
		"count":  len(records),
		"cutoff": cutoff.Format(time.RFC3339),
	})
	return nil
}
