// internal/workers/maintenance/retry-sweep/job.go
package retrysweep

import (
	"context"
	"encoding/json"
	"time"

	"poppins-pipeline/internal/common/logger"
	"poppins-pipeline/internal/common/store"
	"poppins-pipeline/internal/events"
	"poppins-pipeline/internal/models"
)

// Job gives failed email queue entries another shot. Entries that failed
// longer than the retry window ago and still have budget left are reset to
// pending in one atomic batch, then re-emitted so the dispatcher picks
// them up. The batch cap keeps one sweep from flooding the gateway.
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
	cutoff := j.now().UTC().Add(-j.config.RetryWindow)

	records, err := j.store.Query(ctx, models.CollectionEmailQueue, []store.Filter{
		store.Where("status", store.OpEqual, models.EmailStatusFailed),
		store.Where("lastErrorAt", store.OpLess, cutoff),
		store.Where("retryCount", store.OpLess, j.config.MaxRetries),
	}, j.config.BatchLimit)
	if err != nil {
		return err
	}

	reset := make(map[string]bool, len(records))
	if len(records) > 0 {
		ops := make([]store.WriteOp, 0, len(records))
		for _, record := range records {
			reset[record.ID] = true
			ops = append(ops, store.WriteOp{
				Kind:       store.WritePatch,
				Collection: models.CollectionEmailQueue,
				ID:         record.ID,
				Patch: map[string]interface{}{
					// lastErrorAt survives the reset on purpose. If the
					// re-emitted event is lost, the stale-pending pass of a
					// later sweep can still find the entry by that timestamp.
					"status":     models.EmailStatusPending,
					"retryCount": 0,
					"lastError":  nil,
				},
			})
		}
		if err := j.store.BatchWrite(ctx, ops); err != nil {
			return err
		}

		for _, record := range records {
			if err := j.republish(ctx, record.ID); err != nil {
				j.logger.WithError(err).Error("failed to re-emit reset entry", map[string]interface{}{
					"entryId": record.ID,
				})
			}
		}

		j.logger.Info("reset failed email entries", map[string]interface{}{
			"count": len(records),
		})
	}

	return j.requeueStalePending(ctx, cutoff, reset)
}

// requeueStalePending re-emits entries that went back to pending after a
// transient failure but were never picked up again. Without this, an entry
// whose re-dispatch event was lost would sit pending forever. Entries
// already re-emitted by this run's reset pass are skipped.
func (j *Job) requeueStalePending(ctx context.Context, cutoff time.Time, skip map[string]bool) error {
	records, err := j.store.Query(ctx, models.CollectionEmailQueue, []store.Filter{
		store.Where("status", store.OpEqual, models.EmailStatusPending),
		store.Where("lastErrorAt", store.OpLess, cutoff),
	}, j.config.BatchLimit)
	if err != nil {
		return err
	}
	requeued := records[:0]
	for _, record := range records {
		if !skip[record.ID] {
			requeued = append(requeued, record)
		}
	}
	records = requeued
	if len(records) == 0 {
		return nil
	}

	for _, record := range records {
		if err := j.republish(ctx, record.ID); err != nil {
			j.logger.WithError(err).Error("failed to re-emit stale pending entry", map[string]interface{}{
				"entryId": record.ID,
			})
		}
	}

	j.logger.Info("requeued stale pending entries", map[string]interface{}{
		"count": len(records),
	})
	return nil
}

// republish reads the entry fresh so the re-emitted event carries the
// post-reset document, then pushes it back into the create feed.
func (j *Job) republish(ctx context.Context, id string) error {
	var doc json.RawMessage
	if err := j.store.Get(ctx, models.CollectionEmailQueue, id, &doc); err != nil {
		return err
	}
	return j.store.Publish(ctx, events.Event{
		Collection: models.CollectionEmailQueue,
		ID:         id,
		Doc:        doc,
	})
}
