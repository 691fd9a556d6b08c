// internal/workers/maintenance/schedule-replicate/job.go
package schedulereplicate

import (
	"context"
	"encoding/json"
	"time"

	"poppins-pipeline/internal/common/errors"
	"poppins-pipeline/internal/common/logger"
	"poppins-pipeline/internal/common/store"
	"poppins-pipeline/internal/models"
)

const weekKeyLayout = "2006-01-02"

// Job copies every tenant's current weekly schedule forward into the next
// week. It runs Sunday at midnight local time, so staff start Monday with
// last week's plan already in place. Copies are idempotent: a next-week
// schedule that already exists is never overwritten.
type Job struct {
	store  store.Store
	logger logger.Logger
	now    func() time.Time
}

func NewJob(st store.Store, log logger.Logger, now func() time.Time) *Job {
	if now == nil {
		now = time.Now
	}
	return &Job{
		store:  st,
		logger: log,
		now:    now,
	}
}

func (j *Job) Run(ctx context.Context) error {
	tenantIDs, err := j.store.ListIDs(ctx, models.CollectionTenants)
	if err != nil {
		return err
	}

	currentKey, nextKey := WeekKeys(j.now())
	log := j.logger.WithFields(map[string]interface{}{
		"currentWeek": currentKey,
		"nextWeek":    nextKey,
	})

	copied := 0
	for _, tenantID := range tenantIDs {
		ok, err := j.replicateTenant(ctx, tenantID, currentKey, nextKey)
		if err != nil {
			log.WithError(err).Error("schedule replication failed for tenant", map[string]interface{}{
				"tenantId": tenantID,
			})
			continue
		}
		if ok {
			copied++
		}
	}

	log.Info("schedule replication finished", map[string]interface{}{
		"tenants": len(tenantIDs),
		"copied":  copied,
	})
	return nil
}

func (j *Job) replicateTenant(ctx context.Context, tenantID, currentKey, nextKey string) (bool, error) {
	collection := models.SchedulesCollection(tenantID)

	exists, err := j.store.Exists(ctx, collection, nextKey)
	if err != nil {
		return false, err
	}
	if exists {
		j.logger.Debug("next week schedule already present", map[string]interface{}{
			"tenantId": tenantID,
		})
		return false, nil
	}

	var schedule json.RawMessage
	if err := j.store.Get(ctx, collection, currentKey, &schedule); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			j.logger.Debug("tenant has no current week schedule", map[string]interface{}{
				"tenantId": tenantID,
			})
			return false, nil
		}
		return false, err
	}

	if err := j.store.Set(ctx, collection, nextKey, schedule); err != nil {
		return false, err
	}
	return true, nil
}

// WeekKeys returns the Monday keys of the current and next week for a
// given wall-clock time. Weeks start Monday; on Sunday the "current" week
// is the one that is just ending, not the one starting tomorrow, so the
// Sunday-midnight run copies the week that was actually lived.
func WeekKeys(today time.Time) (current, next string) {
	weekday := int(today.Weekday())
	monday := today.AddDate(0, 0, -weekday+1)
	if weekday == 0 {
		monday = monday.AddDate(0, 0, -7)
	}
	return monday.Format(weekKeyLayout), monday.AddDate(0, 0, 7).Format(weekKeyLayout)
}
