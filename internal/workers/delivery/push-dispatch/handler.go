// internal/workers/delivery/push-dispatch/handler.go
package pushdispatch

import (
	"context"
	"encoding/json"
	"time"

	"poppins-pipeline/internal/common/errors"
	"poppins-pipeline/internal/common/gateway"
	"poppins-pipeline/internal/common/logger"
	"poppins-pipeline/internal/common/store"
	"poppins-pipeline/internal/events"
	"poppins-pipeline/internal/models"
)

// Handler delivers one push notification per notification record. Delivery
// is single-shot: gateway failures park the record with an error instead of
// consuming retries, because stale pushes are worse than dropped ones.
type Handler struct {
	store   store.Store
	gateway gateway.PushGateway
	logger  logger.Logger
	now     func() time.Time
}

func NewHandler(st store.Store, gw gateway.PushGateway, log logger.Logger) *Handler {
	return &Handler{
		store:   st,
		gateway: gw,
		logger:  log,
		now:     time.Now,
	}
}

func (h *Handler) Handle(ctx context.Context, event events.Event) error {
	log := h.logger.WithFields(map[string]interface{}{
		"notificationId": event.ID,
	})

	var record models.NotificationRecord
	if err := json.Unmarshal(event.Doc, &record); err != nil {
		log.WithError(err).Warn("rejecting malformed notification record", nil)
		return h.markError(ctx, event.ID, "notification record is not valid JSON")
	}
	if record.Sent {
		log.Debug("notification already delivered, skipping", nil)
		return nil
	}
	if record.RecipientID == "" {
		return h.markError(ctx, event.ID, "notification has no recipient")
	}

	// Re-read the record before sending. The event payload may predate a
	// concurrent delivery that already flipped the sent flag.
	var current models.NotificationRecord
	if err := h.store.Get(ctx, models.CollectionNotifications, event.ID, &current); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("notification vanished before delivery", nil)
			return nil
		}
		return err
	}
	if current.Sent {
		log.Debug("notification already delivered, skipping", nil)
		return nil
	}

	var user models.UserRecord
	if err := h.store.Get(ctx, models.CollectionUsers, record.RecipientID, &user); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Info("recipient has no user record", map[string]interface{}{
				"recipient": record.RecipientID,
			})
			return h.markError(ctx, event.ID, "recipient user not found")
		}
		return err
	}
	if user.DeviceToken == "" {
		log.Info("recipient has no device token", map[string]interface{}{
			"recipient": record.RecipientID,
		})
		return h.markError(ctx, event.ID, "recipient has no device token")
	}

	platform := record.Platform
	if platform == "" {
		platform = user.Platform
	}

	messageID, err := h.gateway.Send(ctx, gateway.PushMessage{
		Token:    user.DeviceToken,
		Title:    record.Title,
		Body:     record.Body,
		Data:     record.Data,
		Platform: platform,
	})
	if err != nil {
		log.WithError(err).Error("push gateway rejected message", map[string]interface{}{
			"recipient": record.RecipientID,
		})
		return h.markError(ctx, event.ID, err.Error())
	}

	now := h.now().UTC()
	delivered, err := h.store.UpdateIf(ctx, models.CollectionNotifications, event.ID,
		"sent", false, map[string]interface{}{
			"sent":        true,
			"messageId":   messageID,
			"sentAt":      now,
			"processedAt": now,
		})
	if err != nil {
		return err
	}
	if !delivered {
		log.Warn("concurrent delivery detected, duplicate push possible", nil)
		return nil
	}

	log.Info("push notification delivered", map[string]interface{}{
		"recipient": record.RecipientID,
		"platform":  platform,
		"messageId": messageID,
	})
	return nil
}

func (h *Handler) markError(ctx context.Context, id, cause string) error {
	return h.store.Patch(ctx, models.CollectionNotifications, id, map[string]interface{}{
		"error":       cause,
		"processedAt": h.now().UTC(),
	})
}
