// internal/workers/delivery/email-dispatch/handler.go
package emaildispatch

import (
	"context"
	"encoding/json"
	"time"

	"poppins-pipeline/internal/common/errors"
	"poppins-pipeline/internal/common/gateway"
	"poppins-pipeline/internal/common/logger"
	"poppins-pipeline/internal/common/store"
	"poppins-pipeline/internal/common/validation"
	"poppins-pipeline/internal/events"
	"poppins-pipeline/internal/models"
	"poppins-pipeline/internal/templates"
)

// Handler drains the email queue. Each queue entry goes through exactly one
// of three terminal transitions: sent, failed (retry budget exhausted) or
// error (malformed entry, never retried).
type Handler struct {
	config    *Config
	store     store.Store
	gateway   gateway.EmailGateway
	templates *templates.Registry
	logger    logger.Logger
	now       func() time.Time
}

func NewHandler(cfg *Config, st store.Store, gw gateway.EmailGateway, reg *templates.Registry, log logger.Logger) *Handler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Handler{
		config:    cfg,
		store:     st,
		gateway:   gw,
		templates: reg,
		logger:    log,
		now:       time.Now,
	}
}

func (h *Handler) Handle(ctx context.Context, event events.Event) error {
	log := h.logger.WithFields(map[string]interface{}{
		"entryId": event.ID,
	})

	if err := validation.ValidateEmailEntry(event.Doc); err != nil {
		log.WithError(err).Warn("rejecting malformed queue entry", nil)
		return h.markError(ctx, event.ID, err)
	}

	var entry models.EmailQueueEntry
	if err := json.Unmarshal(event.Doc, &entry); err != nil {
		return h.markError(ctx, event.ID, errors.NewValidationError("queue entry is not valid JSON: "+err.Error()))
	}

	claimed, err := h.store.UpdateIf(ctx, models.CollectionEmailQueue, event.ID,
		"status", models.EmailStatusPending, map[string]interface{}{
			"status":              models.EmailStatusProcessing,
			"processingStartedAt": h.now().UTC(),
		})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("queue entry vanished before claim", nil)
			return nil
		}
		return err
	}
	if !claimed {
		log.Debug("entry already claimed, skipping", nil)
		return nil
	}

	// The event doc is a snapshot. A redelivered create event carries the
	// original retryCount, so once claimed the live record is authoritative.
	if err := h.store.Get(ctx, models.CollectionEmailQueue, event.ID, &entry); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("queue entry vanished after claim", nil)
			return nil
		}
		return err
	}

	templateName := entry.Template
	if templateName == "" {
		templateName = h.config.DefaultTemplate
	}
	if _, found := h.templates.Resolve(templateName); !found {
		log.Warn("unknown template, falling back to default", map[string]interface{}{
			"template": templateName,
			"fallback": templates.DefaultTemplate,
		})
	}

	body, err := h.templates.Render(templateName, entry.TemplateData)
	if err != nil {
		log.WithError(err).Error("template rendering failed", nil)
		return h.markError(ctx, event.ID, err)
	}

	subject := entry.Subject
	if subject == "" {
		subject = h.config.DefaultSubject
	}

	messageID, err := h.gateway.Send(ctx, gateway.EmailMessage{
		From:       h.config.FromAddress,
		FromName:   h.config.FromName,
		To:         entry.To,
		Subject:    subject,
		HTMLBody:   body,
		Attachment: entry.Attachment,
	})
	if err != nil {
		log.WithError(err).Error("email gateway rejected message", map[string]interface{}{
			"retryCount": entry.RetryCount,
		})
		return h.recordFailure(ctx, event.ID, entry.RetryCount, err)
	}

	now := h.now().UTC()
	_, err = h.store.UpdateIf(ctx, models.CollectionEmailQueue, event.ID,
		"status", models.EmailStatusProcessing, map[string]interface{}{
			"status":      models.EmailStatusSent,
			"messageId":   messageID,
			"sentAt":      now,
			"processedAt": now,
			"lastError":   nil,
		})
	if err != nil {
		return err
	}

	log.Info("email delivered", map[string]interface{}{
		"to":        entry.To,
		"template":  templateName,
		"messageId": messageID,
	})
	return nil
}

// recordFailure consumes one retry. The entry goes back to pending until the
// budget runs out, then parks as failed for the sweeper to pick up.
func (h *Handler) recordFailure(ctx context.Context, id string, retryCount int, cause error) error {
	retries := retryCount + 1
	status := models.EmailStatusFailed
	if retries < h.config.MaxRetries {
		status = models.EmailStatusPending
	}

	now := h.now().UTC()
	patch := map[string]interface{}{
		"status":      status,
		"retryCount":  retries,
		"lastError":   cause.Error(),
		"lastErrorAt": now,
	}
	if status == models.EmailStatusFailed {
		patch["processedAt"] = now
	}

	if _, err := h.store.UpdateIf(ctx, models.CollectionEmailQueue, id,
		"status", models.EmailStatusProcessing, patch); err != nil {
		return err
	}
	return nil
}

// markError parks the entry terminally. Used for malformed entries and
// rendering failures where retrying cannot help.
func (h *Handler) markError(ctx context.Context, id string, cause error) error {
	now := h.now().UTC()
	return h.store.Patch(ctx, models.CollectionEmailQueue, id, map[string]interface{}{
		"status":      models.EmailStatusError,
		"lastError":   cause.Error(),
		"lastErrorAt": now,
		"processedAt": now,
	})
}
