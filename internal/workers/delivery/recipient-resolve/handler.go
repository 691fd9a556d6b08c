// internal/workers/delivery/recipient-resolve/handler.go
package recipientresolve

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"poppins-pipeline/internal/common/errors"
	"poppins-pipeline/internal/common/logger"
	"poppins-pipeline/internal/common/store"
	"poppins-pipeline/internal/events"
	"poppins-pipeline/internal/models"
)

const (
	titleFromParent    = "Nouveau message d'un parent"
	titleFromAssistant = "Nouveau message des Lutins"
	fallbackBody       = "Vous avez reçu un nouveau message"

	notificationType = "chat_message"
)

// Handler turns a chat message into a notification record for the opposite
// party of the conversation. Parent messages notify the child's assigned
// staff member, assistant messages notify the child's parent.
type Handler struct {
	config *Config
	store  store.Store
	logger logger.Logger
	now    func() time.Time
	newID  func() string
}

func NewHandler(cfg *Config, st store.Store, log logger.Logger) *Handler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Handler{
		config: cfg,
		store:  st,
		logger: log,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

func (h *Handler) Handle(ctx context.Context, event events.Event) error {
	log := h.logger.WithFields(map[string]interface{}{
		"messageId": event.ID,
	})

	var message models.MessageRecord
	if err := json.Unmarshal(event.Doc, &message); err != nil {
		log.WithError(err).Warn("rejecting malformed message record", nil)
		return nil
	}
	if message.NotificationSent {
		log.Debug("message already notified, skipping", nil)
		return nil
	}
	if message.ChildID == "" {
		log.Warn("message has no child reference", nil)
		return nil
	}

	var recipient string
	var err error
	switch message.SenderRole {
	case models.SenderRoleParent:
		recipient, err = h.resolveStaff(ctx, message.ChildID)
	case models.SenderRoleAssistant:
		recipient, err = h.resolveParent(ctx, message.ChildID)
	default:
		log.Warn("unknown sender role", map[string]interface{}{
			"senderRole": message.SenderRole,
		})
		return nil
	}
	if err != nil {
		return err
	}
	if recipient == "" {
		// Left unresolved so the periodic sweep can retry once the
		// tenant data catches up.
		log.Info("no recipient resolved for message", map[string]interface{}{
			"childId":    message.ChildID,
			"senderRole": message.SenderRole,
		})
		return nil
	}

	title := titleFromAssistant
	if message.SenderRole == models.SenderRoleParent {
		title = titleFromParent
	}
	body := message.Content
	if body == "" {
		body = fallbackBody
	}

	notificationID := h.newID()
	err = h.store.Create(ctx, models.CollectionNotifications, notificationID, models.NotificationRecord{
		RecipientID: recipient,
		Title:       title,
		Body:        body,
		Data: map[string]string{
			"type":      notificationType,
			"childId":   message.ChildID,
			"messageId": event.ID,
		},
		Sent:      false,
		CreatedAt: h.now().UTC(),
	})
	if err != nil {
		return err
	}

	flipped, err := h.store.UpdateIf(ctx, models.CollectionMessages, event.ID,
		"notificationSent", false, map[string]interface{}{
			"notificationSent": true,
		})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("message vanished after notification was created", nil)
			return nil
		}
		return err
	}
	if !flipped {
		log.Warn("message was notified concurrently, duplicate notification possible", nil)
		return nil
	}

	log.Info("recipient resolved", map[string]interface{}{
		"childId":        message.ChildID,
		"recipient":      recipient,
		"notificationId": notificationID,
	})
	return nil
}

// resolveStaff finds the staff address for a child, preferring the child's
// assigned staff member and falling back to the tenant owner.
func (h *Handler) resolveStaff(ctx context.Context, childID string) (string, error) {
	tenantID, child, err := h.findChild(ctx, childID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if child.AssignedStaffEmail != "" {
		return normalizeAddress(child.AssignedStaffEmail), nil
	}

	var tenant models.TenantRecord
	if err := h.store.Get(ctx, models.CollectionTenants, tenantID, &tenant); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return normalizeAddress(tenant.OwnerEmail), nil
}

// resolveParent finds the parent address for a child. The users collection
// is keyed by address, so a user linked to the child is the direct answer.
// Children without a linked user fall back to the parent email stored on
// the child record itself.
func (h *Handler) resolveParent(ctx context.Context, childID string) (string, error) {
	records, err := h.store.Query(ctx, models.CollectionUsers, []store.Filter{
		store.Where("childIds", store.OpArrayContains, childID),
	}, 1)
	if err != nil {
		return "", err
	}
	if len(records) > 0 {
		return records[0].ID, nil
	}

	_, child, err := h.findChild(ctx, childID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if !strings.Contains(child.ParentEmail, "@") {
		return "", nil
	}
	return normalizeAddress(child.ParentEmail), nil
}

// findChild locates a child record across tenants. The reverse index makes
// this a two-read lookup; a full tenant scan covers records written before
// the index existed.
func (h *Handler) findChild(ctx context.Context, childID string) (string, models.ChildRecord, error) {
	var child models.ChildRecord

	var indexed models.ChildIndexEntry
	err := h.store.Get(ctx, models.CollectionChildIndex, childID, &indexed)
	if err == nil && indexed.TenantID != "" {
		if err := h.store.Get(ctx, models.ChildrenCollection(indexed.TenantID), childID, &child); err == nil {
			return indexed.TenantID, child, nil
		}
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", child, err
	}

	tenantIDs, err := h.store.ListIDs(ctx, models.CollectionTenants)
	if err != nil {
		return "", child, err
	}
	for _, tenantID := range tenantIDs {
		err := h.store.Get(ctx, models.ChildrenCollection(tenantID), childID, &child)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", child, err
		}
		return tenantID, child, nil
	}
	return "", child, store.ErrNotFound
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// SweepUnresolved retries resolution for messages that never produced a
// notification, typically because tenant data lagged behind the message.
func (h *Handler) SweepUnresolved(ctx context.Context) error {
	cutoff := h.now().UTC().Add(-h.config.UnresolvedAge)

	records, err := h.store.Query(ctx, models.CollectionMessages, []store.Filter{
		store.Where("notificationSent", store.OpEqual, false),
		store.Where("createdAt", store.OpLess, cutoff),
	}, h.config.UnresolvedLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	h.logger.Info("retrying unresolved messages", map[string]interface{}{
		"count": len(records),
	})

	for _, record := range records {
		err := h.Handle(ctx, events.Event{
			Collection: models.CollectionMessages,
			ID:         record.ID,
			Doc:        record.Data,
		})
		if err != nil {
			h.logger.WithError(err).Error("unresolved message retry failed", map[string]interface{}{
				"messageId": record.ID,
			})
		}
	}
	return nil
}
