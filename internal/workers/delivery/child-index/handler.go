// internal/workers/delivery/child-index/handler.go
package childindex

import (
	"context"
	"strings"

	"poppins-pipeline/internal/common/logger"
	"poppins-pipeline/internal/common/store"
	"poppins-pipeline/internal/events"
	"poppins-pipeline/internal/models"
)

// Handler maintains the childId to tenantId reverse index. It listens on
// child creation under any tenant and writes one index entry per child, so
// recipient resolution never has to scan every tenant.
type Handler struct {
	store  store.Store
	logger logger.Logger
}

func NewHandler(st store.Store, log logger.Logger) *Handler {
	return &Handler{store: st, logger: log}
}

func (h *Handler) Handle(ctx context.Context, event events.Event) error {
	tenantID := tenantOf(event.Collection)
	if tenantID == "" {
		h.logger.Warn("child event outside a tenant collection", map[string]interface{}{
			"collection": event.Collection,
		})
		return nil
	}

	err := h.store.Set(ctx, models.CollectionChildIndex, event.ID, models.ChildIndexEntry{
		TenantID: tenantID,
	})
	if err != nil {
		return err
	}

	h.logger.Debug("child index entry written", map[string]interface{}{
		"childId":  event.ID,
		"tenantId": tenantID,
	})
	return nil
}

// tenantOf extracts the tenant from a "tenants/<id>/children" path.
func tenantOf(collection string) string {
	parts := strings.Split(collection, "/")
	if len(parts) != 3 || parts[0] != models.CollectionTenants || parts[2] != "children" {
		return ""
	}
	return parts[1]
}
