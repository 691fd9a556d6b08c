// internal/models/collections.go
package models

import "fmt"

// Top-level collections of the document store. Tenant subcollections are
// addressed through the helper functions below.
const (
	CollectionEmailQueue    = "emailQueue"
	CollectionNotifications = "notifications"
	CollectionMessages      = "messages"
	CollectionUsers         = "users"
	CollectionTenants       = "tenants"
	CollectionChildIndex    = "childIndex"
)

// ChildrenCollection returns the child collection path of a tenant.
func ChildrenCollection(tenantID string) string {
	return fmt.Sprintf("%s/%s/children", CollectionTenants, tenantID)
}

// SchedulesCollection returns the weekly schedule collection path of a
// tenant. Documents are keyed by the ISO date of the week's Monday.
func SchedulesCollection(tenantID string) string {
	return fmt.Sprintf("%s/%s/schedules", CollectionTenants, tenantID)
}
