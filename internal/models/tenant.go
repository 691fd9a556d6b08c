// internal/models/tenant.go
package models

// TenantRecord is a care facility. It owns its children and weekly
// schedule documents as subcollections.
type TenantRecord struct {
	Name       string `json:"name,omitempty"`
	OwnerEmail string `json:"ownerEmail"`
}

// ChildRecord lives under a tenant's children subcollection.
// ParentEmail is an address-shaped identifier; AssignedStaffEmail is
// optional and takes precedence over the tenant owner when routing
// messages to the assistant side.
type ChildRecord struct {
	FirstName          string `json:"firstName,omitempty"`
	ParentEmail        string `json:"parentEmail"`
	AssignedStaffEmail string `json:"assignedStaffEmail,omitempty"`
}

// ChildIndexEntry is the maintained reverse index childId -> tenantId.
// It exists to avoid the O(tenants x children) scan when resolving a
// child's tenant; the scan remains as a fallback when the index misses.
type ChildIndexEntry struct {
	TenantID string `json:"tenantId"`
}
