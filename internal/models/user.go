// internal/models/user.go
package models

// UserRecord is keyed by the user's email address. ChildIDs is a
// denormalized reverse lookup from children to the parent account.
type UserRecord struct {
	DeviceToken string   `json:"deviceToken,omitempty"`
	Platform    string   `json:"platform,omitempty"`
	ChildIDs    []string `json:"childIds,omitempty"`
}
