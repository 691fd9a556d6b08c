// internal/models/notification.go
package models

import "time"

// Push platforms.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// NotificationRecord is a single push notification to be delivered once.
// RecipientID is the address that keys the UserRecord. A record is done
// when Sent is true or Error is set; there is no retry for push.
type NotificationRecord struct {
	RecipientID string            `json:"recipientId"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	Platform    string            `json:"platform,omitempty"`

	Sent      bool   `json:"sent"`
	Error     string `json:"error,omitempty"`
	MessageID string `json:"messageId,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}
