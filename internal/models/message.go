// internal/models/message.go
package models

import "time"

// Chat sender roles.
const (
	SenderRoleParent    = "parent"
	SenderRoleAssistant = "assistant"
)

// MessageRecord is one chat exchange written by the chat feature. The
// resolver reads it to determine the notification recipient and flips
// NotificationSent once a NotificationRecord has been produced.
type MessageRecord struct {
	ChildID          string    `json:"childId"`
	SenderRole       string    `json:"senderRole"`
	Content          string    `json:"content,omitempty"`
	NotificationSent bool      `json:"notificationSent"`
	CreatedAt        time.Time `json:"createdAt"`
}
