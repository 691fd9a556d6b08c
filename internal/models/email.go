// internal/models/email.go
package models

import "time"

// Email queue statuses. "sent" and "error" are terminal; "failed" is
// terminal once the retry budget is exhausted, otherwise the sweep may
// requeue the entry.
const (
	EmailStatusPending    = "pending"
	EmailStatusProcessing = "processing"
	EmailStatusSent       = "sent"
	EmailStatusFailed     = "failed"
	EmailStatusError      = "error"
)

// EmailQueueEntry is the outbox record for one transactional email.
// Producers enqueue it with status "pending"; the dispatcher owns every
// transition after that. Entries are never deleted by the pipeline.
type EmailQueueEntry struct {
	To           string                 `json:"to"`
	Subject      string                 `json:"subject,omitempty"`
	Template     string                 `json:"template,omitempty"`
	TemplateData map[string]interface{} `json:"templateData"`
	Attachment   *Attachment            `json:"attachment,omitempty"`

	Status     string `json:"status"`
	RetryCount int    `json:"retryCount"`
	LastError  string `json:"lastError,omitempty"`
	MessageID  string `json:"messageId,omitempty"`

	CreatedAt           time.Time  `json:"createdAt"`
	ProcessingStartedAt *time.Time `json:"processingStartedAt,omitempty"`
	SentAt              *time.Time `json:"sentAt,omitempty"`
	LastErrorAt         *time.Time `json:"lastErrorAt,omitempty"`
	ProcessedAt         *time.Time `json:"processedAt,omitempty"`
}

// Attachment carries a base64-encoded file to attach to an email.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"` // base64
}
