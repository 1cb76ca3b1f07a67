package outbox

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// Message is one durable send attempt. For a given job at most one row may
// ever reach sent/delivered/read; the worker checks that under the job lock
// before sending again.
type Message struct {
	ID                int64           `json:"id"`
	CompanyID         int64           `json:"companyId"`
	ClientID          *int64          `json:"clientId,omitempty"`
	BookingID         *int64          `json:"bookingId,omitempty"`
	JobID             *int64          `json:"jobId,omitempty"`
	SenderID          *int64          `json:"senderId,omitempty"`
	PhoneE164         string          `json:"phoneE164"`
	TemplateCode      string          `json:"templateCode"`
	Language          string          `json:"language"`
	Body              string          `json:"body"`
	Status            Status          `json:"status"`
	ProviderMessageID *string         `json:"providerMessageId,omitempty"`
	Error             *string         `json:"error,omitempty"`
	ScheduledAt       time.Time       `json:"scheduledAt"`
	SentAt            *time.Time      `json:"sentAt,omitempty"`
	Meta              json.RawMessage `json:"meta,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// RateLimit is the per-contact send gate. One row per phone, mutated under
// a row lock so concurrent workers serialize on the same contact.
type RateLimit struct {
	PhoneE164     string    `json:"phoneE164"`
	NextAllowedAt time.Time `json:"nextAllowedAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
