package event

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// Booking-system transitions carried on a webhook.
const (
	TransitionCreate = "create"
	TransitionUpdate = "update"
	TransitionDelete = "delete"
)

var (
	ErrEventNotFound = errors.New("event not found")
	// ErrDuplicate means an event with the same fingerprint already exists.
	// Callers treat it as a silent ack.
	ErrDuplicate = errors.New("duplicate event")
)

// Event is one received webhook, persisted before any processing happens.
// Fingerprint is globally unique: two webhooks that hash the same collapse
// into a single row.
type Event struct {
	ID          int64           `json:"id"`
	Fingerprint string          `json:"fingerprint"`
	ReceivedAt  time.Time       `json:"receivedAt"`
	ProcessedAt *time.Time      `json:"processedAt,omitempty"`
	Status      Status          `json:"status"`
	Error       *string         `json:"error,omitempty"`
	CompanyID   *int64          `json:"companyId,omitempty"`
	Resource    *string         `json:"resource,omitempty"`
	ResourceID  *int64          `json:"resourceId,omitempty"`
	Transition  *string         `json:"transition,omitempty"`
	RawQuery    json.RawMessage `json:"rawQuery"`
	RawHeaders  json.RawMessage `json:"rawHeaders"`
	RawPayload  json.RawMessage `json:"rawPayload"`
}

// CreateRequest carries everything the ingress layer knows about a webhook.
type CreateRequest struct {
	Fingerprint string
	CompanyID   *int64
	Resource    *string
	ResourceID  *int64
	Transition  *string
	RawQuery    json.RawMessage
	RawHeaders  json.RawMessage
	RawPayload  json.RawMessage
}
