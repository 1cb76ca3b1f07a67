package job

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Message job taxonomy. The type doubles as the template code.
const (
	TypeRecordCreated  = "record_created"
	TypeRecordUpdated  = "record_updated"
	TypeRecordCanceled = "record_canceled"
	TypeReminder24h    = "reminder_24h"
	TypeReminder2h     = "reminder_2h"
	TypeReview3d       = "review_3d"
	TypeRepeat10d      = "repeat_10d"
	TypeComeback3d     = "comeback_3d"
)

// ReminderTypes are the per-appointment reminders.
var ReminderTypes = []string{TypeReminder24h, TypeReminder2h}

// FollowupTypes fire after the appointment.
var FollowupTypes = []string{TypeReview3d, TypeRepeat10d}

// SystemTypes is every job type the planner owns. Cancellation on
// update/delete is scoped to this set so manually enqueued jobs survive.
var SystemTypes = []string{
	TypeRecordCreated,
	TypeRecordUpdated,
	TypeRecordCanceled,
	TypeReminder24h,
	TypeReminder2h,
	TypeComeback3d,
	TypeReview3d,
	TypeRepeat10d,
}

var ErrJobNotFound = errors.New("job not found")

const DefaultMaxAttempts = 5

// Job is one planned message send. DedupeKey is globally unique; enqueueing
// the same logical job twice is a conditional upsert that only revives
// canceled rows.
type Job struct {
	ID          int64           `json:"id"`
	CompanyID   int64           `json:"companyId"`
	BookingID   *int64          `json:"bookingId,omitempty"`
	ClientID    *int64          `json:"clientId,omitempty"`
	JobType     string          `json:"jobType"`
	RunAt       time.Time       `json:"runAt"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	LockedAt    *time.Time      `json:"lockedAt,omitempty"`
	LastError   *string         `json:"lastError,omitempty"`
	DedupeKey   string          `json:"dedupeKey"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// EnqueueRequest is what the planner hands to the store.
type EnqueueRequest struct {
	CompanyID int64
	BookingID *int64
	ClientID  *int64
	JobType   string
	RunAt     time.Time
	DedupeKey string
	Payload   json.RawMessage
}
