package booking

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrClientNotFound  = errors.New("client not found")
)

// Client is a person in the context of one company (salon branch).
// Unique: (companyID, externalClientID).
type Client struct {
	ID               int64           `json:"id"`
	CompanyID        int64           `json:"companyId"`
	ExternalClientID int64           `json:"externalClientId"`
	PhoneE164        *string         `json:"phoneE164,omitempty"`
	DisplayName      *string         `json:"displayName,omitempty"`
	Email            *string         `json:"email,omitempty"`
	Raw              json.RawMessage `json:"raw"`
}

// Booking is a scheduled appointment. Unique: (companyID, externalBookingID).
// IsDeleted mirrors the last transition: true iff it was a delete.
type Booking struct {
	ID                int64           `json:"id"`
	CompanyID         int64           `json:"companyId"`
	ExternalBookingID int64           `json:"externalBookingId"`
	ClientID          *int64          `json:"clientId,omitempty"`
	ExternalClientID  *int64          `json:"externalClientId,omitempty"`
	StaffID           *int64          `json:"staffId,omitempty"`
	StaffName         *string         `json:"staffName,omitempty"`
	StartsAt          *time.Time      `json:"startsAt,omitempty"`
	EndsAt            *time.Time      `json:"endsAt,omitempty"`
	DurationSec       *int64          `json:"durationSec,omitempty"`
	Comment           *string         `json:"comment,omitempty"`
	ShortLink         *string         `json:"shortLink,omitempty"`
	Confirmed         *int64          `json:"confirmed,omitempty"`
	Attendance        *int64          `json:"attendance,omitempty"`
	IsDeleted         bool            `json:"isDeleted"`
	TotalCost         *float64        `json:"totalCost,omitempty"`
	LastChangeAt      *time.Time      `json:"lastChangeAt,omitempty"`
	Raw               json.RawMessage `json:"raw"`
}

// Service is one line item inside a booking. Key: (bookingID, serviceID).
// On booking replace the whole set is swapped atomically.
type Service struct {
	BookingID int64           `json:"bookingId"`
	ServiceID int64           `json:"serviceId"`
	Title     *string         `json:"title,omitempty"`
	Amount    *int64          `json:"amount,omitempty"`
	CostToPay *float64        `json:"costToPay,omitempty"`
	Raw       json.RawMessage `json:"raw"`
}
