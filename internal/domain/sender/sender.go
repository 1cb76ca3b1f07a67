package sender

import (
	"errors"
	"time"
)

// DefaultCode is the routing fallback when no rule matches.
const DefaultCode = "default"

var (
	ErrSenderNotFound   = errors.New("sender not found")
	ErrTemplateNotFound = errors.New("template not found")
)

// Sender is a chat-provider identity messages originate from.
// Unique: (companyID, senderCode).
type Sender struct {
	ID            int64   `json:"id"`
	CompanyID     int64   `json:"companyId"`
	SenderCode    string  `json:"senderCode"`
	PhoneNumberID string  `json:"phoneNumberId"`
	DisplayPhone  *string `json:"displayPhone,omitempty"`
	IsActive      bool    `json:"isActive"`
}

// Rule maps a service to the sender code used for bookings containing it.
// Unique: (companyID, serviceID).
type Rule struct {
	ID         int64  `json:"id"`
	CompanyID  int64  `json:"companyId"`
	ServiceID  int64  `json:"serviceId"`
	SenderCode string `json:"senderCode"`
}

// Template is a message body with named placeholders, keyed by
// (companyID, code, language).
type Template struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"companyId"`
	Code      string    `json:"code"`
	Language  string    `json:"language"`
	Body      string    `json:"body"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
