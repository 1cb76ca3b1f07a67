package reconciler

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// Parsed webhook payload shapes. The booking system is loose about types
// (numbers as strings, two datetime spellings, missing fields), so parsing
// normalizes everything up front and the rest of the pipeline stays typed.

type ClientData struct {
	ExternalID  int64
	Phone       *string
	DisplayName *string
	Email       *string
	Raw         json.RawMessage
}

type ServiceData struct {
	ServiceID int64
	Title     *string
	Amount    *int64
	CostToPay *float64
	Raw       json.RawMessage
}

type BookingData struct {
	ExternalID       int64
	Client           *ClientData
	ExternalClientID *int64
	StaffID          *int64
	StaffName        *string
	StartsAt         *time.Time
	EndsAt           *time.Time
	DurationSec      *int64
	Comment          *string
	ShortLink        *string
	Confirmed        *int64
	Attendance       *int64
	Deleted          bool
	TotalCost        *float64
	LastChangeAt     *time.Time
	Services         []ServiceData
	Raw              json.RawMessage
}

var (
	errClientIDMissing  = errors.New("client.id missing in payload")
	errBookingIDMissing = errors.New("booking id missing in payload")
)

// ParseDateTime tolerates the feed's two quirks: a "+0100" style offset
// without a colon, and a space instead of the "T" separator. Naive values
// are assumed to be in the business-local zone.
func ParseDateTime(value string, loc *time.Location) (time.Time, bool) {
	v := bytes.TrimSpace([]byte(value))
	if len(v) == 0 {
		return time.Time{}, false
	}

	s := string(v)

	// fix +0100 -> +01:00
	if len(s) >= 5 && (s[len(s)-5] == '+' || s[len(s)-5] == '-') && s[len(s)-3] != ':' {
		s = s[:len(s)-2] + ":" + s[len(s)-2:]
	}

	s = replaceFirstSpace(s)

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}

	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
		return t, true
	}

	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, true
	}

	return time.Time{}, false
}

func replaceFirstSpace(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return s[:i] + "T" + s[i+1:]
		}
	}
	return s
}

func ParseClient(raw map[string]any, rawJSON json.RawMessage) (ClientData, error) {
	id := numToInt64(raw["id"])
	if id == nil {
		return ClientData{}, errClientIDMissing
	}

	name := strOrNil(raw["display_name"])
	if name == nil {
		name = strOrNil(raw["name"])
	}

	return ClientData{
		ExternalID:  *id,
		Phone:       strOrNil(raw["phone"]),
		DisplayName: name,
		Email:       strOrNil(raw["email"]),
		Raw:         rawJSON,
	}, nil
}

// ParseBooking normalizes one booking ("record") payload.
func ParseBooking(raw map[string]any, rawJSON json.RawMessage, transition string, loc *time.Location) (BookingData, error) {
	id := numToInt64(raw["id"])
	if id == nil {
		return BookingData{}, errBookingIDMissing
	}

	b := BookingData{
		ExternalID: *id,
		Comment:    strOrNil(raw["comment"]),
		ShortLink:  strOrNil(raw["short_link"]),
		Confirmed:  numToInt64(raw["confirmed"]),
		Attendance: numToInt64(raw["attendance"]),
		Raw:        rawJSON,
	}

	if clientRaw, ok := raw["client"].(map[string]any); ok {
		cj, _ := json.Marshal(clientRaw)
		if c, err := ParseClient(clientRaw, cj); err == nil {
			b.Client = &c
			b.ExternalClientID = &c.ExternalID
		}
	}

	staffID := numToInt64(raw["staff_id"])
	if staff, ok := raw["staff"].(map[string]any); ok {
		if staffID == nil {
			staffID = numToInt64(staff["id"])
		}
		b.StaffName = strOrNil(staff["name"])
	}
	b.StaffID = staffID

	if s := strOrNil(raw["datetime"]); s != nil {
		if t, ok := ParseDateTime(*s, loc); ok {
			b.StartsAt = &t
		}
	}
	if b.StartsAt == nil {
		if s := strOrNil(raw["date"]); s != nil {
			if t, ok := ParseDateTime(*s, loc); ok {
				b.StartsAt = &t
			}
		}
	}

	dur := numToInt64(raw["seance_length"])
	if dur == nil {
		dur = numToInt64(raw["length"])
	}
	b.DurationSec = dur

	if b.StartsAt != nil && dur != nil {
		end := b.StartsAt.Add(time.Duration(*dur) * time.Second)
		b.EndsAt = &end
	}

	if s := strOrNil(raw["last_change_date"]); s != nil {
		if t, ok := ParseDateTime(*s, loc); ok {
			b.LastChangeAt = &t
		}
	}

	deleted, _ := raw["deleted"].(bool)
	b.Deleted = deleted || transition == "delete"

	if servicesRaw, ok := raw["services"].([]any); ok {
		b.Services = parseServices(servicesRaw)
	}
	b.TotalCost = sumTotalCost(b.Services)

	return b, nil
}

func parseServices(items []any) []ServiceData {
	out := make([]ServiceData, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		sid := numToInt64(m["id"])
		if sid == nil {
			continue
		}
		raw, _ := json.Marshal(m)
		out = append(out, ServiceData{
			ServiceID: *sid,
			Title:     strOrNil(m["title"]),
			Amount:    numToInt64(m["amount"]),
			CostToPay: numToFloat64(m["cost_to_pay"]),
			Raw:       raw,
		})
	}
	return out
}

// sumTotalCost is Σ cost_to_pay × amount over services that carry a cost.
// Nil when no service has a cost at all.
func sumTotalCost(services []ServiceData) *float64 {
	var total float64
	found := false

	for _, s := range services {
		if s.CostToPay == nil {
			continue
		}
		amount := int64(1)
		if s.Amount != nil && *s.Amount > 0 {
			amount = *s.Amount
		}
		found = true
		total += *s.CostToPay * float64(amount)
	}

	if !found {
		return nil
	}
	return &total
}

func numToInt64(v any) *int64 {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return &i
		}
		if f, err := n.Float64(); err == nil {
			i := int64(f)
			return &i
		}
	case float64:
		i := int64(n)
		return &i
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return &i
		}
	}
	return nil
}

func numToFloat64(v any) *float64 {
	switch n := v.(type) {
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return &f
		}
	case float64:
		return &n
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return &f
		}
	}
	return nil
}

func strOrNil(v any) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}
