package ingress

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Meta is what we could pull out of a booking-system webhook body.
// Any field may be missing; the fingerprint falls back to a payload hash.
type Meta struct {
	CompanyID  *int64
	Resource   *string
	ResourceID *int64
	Transition *string
	LastChange string
}

// CanonicalJSON re-encodes a JSON document with sorted keys, no
// insignificant whitespace and no HTML escaping, so the same logical
// payload always hashes identically.
func CanonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	// Encode appends a newline
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func sha256hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ParseMeta extracts the identifying fields of a booking webhook.
func ParseMeta(payload []byte) Meta {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return Meta{}
	}

	m := Meta{
		CompanyID:  asInt64(body["company_id"]),
		ResourceID: asInt64(body["resource_id"]),
		Resource:   asString(body["resource"]),
		Transition: asString(body["status"]),
	}

	if m.Resource == nil {
		m.Resource = asString(body["type"])
	}

	if data, ok := body["data"].(map[string]any); ok {
		if lc := asString(data["last_change_date"]); lc != nil {
			m.LastChange = *lc
		}
	}

	return m
}

// BookingFingerprint builds the dedupe fingerprint for a booking-system
// webhook: a hash over the identifying fields when they are all present,
// otherwise a hash of the canonical payload.
func BookingFingerprint(payload []byte, secret string) (string, Meta) {
	m := ParseMeta(payload)

	if m.CompanyID != nil && m.Resource != nil && m.ResourceID != nil && m.Transition != nil {
		base := fmt.Sprintf("%d:%s:%d:%s:%s:%s",
			*m.CompanyID, *m.Resource, *m.ResourceID, *m.Transition, m.LastChange, secret)
		return sha256hex(base), m
	}

	canon, err := CanonicalJSON(payload)
	if err != nil {
		canon = payload
	}
	return sha256hex("fallback:" + string(canon)), m
}

// ChatFingerprint is the dedupe key for chat-provider status webhooks.
func ChatFingerprint(payload []byte) string {
	canon, err := CanonicalJSON(payload)
	if err != nil {
		canon = payload
	}
	return "wa:" + sha256hex(string(canon))
}

// SafeHeaders drops credentials before headers get persisted with an event.
func SafeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vals := range h {
		lk := strings.ToLower(k)
		if lk == "authorization" || lk == "cookie" {
			continue
		}
		if len(vals) > 0 {
			out[k] = vals[0]
		}
	}
	return out
}

func asInt64(v any) *int64 {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return nil
		}
		return &i
	case float64:
		i := int64(n)
		return &i
	}
	return nil
}

func asString(v any) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}
