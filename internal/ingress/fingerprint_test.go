package ingress_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/kitilash/altegiobot/internal/ingress"
)

func TestCanonicalJSON(t *testing.T) {
	got, err := ingress.CanonicalJSON([]byte("{\"b\": 2,\n \"a\": \"<x>\"}"))
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if want := `{"a":"<x>","b":2}`; string(got) != want {
		t.Fatalf("canonical = %s, want %s", got, want)
	}
}

func TestCanonicalJSONPreservesNumbers(t *testing.T) {
	got, err := ingress.CanonicalJSON([]byte(`{"id": 9007199254740993}`))
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if want := `{"id":9007199254740993}`; string(got) != want {
		t.Fatalf("canonical = %s, want %s", got, want)
	}
}

func TestBookingFingerprintStableAcrossFormatting(t *testing.T) {
	a := []byte(`{"company_id":1,"resource":"record","resource_id":42,"status":"update","data":{"last_change_date":"2025-03-10T12:00:00+0100"}}`)
	b := []byte(`{
		"data": {"last_change_date": "2025-03-10T12:00:00+0100"},
		"status": "update",
		"resource_id": 42,
		"resource": "record",
		"company_id": 1
	}`)

	fpA, meta := ingress.BookingFingerprint(a, "s3cret")
	fpB, _ := ingress.BookingFingerprint(b, "s3cret")
	if fpA != fpB {
		t.Fatalf("fingerprints differ: %s vs %s", fpA, fpB)
	}
	if meta.CompanyID == nil || *meta.CompanyID != 1 {
		t.Fatalf("companyID = %v", meta.CompanyID)
	}
	if meta.Resource == nil || *meta.Resource != "record" {
		t.Fatalf("resource = %v", meta.Resource)
	}
	if meta.LastChange != "2025-03-10T12:00:00+0100" {
		t.Fatalf("lastChange = %q", meta.LastChange)
	}
}

func TestBookingFingerprintChangesWithLastChange(t *testing.T) {
	a := []byte(`{"company_id":1,"resource":"record","resource_id":42,"status":"update","data":{"last_change_date":"2025-03-10T12:00:00+0100"}}`)
	b := []byte(`{"company_id":1,"resource":"record","resource_id":42,"status":"update","data":{"last_change_date":"2025-03-10T12:05:00+0100"}}`)

	fpA, _ := ingress.BookingFingerprint(a, "s3cret")
	fpB, _ := ingress.BookingFingerprint(b, "s3cret")
	if fpA == fpB {
		t.Fatalf("fingerprint ignored last_change_date")
	}
}

func TestBookingFingerprintFallback(t *testing.T) {
	a := []byte(`{"resource":"record","payload":1}`)
	b := []byte(`{"payload": 1, "resource": "record"}`)

	fpA, meta := ingress.BookingFingerprint(a, "s3cret")
	fpB, _ := ingress.BookingFingerprint(b, "s3cret")
	if fpA != fpB {
		t.Fatalf("fallback fingerprints differ: %s vs %s", fpA, fpB)
	}
	if meta.CompanyID != nil {
		t.Fatalf("companyID = %v, want nil", meta.CompanyID)
	}
}

func TestBookingFingerprintResourceFromType(t *testing.T) {
	payload := []byte(`{"company_id":1,"type":"record","resource_id":42,"status":"create"}`)
	_, meta := ingress.BookingFingerprint(payload, "")
	if meta.Resource == nil || *meta.Resource != "record" {
		t.Fatalf("resource = %v, want record", meta.Resource)
	}
}

func TestChatFingerprintPrefix(t *testing.T) {
	fp := ingress.ChatFingerprint([]byte(`{"entry":[]}`))
	if !strings.HasPrefix(fp, "wa:") {
		t.Fatalf("fingerprint = %q", fp)
	}
	if fp != ingress.ChatFingerprint([]byte("{\"entry\": []}")) {
		t.Fatalf("chat fingerprint not canonical")
	}
}

func TestSafeHeadersStripsCredentials(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer xyz")
	h.Set("Cookie", "session=1")
	h.Set("X-Request-Id", "abc")
	h.Set("Content-Type", "application/json")

	out := ingress.SafeHeaders(h)
	if _, ok := out["Authorization"]; ok {
		t.Fatalf("authorization header persisted")
	}
	if _, ok := out["Cookie"]; ok {
		t.Fatalf("cookie header persisted")
	}
	if out["X-Request-Id"] != "abc" || out["Content-Type"] != "application/json" {
		t.Fatalf("headers = %v", out)
	}
}
