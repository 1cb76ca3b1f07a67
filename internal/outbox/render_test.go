package outbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kitilash/altegiobot/internal/domain/booking"
	"github.com/kitilash/altegiobot/internal/domain/job"
	"github.com/kitilash/altegiobot/internal/domain/sender"
)

type fakeStore struct {
	services  []booking.Service
	templates map[string]*sender.Template // "code:lang"
	senders   map[string]*sender.Sender   // "code"
	ruleCode  string
	firstSvc  *int64
	hasPrior  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		templates: make(map[string]*sender.Template),
		senders:   make(map[string]*sender.Sender),
	}
}

func (f *fakeStore) FirstServiceID(context.Context, int64) (*int64, error) {
	return f.firstSvc, nil
}

func (f *fakeStore) SenderCodeForService(context.Context, int64, int64) (string, error) {
	if f.ruleCode == "" {
		return sender.DefaultCode, nil
	}
	return f.ruleCode, nil
}

func (f *fakeStore) ActiveSender(_ context.Context, _ int64, code string) (*sender.Sender, error) {
	return f.senders[code], nil
}

func (f *fakeStore) ListServices(context.Context, int64) ([]booking.Service, error) {
	return f.services, nil
}

func (f *fakeStore) HasPriorBooking(context.Context, int64, int64, time.Time) (bool, error) {
	return f.hasPrior, nil
}

func (f *fakeStore) Template(_ context.Context, _ int64, code, language string) (*sender.Template, error) {
	if t, ok := f.templates[code+":"+language]; ok {
		return t, nil
	}
	return nil, sender.ErrTemplateNotFound
}

func (f *fakeStore) AnyTemplate(_ context.Context, _ int64, code string) (*sender.Template, error) {
	for key, t := range f.templates {
		if strings.HasPrefix(key, code+":") {
			return t, nil
		}
	}
	return nil, sender.ErrTemplateNotFound
}

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func strPtr(s string) *string { return &s }

func f64Ptr(f float64) *float64 { return &f }

func i64Ptr(i int64) *int64 { return &i }

func testBooking() *booking.Booking {
	startsAt := time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC) // 10:00 Berlin (CET)
	return &booking.Booking{
		ID:        42,
		CompanyID: 7,
		StaffName: strPtr("Anna"),
		StartsAt:  &startsAt,
		ShortLink: strPtr("https://sho.rt/abc"),
	}
}

func testClient() *booking.Client {
	return &booking.Client{
		ID:          9,
		CompanyID:   7,
		DisplayName: strPtr("Maria"),
		PhoneE164:   strPtr("+4915112345678"),
	}
}

func TestRenderPlaceholders(t *testing.T) {
	store := newFakeStore()
	store.templates["reminder_24h:de"] = &sender.Template{Language: "de", Body: "Hallo {client_name}, {date} um {time} bei {staff_name}.\n{services}\nGesamt: {total_cost}€"}
	store.senders[sender.DefaultCode] = &sender.Sender{ID: 3, SenderCode: sender.DefaultCode, IsActive: true}
	store.services = []booking.Service{
		{ServiceID: 1, Title: strPtr("Lifting"), CostToPay: f64Ptr(49.5)},
		{ServiceID: 2, Title: strPtr("Färbung"), CostToPay: f64Ptr(15)},
	}

	r := NewRenderer(berlin(t), "")
	res, err := r.Render(context.Background(), store, 7, job.TypeReminder24h, testBooking(), testClient())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	want := "Hallo Maria, 11.03.2025 um 10:00 bei Anna.\nLifting — 49.50€\nFärbung — 15.00€\nGesamt: 64.50€"
	if res.Body != want {
		t.Fatalf("body = %q, want %q", res.Body, want)
	}
	if res.SenderID != 3 {
		t.Fatalf("senderID = %d, want 3", res.SenderID)
	}
	if res.Language != "de" {
		t.Fatalf("language = %q, want de", res.Language)
	}
}

func TestRenderUnknownPlaceholder(t *testing.T) {
	store := newFakeStore()
	store.templates["reminder_24h:de"] = &sender.Template{Language: "de", Body: "Hallo {client_nmae}"}
	store.senders[sender.DefaultCode] = &sender.Sender{ID: 3, IsActive: true}

	r := NewRenderer(berlin(t), "")
	_, err := r.Render(context.Background(), store, 7, job.TypeReminder24h, testBooking(), testClient())
	if err == nil || !strings.Contains(err.Error(), "client_nmae") {
		t.Fatalf("expected unknown placeholder error, got %v", err)
	}
}

func TestRenderLanguageFallback(t *testing.T) {
	store := newFakeStore()
	store.templates["reminder_24h:en"] = &sender.Template{Language: "en", Body: "Hello {client_name}"}
	store.senders[sender.DefaultCode] = &sender.Sender{ID: 3, IsActive: true}

	r := NewRenderer(berlin(t), "")
	res, err := r.Render(context.Background(), store, 7, job.TypeReminder24h, testBooking(), testClient())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.Language != "en" {
		t.Fatalf("language = %q, want en fallback", res.Language)
	}
	if res.Body != "Hello Maria" {
		t.Fatalf("body = %q", res.Body)
	}
}

func TestRenderNoActiveSender(t *testing.T) {
	store := newFakeStore()
	store.templates["reminder_24h:de"] = &sender.Template{Language: "de", Body: "Hallo"}

	r := NewRenderer(berlin(t), "")
	_, err := r.Render(context.Background(), store, 7, job.TypeReminder24h, testBooking(), testClient())
	if !errors.Is(err, ErrNoActiveSender) {
		t.Fatalf("expected ErrNoActiveSender, got %v", err)
	}
}

func TestRenderSenderRouting(t *testing.T) {
	store := newFakeStore()
	store.templates["record_created:de"] = &sender.Template{Language: "de", Body: "Hi {sender_code}"}
	store.firstSvc = i64Ptr(1)
	store.ruleCode = "studio_b"
	store.senders["studio_b"] = &sender.Sender{ID: 11, SenderCode: "studio_b", IsActive: true}
	store.hasPrior = true

	r := NewRenderer(berlin(t), "")
	res, err := r.Render(context.Background(), store, 7, job.TypeRecordCreated, testBooking(), testClient())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.SenderID != 11 || res.SenderCode != "studio_b" {
		t.Fatalf("routed to sender %d/%s, want 11/studio_b", res.SenderID, res.SenderCode)
	}
	if res.Body != "Hi studio_b" {
		t.Fatalf("body = %q", res.Body)
	}
}

func TestRenderRoutedCodeFallsBackToDefault(t *testing.T) {
	store := newFakeStore()
	store.templates["record_created:de"] = &sender.Template{Language: "de", Body: "Hi"}
	store.firstSvc = i64Ptr(1)
	store.ruleCode = "studio_b" // no active sender under this code
	store.senders[sender.DefaultCode] = &sender.Sender{ID: 3, IsActive: true}
	store.hasPrior = true

	r := NewRenderer(berlin(t), "")
	res, err := r.Render(context.Background(), store, 7, job.TypeRecordCreated, testBooking(), testClient())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.SenderID != 3 {
		t.Fatalf("senderID = %d, want default sender 3", res.SenderID)
	}
}

func TestRenderFirstVisitNotes(t *testing.T) {
	store := newFakeStore()
	store.templates["record_created:de"] = &sender.Template{Language: "de", Body: "Hallo{pre_appointment_notes}"}
	store.senders[sender.DefaultCode] = &sender.Sender{ID: 3, IsActive: true}
	store.hasPrior = false

	r := NewRenderer(berlin(t), "")
	res, err := r.Render(context.Background(), store, 7, job.TypeRecordCreated, testBooking(), testClient())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(res.Body, "ersten Besuch") {
		t.Fatalf("first visit notes missing, body = %q", res.Body)
	}

	store.hasPrior = true
	res, err = r.Render(context.Background(), store, 7, job.TypeRecordCreated, testBooking(), testClient())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.Body != "Hallo" {
		t.Fatalf("returning client must not get notes, body = %q", res.Body)
	}
}

func TestRenderFirstVisitNotesOnlyInGerman(t *testing.T) {
	store := newFakeStore()
	store.templates["record_created:en"] = &sender.Template{Language: "en", Body: "Hello{pre_appointment_notes}"}
	store.senders[sender.DefaultCode] = &sender.Sender{ID: 3, IsActive: true}
	store.hasPrior = false

	r := NewRenderer(berlin(t), "")
	res, err := r.Render(context.Background(), store, 7, job.TypeRecordCreated, testBooking(), testClient())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.Body != "Hello" {
		t.Fatalf("non-German template must not carry the German notes, body = %q", res.Body)
	}
}

func TestRenderUnsubscribeLink(t *testing.T) {
	store := newFakeStore()
	store.templates["reminder_24h:de"] = &sender.Template{Language: "de", Body: "{unsubscribe_link}"}
	store.senders[sender.DefaultCode] = &sender.Sender{ID: 3, IsActive: true}

	r := NewRenderer(berlin(t), "https://example.com/unsubscribe")
	res, err := r.Render(context.Background(), store, 7, job.TypeReminder24h, testBooking(), testClient())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if want := "https://example.com/unsubscribe?phone=%2B4915112345678"; res.Body != want {
		t.Fatalf("unsubscribe link = %q, want %q", res.Body, want)
	}
}
