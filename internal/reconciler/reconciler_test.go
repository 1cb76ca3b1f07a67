package reconciler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kitilash/altegiobot/internal/clock"
	"github.com/kitilash/altegiobot/internal/domain/booking"
	"github.com/kitilash/altegiobot/internal/domain/event"
	"github.com/kitilash/altegiobot/internal/domain/job"
	"github.com/kitilash/altegiobot/internal/planner"
)

type fakeEventTx struct {
	clients  []ClientData
	bookings []BookingData
	services []ServiceData
	enqueued []job.EnqueueRequest
	canceled int
}

func (f *fakeEventTx) EnqueueJob(_ context.Context, req job.EnqueueRequest) error {
	f.enqueued = append(f.enqueued, req)
	return nil
}

func (f *fakeEventTx) CancelQueuedJobs(context.Context, int64, []string) (int64, error) {
	f.canceled++
	return 0, nil
}

func (f *fakeEventTx) UpsertClient(_ context.Context, _ int64, c ClientData) (int64, error) {
	f.clients = append(f.clients, c)
	return 500 + c.ExternalID, nil
}

func (f *fakeEventTx) UpsertBooking(_ context.Context, companyID int64, b BookingData, clientID *int64) (*booking.Booking, error) {
	f.bookings = append(f.bookings, b)
	return &booking.Booking{
		ID:        1000 + b.ExternalID,
		CompanyID: companyID,
		ClientID:  clientID,
		StartsAt:  b.StartsAt,
		Raw:       b.Raw,
	}, nil
}

func (f *fakeEventTx) ReplaceBookingServices(_ context.Context, _ int64, services []ServiceData) error {
	f.services = services
	return nil
}

var reconcileNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestReconciler(filter PlanFilter) *Reconciler {
	c := clock.Fixed{T: reconcileNow}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{}, nil, planner.New(c), filter, time.UTC, c, log)
}

func strPtr(s string) *string { return &s }

func i64Ptr(i int64) *int64 { return &i }

func recordEvent(transition, payload string) *event.Event {
	return &event.Event{
		ID:         1,
		CompanyID:  i64Ptr(7),
		Resource:   strPtr("record"),
		Transition: strPtr(transition),
		RawPayload: json.RawMessage(payload),
	}
}

func TestHandleEventClient(t *testing.T) {
	tx := &fakeEventTx{}
	r := newTestReconciler(nil)

	ev := &event.Event{
		ID:         1,
		CompanyID:  i64Ptr(7),
		Resource:   strPtr("client"),
		RawPayload: json.RawMessage(`{"data":{"id":9,"name":"Maria","phone":"+4915112345678"}}`),
	}
	if err := r.handleEvent(context.Background(), tx, ev); err != nil {
		t.Fatalf("handleEvent: %v", err)
	}

	if len(tx.clients) != 1 || tx.clients[0].ExternalID != 9 {
		t.Fatalf("clients = %+v", tx.clients)
	}
	if len(tx.enqueued) != 0 {
		t.Fatalf("client events must not plan jobs, got %d", len(tx.enqueued))
	}
}

func TestHandleEventBookingCreate(t *testing.T) {
	tx := &fakeEventTx{}
	r := newTestReconciler(nil)

	payload := `{"data":{
		"id": 42,
		"datetime": "2025-03-12T10:00:00+00:00",
		"client": {"id": 9, "name": "Maria", "phone": "+4915112345678"},
		"services": [{"id": 1, "title": "Lifting", "cost_to_pay": 49.5}]
	}}`
	if err := r.handleEvent(context.Background(), tx, recordEvent("create", payload)); err != nil {
		t.Fatalf("handleEvent: %v", err)
	}

	if len(tx.clients) != 1 {
		t.Fatalf("client not upserted")
	}
	if len(tx.bookings) != 1 || tx.bookings[0].ExternalID != 42 {
		t.Fatalf("bookings = %+v", tx.bookings)
	}
	if len(tx.services) != 1 {
		t.Fatalf("services = %+v", tx.services)
	}

	// confirmation, 24h reminder, review and repeat followups
	types := make(map[string]int)
	for _, req := range tx.enqueued {
		types[req.JobType]++
		if req.ClientID == nil || *req.ClientID != 509 {
			t.Fatalf("%s: clientID = %v", req.JobType, req.ClientID)
		}
	}
	for _, want := range []string{job.TypeRecordCreated, job.TypeReminder24h, job.TypeReview3d, job.TypeRepeat10d} {
		if types[want] != 1 {
			t.Fatalf("job types = %v, missing %s", types, want)
		}
	}
	if len(tx.enqueued) != 4 {
		t.Fatalf("enqueued = %d jobs, want 4", len(tx.enqueued))
	}
}

func TestHandleEventBookingDelete(t *testing.T) {
	tx := &fakeEventTx{}
	r := newTestReconciler(nil)

	if err := r.handleEvent(context.Background(), tx, recordEvent("delete", `{"data":{"id":42}}`)); err != nil {
		t.Fatalf("handleEvent: %v", err)
	}

	if tx.canceled != 1 {
		t.Fatalf("queued jobs not canceled")
	}
	if len(tx.enqueued) != 2 {
		t.Fatalf("enqueued = %d, want cancel notice and comeback", len(tx.enqueued))
	}
	if tx.enqueued[0].JobType != job.TypeRecordCanceled || tx.enqueued[1].JobType != job.TypeComeback3d {
		t.Fatalf("job types = %s, %s", tx.enqueued[0].JobType, tx.enqueued[1].JobType)
	}
}

func TestHandleEventPlanFilter(t *testing.T) {
	tx := &fakeEventTx{}
	filter := func(_ context.Context, _ EventTx, b *booking.Booking) (bool, error) {
		return false, nil
	}
	r := newTestReconciler(filter)

	payload := `{"data":{"id":42,"datetime":"2025-03-12T10:00:00+00:00"}}`
	if err := r.handleEvent(context.Background(), tx, recordEvent("create", payload)); err != nil {
		t.Fatalf("handleEvent: %v", err)
	}

	if len(tx.bookings) != 1 {
		t.Fatalf("booking must still be reconciled")
	}
	if len(tx.enqueued) != 0 {
		t.Fatalf("filtered booking planned %d jobs", len(tx.enqueued))
	}
}

func TestHandleEventUnknownResourceAcked(t *testing.T) {
	tx := &fakeEventTx{}
	r := newTestReconciler(nil)

	ev := &event.Event{
		ID:         1,
		Resource:   strPtr("whatsapp"),
		RawPayload: json.RawMessage(`{"entry":[]}`),
	}
	if err := r.handleEvent(context.Background(), tx, ev); err != nil {
		t.Fatalf("handleEvent: %v", err)
	}
	if len(tx.enqueued) != 0 || len(tx.bookings) != 0 {
		t.Fatalf("chat status event caused writes")
	}
}

func TestHandleEventMissingCompany(t *testing.T) {
	tx := &fakeEventTx{}
	r := newTestReconciler(nil)

	ev := &event.Event{
		ID:         1,
		Resource:   strPtr("record"),
		Transition: strPtr("create"),
		RawPayload: json.RawMessage(`{"data":{"id":42}}`),
	}
	if err := r.handleEvent(context.Background(), tx, ev); err == nil {
		t.Fatalf("expected error for missing company_id")
	}
}
