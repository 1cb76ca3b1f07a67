package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kitilash/altegiobot/internal/http/handlers"
	"github.com/kitilash/altegiobot/internal/ingress"
	"github.com/kitilash/altegiobot/internal/repo/memory"
)

type fakeDeliveries struct {
	updates []string // "id:status"
}

func (f *fakeDeliveries) UpdateDeliveryStatus(_ context.Context, providerMessageID, status string) (int64, error) {
	f.updates = append(f.updates, providerMessageID+":"+status)
	return 1, nil
}

func newWhatsAppRouter(repo *memory.EventsRepo, deliveries *fakeDeliveries, verifyToken string) *gin.Engine {
	ing := ingress.New(repo, "", discardLogger())
	h := handlers.NewWhatsAppWebhookHandler(ing, deliveries, verifyToken)

	r := gin.New()
	r.GET("/webhook/whatsapp", h.Verify)
	r.POST("/webhook/whatsapp", h.Receive)
	return r
}

func TestWhatsAppVerify(t *testing.T) {
	r := newWhatsAppRouter(memory.NewEventsRepo(), nil, "vtok")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=vtok&hub.challenge=12345", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "12345" {
		t.Fatalf("body = %q, want challenge echoed", w.Body.String())
	}
}

func TestWhatsAppVerifyRejected(t *testing.T) {
	r := newWhatsAppRouter(memory.NewEventsRepo(), nil, "vtok")

	for _, target := range []string{
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1",
		"/webhook/whatsapp?hub.mode=unsubscribe&hub.verify_token=vtok&hub.challenge=1",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusForbidden {
			t.Fatalf("%s: status = %d, want 403", target, w.Code)
		}
	}
}

func TestWhatsAppReceiveStoresEventAndStatuses(t *testing.T) {
	repo := memory.NewEventsRepo()
	deliveries := &fakeDeliveries{}
	r := newWhatsAppRouter(repo, deliveries, "vtok")

	body := `{"entry":[{"changes":[{"value":{"statuses":[` +
		`{"id":"wamid.a","status":"delivered"},` +
		`{"id":"wamid.a","status":"read"},` +
		`{"id":"","status":"delivered"},` +
		`{"id":"wamid.b","status":"sent"}]}}]}]}`

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(body))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(repo.All()) != 1 {
		t.Fatalf("events = %d, want 1", len(repo.All()))
	}

	want := []string{"wamid.a:delivered", "wamid.a:read"}
	if len(deliveries.updates) != len(want) {
		t.Fatalf("updates = %v, want %v", deliveries.updates, want)
	}
	for i := range want {
		if deliveries.updates[i] != want[i] {
			t.Fatalf("updates = %v, want %v", deliveries.updates, want)
		}
	}
}

func TestWhatsAppReceiveBadBody(t *testing.T) {
	repo := memory.NewEventsRepo()
	r := newWhatsAppRouter(repo, nil, "vtok")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader("not json"))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(repo.All()) != 0 {
		t.Fatalf("event stored from invalid body")
	}
}
