package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/kitilash/altegiobot/internal/domain/event"
)

const ResourceChat = "whatsapp"

// EventStore is the slice of the store the ingestor needs.
type EventStore interface {
	CreateEvent(ctx context.Context, req event.CreateRequest) (event.Event, error)
}

// Ingestor turns raw webhooks into deduplicated event rows.
type Ingestor struct {
	store  EventStore
	secret string
	log    *slog.Logger
}

func New(store EventStore, secret string, log *slog.Logger) *Ingestor {
	return &Ingestor{store: store, secret: secret, log: log}
}

// IngestBooking persists one booking-system webhook. A fingerprint
// collision is not an error: the first event won and we just ack.
func (i *Ingestor) IngestBooking(ctx context.Context, payload []byte, query url.Values, headers http.Header) error {
	fp, meta := BookingFingerprint(payload, i.secret)

	req := event.CreateRequest{
		Fingerprint: fp,
		CompanyID:   meta.CompanyID,
		Resource:    meta.Resource,
		ResourceID:  meta.ResourceID,
		Transition:  meta.Transition,
		RawQuery:    marshalQuery(query),
		RawHeaders:  marshalHeaders(headers),
		RawPayload:  json.RawMessage(payload),
	}

	_, err := i.store.CreateEvent(ctx, req)

	if errors.Is(err, event.ErrDuplicate) {
		i.log.Info("duplicate booking event", "fingerprint", fp)
		return nil
	}
	return err
}

// IngestChat persists a chat-provider status webhook under the same events
// table. The reconciler marks these processed with no side effects.
func (i *Ingestor) IngestChat(ctx context.Context, payload []byte, query url.Values, headers http.Header) error {
	fp := ChatFingerprint(payload)
	resource := ResourceChat

	req := event.CreateRequest{
		Fingerprint: fp,
		Resource:    &resource,
		RawQuery:    marshalQuery(query),
		RawHeaders:  marshalHeaders(headers),
		RawPayload:  json.RawMessage(payload),
	}

	_, err := i.store.CreateEvent(ctx, req)

	if errors.Is(err, event.ErrDuplicate) {
		i.log.Info("duplicate chat event", "fingerprint", fp)
		return nil
	}
	return err
}

func marshalQuery(q url.Values) json.RawMessage {
	flat := make(map[string]string, len(q))
	for k, vals := range q {
		if len(vals) > 0 {
			flat[k] = vals[0]
		}
	}
	b, _ := json.Marshal(flat)
	return b
}

func marshalHeaders(h http.Header) json.RawMessage {
	b, _ := json.Marshal(SafeHeaders(h))
	return b
}
