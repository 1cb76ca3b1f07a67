package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kitilash/altegiobot/internal/domain/event"
)

// EventsRepo is an in-memory event store for handler tests.
type EventsRepo struct {
	mu     sync.Mutex
	nextID int64
	byFP   map[string]*event.Event
	events []*event.Event
}

func NewEventsRepo() *EventsRepo {
	return &EventsRepo{byFP: make(map[string]*event.Event)}
}

func (r *EventsRepo) CreateEvent(_ context.Context, req event.CreateRequest) (event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byFP[req.Fingerprint]; ok {
		return event.Event{}, event.ErrDuplicate
	}

	r.nextID++
	e := &event.Event{
		ID:          r.nextID,
		Fingerprint: req.Fingerprint,
		ReceivedAt:  time.Now().UTC(),
		Status:      event.StatusReceived,
		CompanyID:   req.CompanyID,
		Resource:    req.Resource,
		ResourceID:  req.ResourceID,
		Transition:  req.Transition,
		RawQuery:    req.RawQuery,
		RawHeaders:  req.RawHeaders,
		RawPayload:  req.RawPayload,
	}
	r.byFP[req.Fingerprint] = e
	r.events = append(r.events, e)
	return *e, nil
}

// All returns the stored events in insertion order.
func (r *EventsRepo) All() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]event.Event, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, *e)
	}
	return out
}
