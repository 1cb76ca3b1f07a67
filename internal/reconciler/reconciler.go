package reconciler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kitilash/altegiobot/internal/clock"
	"github.com/kitilash/altegiobot/internal/domain/booking"
	"github.com/kitilash/altegiobot/internal/domain/event"
	"github.com/kitilash/altegiobot/internal/planner"
)

// EventTx is everything the reconciler may do inside one event's
// transaction. The postgres store implements it on top of a pgx.Tx.
type EventTx interface {
	planner.JobStore

	UpsertClient(ctx context.Context, companyID int64, c ClientData) (int64, error)
	UpsertBooking(ctx context.Context, companyID int64, b BookingData, clientID *int64) (*booking.Booking, error)
	ReplaceBookingServices(ctx context.Context, bookingID int64, services []ServiceData) error
}

// Store is the reconciler's view of persistence. LeaseEvents claims a batch
// of received events (marking them processing under the lease lock);
// ProcessEvent runs fn in its own transaction against the locked event row
// and records the processed/failed outcome.
type Store interface {
	LeaseEvents(ctx context.Context, batchSize int) ([]int64, error)
	ProcessEvent(ctx context.Context, id int64, fn func(ctx context.Context, tx EventTx, ev *event.Event) error) error
}

// PlanFilter decides whether a booking gets messages planned at all.
// Nil means plan everything.
type PlanFilter func(ctx context.Context, tx EventTx, b *booking.Booking) (bool, error)

type Config struct {
	BatchSize    int
	PollInterval time.Duration
}

type Reconciler struct {
	cfg        Config
	store      Store
	planner    *planner.Planner
	shouldPlan PlanFilter
	loc        *time.Location
	clock      clock.Clock
	log        *slog.Logger
}

func New(cfg Config, store Store, pl *planner.Planner, filter PlanFilter, loc *time.Location, c clock.Clock, log *slog.Logger) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if loc == nil {
		loc = time.UTC
	}

	return &Reconciler{
		cfg:        cfg,
		store:      store,
		planner:    pl,
		shouldPlan: filter,
		loc:        loc,
		clock:      c,
		log:        log,
	}
}

// Run is the inbox loop: lease a batch, process each event in its own
// transaction, sleep when idle. Stops when ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	r.log.Info("reconciler started", "batch_size", r.cfg.BatchSize, "poll_interval", r.cfg.PollInterval.String())

	for {
		if err := ctx.Err(); err != nil {
			r.log.Info("reconciler shutting down")
			return nil
		}

		ids, err := r.store.LeaseEvents(ctx, r.cfg.BatchSize)
		if err != nil {
			r.log.Error("lease events failed", "err", err)
			ids = nil
		}

		if len(ids) == 0 {
			select {
			case <-ctx.Done():
				r.log.Info("reconciler shutting down")
				return nil
			case <-time.After(r.cfg.PollInterval):
			}
			continue
		}

		for _, id := range ids {
			if err := r.store.ProcessEvent(ctx, id, r.handleEvent); err != nil {
				r.log.Error("process event failed", "event_id", id, "err", err)
			}
		}
	}
}

// handleEvent reconciles one event into the canonical model and invokes
// the planner. An error here marks the event failed; the store rolls back
// partial writes.
func (r *Reconciler) handleEvent(ctx context.Context, tx EventTx, ev *event.Event) error {
	payload, err := decodePayload(ev.RawPayload)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	resource := ""
	if ev.Resource != nil {
		resource = *ev.Resource
	}

	switch resource {
	case "client":
		companyID, err := companyIDOf(ev, payload)
		if err != nil {
			return err
		}

		data, rawData := dataOf(payload)
		c, err := ParseClient(data, rawData)
		if err != nil {
			return err
		}

		_, err = tx.UpsertClient(ctx, companyID, c)
		return err

	case "record", "booking":
		return r.handleBooking(ctx, tx, ev, payload)
	}

	// unknown resources (including chat status events) are acked with no
	// side effects
	r.log.Info("skip resource", "resource", resource, "event_id", ev.ID)
	return nil
}

func (r *Reconciler) handleBooking(ctx context.Context, tx EventTx, ev *event.Event, payload map[string]any) error {
	companyID, err := companyIDOf(ev, payload)
	if err != nil {
		return err
	}

	transition := ""
	if ev.Transition != nil {
		transition = *ev.Transition
	}

	data, rawData := dataOf(payload)

	b, err := ParseBooking(data, rawData, transition, r.loc)
	if err != nil {
		return err
	}

	var clientID *int64
	if b.Client != nil {
		id, err := tx.UpsertClient(ctx, companyID, *b.Client)
		if err != nil {
			return err
		}
		clientID = &id
	}

	row, err := tx.UpsertBooking(ctx, companyID, b, clientID)
	if err != nil {
		return err
	}

	if err := tx.ReplaceBookingServices(ctx, row.ID, b.Services); err != nil {
		return err
	}

	if r.shouldPlan != nil {
		ok, err := r.shouldPlan(ctx, tx, row)
		if err != nil {
			return err
		}
		if !ok {
			r.log.Info("plan filter rejected booking", "booking_id", row.ID, "company_id", companyID)
			return nil
		}
	}

	return r.planner.Plan(ctx, tx, row, clientID, transition)
}

func decodePayload(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func companyIDOf(ev *event.Event, payload map[string]any) (int64, error) {
	if ev.CompanyID != nil {
		return *ev.CompanyID, nil
	}
	if id := numToInt64(payload["company_id"]); id != nil {
		return *id, nil
	}
	return 0, errors.New("company_id missing")
}

func dataOf(payload map[string]any) (map[string]any, json.RawMessage) {
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return map[string]any{}, json.RawMessage("{}")
	}
	raw, _ := json.Marshal(data)
	return data, raw
}
