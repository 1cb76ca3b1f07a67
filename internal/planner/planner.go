package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kitilash/altegiobot/internal/clock"
	"github.com/kitilash/altegiobot/internal/domain/booking"
	"github.com/kitilash/altegiobot/internal/domain/event"
	"github.com/kitilash/altegiobot/internal/domain/job"
)

const (
	// UpdateDebounce is the bucket width for collapsing bursts of update
	// events into one record_updated job. The job itself runs one bucket
	// later so the burst has settled by send time.
	UpdateDebounce = 60 * time.Second

	ReviewDelay   = 3 * 24 * time.Hour
	RepeatDelay   = 10 * 24 * time.Hour
	ComebackDelay = 3 * 24 * time.Hour
)

// JobStore is the slice of the store the planner writes through. Both
// methods run inside the caller's event transaction.
type JobStore interface {
	// EnqueueJob inserts with a conditional upsert on dedupe key: an
	// existing canceled row is revived, anything else is left untouched.
	EnqueueJob(ctx context.Context, req job.EnqueueRequest) error
	// CancelQueuedJobs flips matching queued jobs to canceled.
	CancelQueuedJobs(ctx context.Context, bookingID int64, jobTypes []string) (int64, error)
}

type Planner struct {
	clock clock.Clock
}

func New(c clock.Clock) *Planner {
	return &Planner{clock: c}
}

// DedupeKey builds the unique key that collapses logically equivalent jobs.
// record_updated dedupes within its debounce bucket; everything else
// dedupes on (type, booking, runAt).
func DedupeKey(jobType string, bookingID int64, runAt, now time.Time) string {
	if jobType == job.TypeRecordUpdated {
		bucket := now.Unix() / int64(UpdateDebounce/time.Second)
		return fmt.Sprintf("%s:%d:%d", jobType, bookingID, bucket)
	}
	return fmt.Sprintf("%s:%d:%s", jobType, bookingID, runAt.UTC().Format(time.RFC3339))
}

// Plan derives message jobs from one booking transition. Idempotent under
// duplicate events: every enqueue is a dedupe-keyed conditional upsert.
func (p *Planner) Plan(ctx context.Context, store JobStore, b *booking.Booking, clientID *int64, transition string) error {
	now := p.clock.Now()

	switch transition {
	case event.TransitionCreate:
		if err := p.enqueue(ctx, store, b, clientID, job.TypeRecordCreated, now, now); err != nil {
			return err
		}
		if err := p.planReminders(ctx, store, b, clientID, now); err != nil {
			return err
		}
		return p.planFollowups(ctx, store, b, clientID, now)

	case event.TransitionUpdate:
		if _, err := store.CancelQueuedJobs(ctx, b.ID, job.SystemTypes); err != nil {
			return err
		}
		if err := p.enqueue(ctx, store, b, clientID, job.TypeRecordUpdated, now.Add(UpdateDebounce), now); err != nil {
			return err
		}
		if err := p.planReminders(ctx, store, b, clientID, now); err != nil {
			return err
		}
		return p.planFollowups(ctx, store, b, clientID, now)

	case event.TransitionDelete:
		if _, err := store.CancelQueuedJobs(ctx, b.ID, job.SystemTypes); err != nil {
			return err
		}
		if err := p.enqueue(ctx, store, b, clientID, job.TypeRecordCanceled, now, now); err != nil {
			return err
		}
		return p.enqueue(ctx, store, b, clientID, job.TypeComeback3d, now.Add(ComebackDelay), now)
	}

	// unknown transition: nothing to plan
	return nil
}

// planReminders schedules at most one reminder: 24h out when the
// appointment is strictly more than 24h away, else 2h out when it is more
// than 2h away, else nothing.
func (p *Planner) planReminders(ctx context.Context, store JobStore, b *booking.Booking, clientID *int64, now time.Time) error {
	if b.StartsAt == nil {
		return nil
	}

	delta := b.StartsAt.Sub(now)

	if delta > 24*time.Hour {
		return p.enqueue(ctx, store, b, clientID, job.TypeReminder24h, b.StartsAt.Add(-24*time.Hour), now)
	}

	if delta > 2*time.Hour {
		return p.enqueue(ctx, store, b, clientID, job.TypeReminder2h, b.StartsAt.Add(-2*time.Hour), now)
	}

	return nil
}

func (p *Planner) planFollowups(ctx context.Context, store JobStore, b *booking.Booking, clientID *int64, now time.Time) error {
	if b.StartsAt == nil {
		return nil
	}

	if err := p.enqueue(ctx, store, b, clientID, job.TypeReview3d, b.StartsAt.Add(ReviewDelay), now); err != nil {
		return err
	}

	return p.enqueue(ctx, store, b, clientID, job.TypeRepeat10d, b.StartsAt.Add(RepeatDelay), now)
}

func (p *Planner) enqueue(ctx context.Context, store JobStore, b *booking.Booking, clientID *int64, jobType string, runAt, now time.Time) error {
	payload, _ := json.Marshal(map[string]string{"kind": jobType})

	bookingID := b.ID

	return store.EnqueueJob(ctx, job.EnqueueRequest{
		CompanyID: b.CompanyID,
		BookingID: &bookingID,
		ClientID:  clientID,
		JobType:   jobType,
		RunAt:     runAt.UTC(),
		DedupeKey: DedupeKey(jobType, b.ID, runAt.UTC(), now),
		Payload:   payload,
	})
}
