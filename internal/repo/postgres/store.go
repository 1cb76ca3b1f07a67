package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kitilash/altegiobot/internal/domain/booking"
	"github.com/kitilash/altegiobot/internal/domain/event"
	"github.com/kitilash/altegiobot/internal/domain/job"
	outboxmsg "github.com/kitilash/altegiobot/internal/domain/outbox"
	"github.com/kitilash/altegiobot/internal/domain/sender"
	"github.com/kitilash/altegiobot/internal/outbox"
	"github.com/kitilash/altegiobot/internal/reconciler"
)

// eventTx is one event's transaction, handed to the reconciler handler.
type eventTx struct {
	s  *Store
	tx pgx.Tx
}

func (t *eventTx) UpsertClient(ctx context.Context, companyID int64, c reconciler.ClientData) (int64, error) {
	var id int64
	err := t.s.observe("clients.upsert", func() error {
		var err error
		id, err = upsertClient(ctx, t.tx, companyID, c)
		return err
	})
	return id, err
}

func (t *eventTx) UpsertBooking(ctx context.Context, companyID int64, b reconciler.BookingData, clientID *int64) (*booking.Booking, error) {
	var row *booking.Booking
	err := t.s.observe("bookings.upsert", func() error {
		var err error
		row, err = upsertBooking(ctx, t.tx, companyID, b, clientID)
		return err
	})
	return row, err
}

func (t *eventTx) ReplaceBookingServices(ctx context.Context, bookingID int64, services []reconciler.ServiceData) error {
	return t.s.observe("bookings.replace_services", func() error {
		return replaceBookingServices(ctx, t.tx, bookingID, services)
	})
}

func (t *eventTx) EnqueueJob(ctx context.Context, req job.EnqueueRequest) error {
	return t.s.observe("jobs.enqueue", func() error {
		return enqueueJob(ctx, t.tx, req)
	})
}

func (t *eventTx) CancelQueuedJobs(ctx context.Context, bookingID int64, jobTypes []string) (int64, error) {
	var n int64
	err := t.s.observe("jobs.cancel_queued", func() error {
		var err error
		n, err = cancelQueuedJobs(ctx, t.tx, bookingID, jobTypes)
		return err
	})
	return n, err
}

// ProcessEvent runs fn against a locked event row. The handler's writes
// happen in a savepoint, so a failing event rolls back its partial model
// changes but still commits the failed status.
func (s *Store) ProcessEvent(ctx context.Context, id int64, fn func(ctx context.Context, tx reconciler.EventTx, ev *event.Event) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ev, err := getEvent(ctx, tx, id, true)
	if err != nil {
		return err
	}
	if ev.Status != event.StatusProcessing {
		// another worker already finished it
		return tx.Commit(ctx)
	}

	inner, err := tx.Begin(ctx)
	if err != nil {
		return err
	}

	handlerErr := fn(ctx, &eventTx{s: s, tx: inner}, ev)
	if handlerErr != nil {
		if err := inner.Rollback(ctx); err != nil {
			return err
		}
		if err := markEventFailed(ctx, tx, id, handlerErr.Error()); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	if err := inner.Commit(ctx); err != nil {
		return err
	}
	if err := markEventProcessed(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// jobTx is one job's transaction, handed to the outbox processor.
type jobTx struct {
	s  *Store
	tx pgx.Tx
}

func (t *jobTx) LockJob(ctx context.Context, id int64) (*job.Job, error) {
	var j *job.Job
	err := t.s.observe("jobs.lock", func() error {
		var err error
		j, err = lockJob(ctx, t.tx, id)
		return err
	})
	return j, err
}

func (t *jobTx) HasSentOutbox(ctx context.Context, jobID int64) (bool, error) {
	var sent bool
	err := t.s.observe("outbox.has_sent", func() error {
		var err error
		sent, err = hasSentOutbox(ctx, t.tx, jobID)
		return err
	})
	return sent, err
}

func (t *jobTx) GetBooking(ctx context.Context, id int64) (*booking.Booking, error) {
	var b *booking.Booking
	err := t.s.observe("bookings.get", func() error {
		var err error
		b, err = getBooking(ctx, t.tx, id)
		return err
	})
	return b, err
}

func (t *jobTx) GetClient(ctx context.Context, id int64) (*booking.Client, error) {
	var c *booking.Client
	err := t.s.observe("clients.get", func() error {
		var err error
		c, err = getClient(ctx, t.tx, id)
		return err
	})
	return c, err
}

func (t *jobTx) AdmitContact(ctx context.Context, phoneE164 string, now time.Time, window time.Duration) (time.Time, bool, error) {
	var next time.Time
	var allowed bool
	err := t.s.observe("rate_limits.admit", func() error {
		var err error
		next, allowed, err = admitContact(ctx, t.tx, phoneE164, now, window)
		return err
	})
	return next, allowed, err
}

func (t *jobTx) MarkJobDone(ctx context.Context, id int64) error {
	return t.s.observe("jobs.mark_done", func() error {
		return markJobDone(ctx, t.tx, id)
	})
}

func (t *jobTx) MarkJobFailed(ctx context.Context, id int64, msg string) error {
	return t.s.observe("jobs.mark_failed", func() error {
		return markJobFailed(ctx, t.tx, id, msg)
	})
}

func (t *jobTx) MarkJobCanceled(ctx context.Context, id int64, msg string) error {
	return t.s.observe("jobs.mark_canceled", func() error {
		return markJobCanceled(ctx, t.tx, id, msg)
	})
}

func (t *jobTx) RequeueJob(ctx context.Context, id int64, runAt time.Time, msg string) error {
	return t.s.observe("jobs.requeue", func() error {
		return requeueJob(ctx, t.tx, id, runAt, msg)
	})
}

func (t *jobTx) IncrementJobAttempts(ctx context.Context, id int64) (int, error) {
	var attempts int
	err := t.s.observe("jobs.increment_attempts", func() error {
		var err error
		attempts, err = incrementJobAttempts(ctx, t.tx, id)
		return err
	})
	return attempts, err
}

func (t *jobTx) InsertOutbox(ctx context.Context, m *outboxmsg.Message) error {
	return t.s.observe("outbox.insert", func() error {
		return insertOutbox(ctx, t.tx, m)
	})
}

func (t *jobTx) FirstServiceID(ctx context.Context, bookingID int64) (*int64, error) {
	var id *int64
	err := t.s.observe("routing.first_service", func() error {
		var err error
		id, err = firstServiceID(ctx, t.tx, bookingID)
		return err
	})
	return id, err
}

func (t *jobTx) SenderCodeForService(ctx context.Context, companyID, serviceID int64) (string, error) {
	var code string
	err := t.s.observe("routing.sender_code", func() error {
		var err error
		code, err = senderCodeForService(ctx, t.tx, companyID, serviceID)
		return err
	})
	return code, err
}

func (t *jobTx) ActiveSender(ctx context.Context, companyID int64, code string) (*sender.Sender, error) {
	var s *sender.Sender
	err := t.s.observe("routing.active_sender", func() error {
		var err error
		s, err = activeSender(ctx, t.tx, companyID, code)
		return err
	})
	return s, err
}

func (t *jobTx) ListServices(ctx context.Context, bookingID int64) ([]booking.Service, error) {
	var out []booking.Service
	err := t.s.observe("bookings.list_services", func() error {
		var err error
		out, err = listServices(ctx, t.tx, bookingID)
		return err
	})
	return out, err
}

func (t *jobTx) HasPriorBooking(ctx context.Context, companyID, clientID int64, before time.Time) (bool, error) {
	var prior bool
	err := t.s.observe("bookings.has_prior", func() error {
		var err error
		prior, err = hasPriorBooking(ctx, t.tx, companyID, clientID, before)
		return err
	})
	return prior, err
}

func (t *jobTx) Template(ctx context.Context, companyID int64, code, language string) (*sender.Template, error) {
	var tmpl *sender.Template
	err := t.s.observe("templates.get", func() error {
		var err error
		tmpl, err = getTemplate(ctx, t.tx, companyID, code, language)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}

func (t *jobTx) AnyTemplate(ctx context.Context, companyID int64, code string) (*sender.Template, error) {
	var tmpl *sender.Template
	err := t.s.observe("templates.any", func() error {
		var err error
		tmpl, err = anyTemplate(ctx, t.tx, companyID, code)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}

// ProcessJob opens one transaction per job. The processor writes the
// terminal status itself; an error here rolls everything back and the job
// stays leased until stale recovery picks it up.
func (s *Store) ProcessJob(ctx context.Context, id int64, fn func(ctx context.Context, tx outbox.JobTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &jobTx{s: s, tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
