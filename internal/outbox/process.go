package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kitilash/altegiobot/internal/domain/booking"
	"github.com/kitilash/altegiobot/internal/domain/job"
	outboxmsg "github.com/kitilash/altegiobot/internal/domain/outbox"
	"github.com/kitilash/altegiobot/internal/observability"
)

// ErrNoActiveSender is returned when routing resolves to a code with no
// active sender, not even the default one.
var ErrNoActiveSender = errors.New("No active sender")

// Sender pushes one message out. Implemented by internal/provider.
type Sender interface {
	Send(ctx context.Context, senderID int64, phoneE164, text string) (string, error)
}

// TokenExpired reports whether a send error means the provider access
// token is no longer valid. Wired from internal/provider so the worker can
// latch and stop without importing it.
type TokenExpired func(error) bool

// SendBlocked reports errors that must never be retried, such as real
// sends being disabled in this environment.
type SendBlocked func(error) bool

// JobTx is the per-job transaction surface. LockJob uses SKIP LOCKED and
// returns (nil, nil) when another worker holds the row.
type JobTx interface {
	RenderStore

	LockJob(ctx context.Context, id int64) (*job.Job, error)
	HasSentOutbox(ctx context.Context, jobID int64) (bool, error)
	GetBooking(ctx context.Context, id int64) (*booking.Booking, error)
	GetClient(ctx context.Context, id int64) (*booking.Client, error)

	// AdmitContact bumps the per-phone gate under a row lock. When the
	// contact is still cooling down it returns allowed=false and the
	// instant the next send opens up.
	AdmitContact(ctx context.Context, phoneE164 string, now time.Time, window time.Duration) (time.Time, bool, error)

	MarkJobDone(ctx context.Context, id int64) error
	MarkJobFailed(ctx context.Context, id int64, msg string) error
	MarkJobCanceled(ctx context.Context, id int64, msg string) error
	RequeueJob(ctx context.Context, id int64, runAt time.Time, msg string) error
	IncrementJobAttempts(ctx context.Context, id int64) (int, error)

	InsertOutbox(ctx context.Context, m *outboxmsg.Message) error
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDone
	outcomeCanceled
	outcomeFailed
	outcomeRetried
	outcomeRateLimited
)

type processResult struct {
	outcome      outcome
	tokenExpired bool
	err          string
}

// tokenRetryDelay is how long a job sleeps after a token-expired send so a
// rotated token gets picked up without burning attempts.
const tokenRetryDelay = 60 * time.Second

type processor struct {
	renderer     *Renderer
	sender       Sender
	tokenExpired TokenExpired
	sendBlocked  SendBlocked
	window       time.Duration
	sendTimeout  time.Duration
	prom         *observability.Prom
}

func (p *processor) process(ctx context.Context, tx JobTx, id int64, now time.Time) (processResult, error) {
	j, err := tx.LockJob(ctx, id)
	if err != nil {
		return processResult{}, err
	}
	if j == nil {
		return processResult{outcome: outcomeSkipped}, nil
	}

	// A crash between provider ack and commit leaves the job queued with a
	// sent outbox row. Never send twice.
	sent, err := tx.HasSentOutbox(ctx, j.ID)
	if err != nil {
		return processResult{}, err
	}
	if sent {
		if err := tx.MarkJobDone(ctx, j.ID); err != nil {
			return processResult{}, err
		}
		return processResult{outcome: outcomeDone}, nil
	}

	if j.Attempts >= j.MaxAttempts {
		return p.fail(ctx, tx, j, "Max attempts reached")
	}

	var b *booking.Booking
	if j.BookingID != nil {
		b, err = tx.GetBooking(ctx, *j.BookingID)
		if err != nil && !errors.Is(err, booking.ErrBookingNotFound) {
			return processResult{}, err
		}
	}

	if staleReminder(j.JobType, b, now) {
		if err := tx.MarkJobCanceled(ctx, j.ID, "Skipped: record starts_at is in the past"); err != nil {
			return processResult{}, err
		}
		return processResult{outcome: outcomeCanceled}, nil
	}

	c, err := p.resolveClient(ctx, tx, j, b)
	if err != nil {
		return processResult{}, err
	}
	if c == nil || c.PhoneE164 == nil || *c.PhoneE164 == "" {
		return p.fail(ctx, tx, j, "No phone_e164")
	}
	phone := *c.PhoneE164

	next, allowed, err := tx.AdmitContact(ctx, phone, now, p.window)
	if err != nil {
		return processResult{}, err
	}
	if !allowed {
		if err := tx.RequeueJob(ctx, j.ID, next, "Rate limited"); err != nil {
			return processResult{}, err
		}
		return processResult{outcome: outcomeRateLimited}, nil
	}

	attempts, err := tx.IncrementJobAttempts(ctx, j.ID)
	if err != nil {
		return processResult{}, err
	}
	j.Attempts = attempts

	rendered, err := p.renderer.Render(ctx, tx, j.CompanyID, j.JobType, b, c)
	if err != nil {
		if errors.Is(err, ErrNoActiveSender) {
			return p.retryOrFail(ctx, tx, j, now, "No active sender")
		}
		// Missing template or unknown placeholder is a data error, not
		// transient. No retry.
		return p.fail(ctx, tx, j, fmt.Sprintf("Template render error: %v", err))
	}

	sendStart := time.Now()
	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	providerID, sendErr := p.sender.Send(sendCtx, rendered.SenderID, phone, rendered.Body)
	cancel()
	if p.prom != nil {
		p.prom.SendDuration.Observe(time.Since(sendStart).Seconds())
		result := "ok"
		if sendErr != nil {
			result = "error"
		}
		p.prom.SendsTotal.WithLabelValues(j.JobType, result).Inc()
	}

	if sendErr != nil {
		if p.sendBlocked != nil && p.sendBlocked(sendErr) {
			return p.fail(ctx, tx, j, fmt.Sprintf("Send blocked: %v", sendErr))
		}

		// Every send failure leaves a failed outbox row, token expiry
		// included.
		m := p.buildMessage(j, b, c, phone, rendered, now)
		m.Status = outboxmsg.StatusFailed
		errText := sendErr.Error()
		m.Error = &errText
		if err := tx.InsertOutbox(ctx, m); err != nil {
			return processResult{}, err
		}

		if p.tokenExpired != nil && p.tokenExpired(sendErr) {
			msg := fmt.Sprintf("Send blocked: %v", sendErr)
			if err := tx.RequeueJob(ctx, j.ID, now.Add(tokenRetryDelay), msg); err != nil {
				return processResult{}, err
			}
			return processResult{outcome: outcomeRetried, tokenExpired: true, err: msg}, nil
		}

		return p.retryOrFail(ctx, tx, j, now, errText)
	}

	m := p.buildMessage(j, b, c, phone, rendered, now)
	m.Status = outboxmsg.StatusSent
	m.ProviderMessageID = &providerID
	sentAt := now
	m.SentAt = &sentAt
	if err := tx.InsertOutbox(ctx, m); err != nil {
		return processResult{}, err
	}
	if err := tx.MarkJobDone(ctx, j.ID); err != nil {
		return processResult{}, err
	}
	return processResult{outcome: outcomeDone}, nil
}

func (p *processor) resolveClient(ctx context.Context, tx JobTx, j *job.Job, b *booking.Booking) (*booking.Client, error) {
	clientID := j.ClientID
	if clientID == nil && b != nil {
		clientID = b.ClientID
	}
	if clientID == nil {
		return nil, nil
	}
	c, err := tx.GetClient(ctx, *clientID)
	if err != nil {
		if errors.Is(err, booking.ErrClientNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// staleGrace is how far past starts_at a reminder may still go out, so a
// short requeue delay does not cancel it.
const staleGrace = 5 * time.Minute

// staleReminder: reminders for appointments already in the past are noise,
// drop them instead of sending.
func staleReminder(jobType string, b *booking.Booking, now time.Time) bool {
	if jobType != job.TypeReminder24h && jobType != job.TypeReminder2h {
		return false
	}
	if b == nil || b.StartsAt == nil {
		return false
	}
	return b.StartsAt.Before(now.Add(-staleGrace))
}

func (p *processor) fail(ctx context.Context, tx JobTx, j *job.Job, msg string) (processResult, error) {
	if err := tx.MarkJobFailed(ctx, j.ID, msg); err != nil {
		return processResult{}, err
	}
	return processResult{outcome: outcomeFailed, err: msg}, nil
}

func (p *processor) retryOrFail(ctx context.Context, tx JobTx, j *job.Job, now time.Time, msg string) (processResult, error) {
	if j.Attempts >= j.MaxAttempts {
		return p.fail(ctx, tx, j, "Max attempts reached")
	}
	if err := tx.RequeueJob(ctx, j.ID, now.Add(Backoff(j.Attempts)), msg); err != nil {
		return processResult{}, err
	}
	return processResult{outcome: outcomeRetried, err: msg}, nil
}

func (p *processor) buildMessage(j *job.Job, b *booking.Booking, c *booking.Client, phone string, r RenderResult, now time.Time) *outboxmsg.Message {
	m := &outboxmsg.Message{
		CompanyID:    j.CompanyID,
		BookingID:    j.BookingID,
		PhoneE164:    phone,
		TemplateCode: j.JobType,
		Language:     r.Language,
		Body:         r.Body,
		ScheduledAt:  j.RunAt,
	}
	jobID := j.ID
	m.JobID = &jobID
	senderID := r.SenderID
	m.SenderID = &senderID
	if c != nil {
		clientID := c.ID
		m.ClientID = &clientID
	}
	return m
}
