package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	outboxmsg "github.com/kitilash/altegiobot/internal/domain/outbox"
)

func insertOutbox(ctx context.Context, q querier, m *outboxmsg.Message) error {
	meta := m.Meta
	if len(meta) == 0 {
		meta = []byte(`{}`)
	}

	return q.QueryRow(ctx, `
		INSERT INTO outbox_messages (
			company_id, client_id, booking_id, job_id, sender_id,
			phone_e164, template_code, language, body, status,
			provider_message_id, error, scheduled_at, sent_at, meta
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at
	`, m.CompanyID, m.ClientID, m.BookingID, m.JobID, m.SenderID,
		m.PhoneE164, m.TemplateCode, m.Language, m.Body, string(m.Status),
		m.ProviderMessageID, m.Error, m.ScheduledAt, m.SentAt, meta).
		Scan(&m.ID, &m.CreatedAt)
}

func hasSentOutbox(ctx context.Context, q querier, jobID int64) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM outbox_messages
			WHERE job_id = $1
			  AND status IN ('sent', 'delivered', 'read')
		)
	`, jobID).Scan(&exists)
	return exists, err
}

// admitContact is the per-phone send gate. The row lock serializes
// concurrent workers on the same contact; whoever gets the lock first
// claims the window.
func admitContact(ctx context.Context, q querier, phoneE164 string, now time.Time, window time.Duration) (time.Time, bool, error) {
	var next time.Time
	err := q.QueryRow(ctx, `
		SELECT next_allowed_at FROM contact_rate_limits
		WHERE phone_e164 = $1
		FOR UPDATE
	`, phoneE164).Scan(&next)

	if errors.Is(err, pgx.ErrNoRows) {
		// First message to this contact. DO NOTHING keeps a concurrent
		// insert from being overwritten; the loser of the race falls
		// through and re-reads the winner's row under the lock.
		tag, ierr := q.Exec(ctx, `
			INSERT INTO contact_rate_limits (phone_e164, next_allowed_at, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (phone_e164) DO NOTHING
		`, phoneE164, now.Add(window))
		if ierr != nil {
			return time.Time{}, false, ierr
		}
		if tag.RowsAffected() == 1 {
			return now.Add(window), true, nil
		}

		err = q.QueryRow(ctx, `
			SELECT next_allowed_at FROM contact_rate_limits
			WHERE phone_e164 = $1
			FOR UPDATE
		`, phoneE164).Scan(&next)
	}
	if err != nil {
		return time.Time{}, false, err
	}

	if next.After(now) {
		return next, false, nil
	}

	_, err = q.Exec(ctx, `
		UPDATE contact_rate_limits
		SET next_allowed_at = $2, updated_at = NOW()
		WHERE phone_e164 = $1
	`, phoneE164, now.Add(window))
	if err != nil {
		return time.Time{}, false, err
	}
	return now.Add(window), true, nil
}

func markDelivered(ctx context.Context, q querier, providerMessageID, status string) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE outbox_messages
		SET status = $2
		WHERE provider_message_id = $1
		  AND status IN ('sent', 'delivered')
	`, providerMessageID, status)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpdateDeliveryStatus records provider delivery receipts by message id.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, providerMessageID, status string) (int64, error) {
	var n int64
	op := "outbox.update_delivery"

	err := s.observe(op, func() error {
		var err error
		n, err = markDelivered(ctx, s.pool, providerMessageID, status)
		return err
	})
	return n, err
}
