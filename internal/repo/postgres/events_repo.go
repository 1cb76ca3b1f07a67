package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/kitilash/altegiobot/internal/domain/event"
)

func (s *Store) CreateEvent(ctx context.Context, req event.CreateRequest) (event.Event, error) {
	var e event.Event
	op := "events.create"

	err := s.observe(op, func() error {
		return s.pool.QueryRow(ctx, `
		INSERT INTO events (fingerprint, company_id, resource, resource_id, transition, raw_query, raw_headers, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, fingerprint, received_at, processed_at, status, error, company_id, resource, resource_id, transition, raw_query, raw_headers, raw_payload
	`, req.Fingerprint, req.CompanyID, req.Resource, req.ResourceID, req.Transition, req.RawQuery, req.RawHeaders, req.RawPayload).
			Scan(&e.ID, &e.Fingerprint, &e.ReceivedAt, &e.ProcessedAt, &e.Status, &e.Error, &e.CompanyID, &e.Resource, &e.ResourceID, &e.Transition, &e.RawQuery, &e.RawHeaders, &e.RawPayload)
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return event.Event{}, event.ErrDuplicate
		}
		return event.Event{}, err
	}
	return e, nil
}

// LeaseEvents claims a batch of received events for this process. The
// SKIP LOCKED subselect keeps concurrent reconcilers from fighting over
// the same rows.
func (s *Store) LeaseEvents(ctx context.Context, batchSize int) ([]int64, error) {
	var ids []int64
	op := "events.lease"

	err := s.observe(op, func() error {
		rows, err := s.pool.Query(ctx, `
		WITH next AS (
			SELECT id
			FROM events
			WHERE status = 'received'
			ORDER BY received_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE events e
		SET status = 'processing'
		FROM next
		WHERE e.id = next.id
		RETURNING e.id
	`, batchSize)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, err
	}
	return ids, nil
}

func getEvent(ctx context.Context, q querier, id int64, forUpdate bool) (*event.Event, error) {
	query := `
		SELECT id, fingerprint, received_at, processed_at, status, error, company_id, resource, resource_id, transition, raw_query, raw_headers, raw_payload
		FROM events
		WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var e event.Event
	err := q.QueryRow(ctx, query, id).
		Scan(&e.ID, &e.Fingerprint, &e.ReceivedAt, &e.ProcessedAt, &e.Status, &e.Error, &e.CompanyID, &e.Resource, &e.ResourceID, &e.Transition, &e.RawQuery, &e.RawHeaders, &e.RawPayload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, event.ErrEventNotFound
		}
		return nil, err
	}
	return &e, nil
}

func markEventProcessed(ctx context.Context, q querier, id int64) error {
	_, err := q.Exec(ctx, `
		UPDATE events
		SET status = 'processed',
		    processed_at = NOW(),
		    error = NULL
		WHERE id = $1
	`, id)
	return err
}

func markEventFailed(ctx context.Context, q querier, id int64, errMsg string) error {
	_, err := q.Exec(ctx, `
		UPDATE events
		SET status = 'failed',
		    processed_at = NOW(),
		    error = $2
		WHERE id = $1
	`, id, errMsg)
	return err
}
