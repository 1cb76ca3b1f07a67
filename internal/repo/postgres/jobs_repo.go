package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kitilash/altegiobot/internal/domain/job"
	"github.com/kitilash/altegiobot/internal/utils"
)

var ErrJobNotFailed = errors.New("job is not failed")

const jobColumns = `id, company_id, booking_id, client_id, job_type, run_at, status, attempts, max_attempts, locked_at, last_error, dedupe_key, payload, created_at, updated_at`

func scanJob(row pgx.Row) (*job.Job, error) {
	var j job.Job
	err := row.Scan(&j.ID, &j.CompanyID, &j.BookingID, &j.ClientID, &j.JobType, &j.RunAt, &j.Status, &j.Attempts, &j.MaxAttempts, &j.LockedAt, &j.LastError, &j.DedupeKey, &j.Payload, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// enqueueJob is the planner's conditional upsert: a fresh dedupe key
// inserts, a canceled row with the same key is revived, any other state
// wins over the new request.
func enqueueJob(ctx context.Context, q querier, req job.EnqueueRequest) error {
	payload := req.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}

	_, err := q.Exec(ctx, `
		INSERT INTO jobs (company_id, booking_id, client_id, job_type, run_at, status, max_attempts, dedupe_key, payload)
		VALUES ($1, $2, $3, $4, $5, 'queued', $6, $7, $8)
		ON CONFLICT (dedupe_key) DO UPDATE
		SET status     = 'queued',
		    run_at     = EXCLUDED.run_at,
		    attempts   = 0,
		    locked_at  = NULL,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE jobs.status = 'canceled'
	`, req.CompanyID, req.BookingID, req.ClientID, req.JobType, req.RunAt, job.DefaultMaxAttempts, req.DedupeKey, payload)
	return err
}

func cancelQueuedJobs(ctx context.Context, q querier, bookingID int64, jobTypes []string) (int64, error) {
	if len(jobTypes) == 0 {
		return 0, nil
	}

	tag, err := q.Exec(ctx, `
		UPDATE jobs
		SET status = 'canceled',
		    updated_at = NOW()
		WHERE booking_id = $1
		  AND status = 'queued'
		  AND job_type = ANY($2)
	`, bookingID, jobTypes)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// LeaseDueJobs claims up to limit due jobs for this worker.
func (s *Store) LeaseDueJobs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	op := "jobs.lease_due"

	err := s.observe(op, func() error {
		rows, err := s.pool.Query(ctx, `
		WITH next AS (
			SELECT id
			FROM jobs
			WHERE status = 'queued' AND run_at <= $1
			ORDER BY run_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs j
		SET status = 'processing',
		    locked_at = $1,
		    updated_at = NOW()
		FROM next
		WHERE j.id = next.id
		RETURNING j.id
	`, now, limit)
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

// RecoverStaleJobs returns jobs abandoned by a crashed worker to the queue.
func (s *Store) RecoverStaleJobs(ctx context.Context, olderThan, now time.Time, msg string) (int64, error) {
	var tag pgconn.CommandTag
	var err error
	op := "jobs.recover_stale"

	err = s.observe(op, func() error {
		tag, err = s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'queued',
		    locked_at = NULL,
		    run_at = $2,
		    last_error = $3,
		    updated_at = NOW()
		WHERE status = 'processing'
		  AND locked_at < $1
	`, olderThan, now, msg)
		return err
	})

	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RequeueLeased returns leased but unprocessed jobs to the queue, used on
// worker shutdown.
func (s *Store) RequeueLeased(ctx context.Context, ids []int64, runAt time.Time, msg string) error {
	if len(ids) == 0 {
		return nil
	}
	op := "jobs.requeue_leased"

	return s.observe(op, func() error {
		_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'queued',
		    locked_at = NULL,
		    run_at = $2,
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = ANY($1)
		  AND status = 'processing'
	`, ids, runAt, msg)
		return err
	})
}

// lockJob grabs the processing row for the duration of the transaction.
// Returns nil when another transaction already holds it.
func lockJob(ctx context.Context, q querier, id int64) (*job.Job, error) {
	j, err := scanJob(q.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1 AND status = 'processing'
		FOR UPDATE SKIP LOCKED
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

func markJobDone(ctx context.Context, q querier, id int64) error {
	tag, err := q.Exec(ctx, `
		UPDATE jobs
		SET status = 'done',
		    locked_at = NULL,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

func markJobFailed(ctx context.Context, q querier, id int64, errMsg string) error {
	tag, err := q.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    locked_at = NULL,
		    last_error = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, id, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

func markJobCanceled(ctx context.Context, q querier, id int64, errMsg string) error {
	tag, err := q.Exec(ctx, `
		UPDATE jobs
		SET status = 'canceled',
		    locked_at = NULL,
		    last_error = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, id, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

func requeueJob(ctx context.Context, q querier, id int64, runAt time.Time, errMsg string) error {
	tag, err := q.Exec(ctx, `
		UPDATE jobs
		SET status = 'queued',
		    locked_at = NULL,
		    run_at = $2,
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, id, runAt, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

func incrementJobAttempts(ctx context.Context, q querier, id int64) (int, error) {
	var attempts int
	err := q.QueryRow(ctx, `
		UPDATE jobs
		SET attempts = attempts + 1,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING attempts
	`, id).Scan(&attempts)
	return attempts, err
}

// ListJobsFilter is the operator API query surface.
type ListJobsFilter struct {
	Status    *string
	JobType   *string
	BookingID *int64
	Cursor    string
	Limit     int
}

// ListJobs pages through jobs with a (run_at, id) keyset cursor.
func (s *Store) ListJobs(ctx context.Context, filter ListJobsFilter) ([]job.Job, string, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}

	var conds []string
	var args []any
	argsPosition := 1

	if filter.Status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", argsPosition))
		args = append(args, *filter.Status)
		argsPosition++
	}
	if filter.JobType != nil {
		conds = append(conds, fmt.Sprintf("job_type = $%d", argsPosition))
		args = append(args, *filter.JobType)
		argsPosition++
	}
	if filter.BookingID != nil {
		conds = append(conds, fmt.Sprintf("booking_id = $%d", argsPosition))
		args = append(args, *filter.BookingID)
		argsPosition++
	}

	if filter.Cursor != "" {
		c, err := utils.DecodeJobCursor(filter.Cursor)
		if err != nil {
			return nil, "", err
		}
		conds = append(conds, fmt.Sprintf("(run_at, id) > ($%d, $%d)", argsPosition, argsPosition+1))
		args = append(args, c.RunAt, c.ID)
		argsPosition += 2
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	// stable ordering for pagination
	query += fmt.Sprintf(" ORDER BY run_at ASC, id ASC LIMIT $%d", argsPosition)
	args = append(args, filter.Limit+1)

	var out []job.Job
	op := "jobs.list"

	err := s.observe(op, func() error {
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return err
			}
			out = append(out, *j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
		last := out[len(out)-1]
		next, err = utils.EncodeJobCursor(last.RunAt, last.ID)
		if err != nil {
			return nil, "", err
		}
	}
	return out, next, nil
}

func (s *Store) GetJob(ctx context.Context, id int64) (*job.Job, error) {
	var j *job.Job
	op := "jobs.get"

	err := s.observe(op, func() error {
		var err error
		j, err = scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, job.ErrJobNotFound
		}
		return nil, err
	}
	return j, nil
}

// RetryJob resets a failed job for another run.
func (s *Store) RetryJob(ctx context.Context, id int64, now time.Time) error {
	var tag pgconn.CommandTag
	var err error
	op := "jobs.retry"

	err = s.observe(op, func() error {
		tag, err = s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'queued',
		    attempts = 0,
		    run_at = $2,
		    locked_at = NULL,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'failed'
	`, id, now)
		return err
	})
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return ErrJobNotFailed
	}
	return nil
}

// RetryFailedJobs requeues every failed job, optionally scoped to a type.
func (s *Store) RetryFailedJobs(ctx context.Context, jobType *string, now time.Time) (int64, error) {
	var tag pgconn.CommandTag
	var err error
	op := "jobs.retry_failed"

	err = s.observe(op, func() error {
		tag, err = s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'queued',
		    attempts = 0,
		    run_at = $1,
		    locked_at = NULL,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE status = 'failed'
		  AND ($2::text IS NULL OR job_type = $2)
	`, now, jobType)
		return err
	})
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
