package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kitilash/altegiobot/internal/domain/booking"
	"github.com/kitilash/altegiobot/internal/reconciler"
)

func upsertBooking(ctx context.Context, q querier, companyID int64, b reconciler.BookingData, clientID *int64) (*booking.Booking, error) {
	var row booking.Booking

	err := q.QueryRow(ctx, `
		INSERT INTO bookings (
			company_id, external_booking_id, client_id, external_client_id,
			staff_id, staff_name, starts_at, ends_at, duration_sec,
			comment, short_link, confirmed, attendance, is_deleted,
			total_cost, last_change_at, raw
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (company_id, external_booking_id) DO UPDATE
		SET client_id          = COALESCE(EXCLUDED.client_id, bookings.client_id),
		    external_client_id = COALESCE(EXCLUDED.external_client_id, bookings.external_client_id),
		    staff_id           = COALESCE(EXCLUDED.staff_id, bookings.staff_id),
		    staff_name         = COALESCE(EXCLUDED.staff_name, bookings.staff_name),
		    starts_at          = COALESCE(EXCLUDED.starts_at, bookings.starts_at),
		    ends_at            = COALESCE(EXCLUDED.ends_at, bookings.ends_at),
		    duration_sec       = COALESCE(EXCLUDED.duration_sec, bookings.duration_sec),
		    comment            = COALESCE(EXCLUDED.comment, bookings.comment),
		    short_link         = COALESCE(EXCLUDED.short_link, bookings.short_link),
		    confirmed          = COALESCE(EXCLUDED.confirmed, bookings.confirmed),
		    attendance         = COALESCE(EXCLUDED.attendance, bookings.attendance),
		    is_deleted         = EXCLUDED.is_deleted,
		    total_cost         = COALESCE(EXCLUDED.total_cost, bookings.total_cost),
		    last_change_at     = COALESCE(EXCLUDED.last_change_at, bookings.last_change_at),
		    raw                = EXCLUDED.raw
		RETURNING id, company_id, external_booking_id, client_id, external_client_id,
		          staff_id, staff_name, starts_at, ends_at, duration_sec,
		          comment, short_link, confirmed, attendance, is_deleted,
		          total_cost, last_change_at, raw
	`, companyID, b.ExternalID, clientID, b.ExternalClientID,
		b.StaffID, b.StaffName, b.StartsAt, b.EndsAt, b.DurationSec,
		b.Comment, b.ShortLink, b.Confirmed, b.Attendance, b.Deleted,
		b.TotalCost, b.LastChangeAt, b.Raw).
		Scan(&row.ID, &row.CompanyID, &row.ExternalBookingID, &row.ClientID, &row.ExternalClientID,
			&row.StaffID, &row.StaffName, &row.StartsAt, &row.EndsAt, &row.DurationSec,
			&row.Comment, &row.ShortLink, &row.Confirmed, &row.Attendance, &row.IsDeleted,
			&row.TotalCost, &row.LastChangeAt, &row.Raw)

	if err != nil {
		return nil, err
	}
	return &row, nil
}

func getBooking(ctx context.Context, q querier, id int64) (*booking.Booking, error) {
	var row booking.Booking
	err := q.QueryRow(ctx, `
		SELECT id, company_id, external_booking_id, client_id, external_client_id,
		       staff_id, staff_name, starts_at, ends_at, duration_sec,
		       comment, short_link, confirmed, attendance, is_deleted,
		       total_cost, last_change_at, raw
		FROM bookings
		WHERE id = $1
	`, id).Scan(&row.ID, &row.CompanyID, &row.ExternalBookingID, &row.ClientID, &row.ExternalClientID,
		&row.StaffID, &row.StaffName, &row.StartsAt, &row.EndsAt, &row.DurationSec,
		&row.Comment, &row.ShortLink, &row.Confirmed, &row.Attendance, &row.IsDeleted,
		&row.TotalCost, &row.LastChangeAt, &row.Raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, booking.ErrBookingNotFound
		}
		return nil, err
	}
	return &row, nil
}

// replaceBookingServices swaps the full service set of a booking. Webhooks
// always carry the complete list, so delete-and-insert keeps it exact.
func replaceBookingServices(ctx context.Context, q querier, bookingID int64, services []reconciler.ServiceData) error {
	if _, err := q.Exec(ctx, `DELETE FROM booking_services WHERE booking_id = $1`, bookingID); err != nil {
		return err
	}

	for _, s := range services {
		_, err := q.Exec(ctx, `
			INSERT INTO booking_services (booking_id, service_id, title, amount, cost_to_pay, raw)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (booking_id, service_id) DO UPDATE
			SET title = EXCLUDED.title, amount = EXCLUDED.amount, cost_to_pay = EXCLUDED.cost_to_pay, raw = EXCLUDED.raw
		`, bookingID, s.ServiceID, s.Title, s.Amount, s.CostToPay, s.Raw)
		if err != nil {
			return err
		}
	}
	return nil
}

func listServices(ctx context.Context, q querier, bookingID int64) ([]booking.Service, error) {
	rows, err := q.Query(ctx, `
		SELECT booking_id, service_id, title, amount, cost_to_pay, raw
		FROM booking_services
		WHERE booking_id = $1
		ORDER BY service_id
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Service
	for rows.Next() {
		var s booking.Service
		if err := rows.Scan(&s.BookingID, &s.ServiceID, &s.Title, &s.Amount, &s.CostToPay, &s.Raw); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func hasPriorBooking(ctx context.Context, q querier, companyID, clientID int64, before time.Time) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE company_id = $1
			  AND client_id = $2
			  AND starts_at < $3
			  AND NOT is_deleted
		)
	`, companyID, clientID, before).Scan(&exists)
	return exists, err
}
