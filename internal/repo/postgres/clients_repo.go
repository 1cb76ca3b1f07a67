package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/kitilash/altegiobot/internal/domain/booking"
	"github.com/kitilash/altegiobot/internal/reconciler"
)

func upsertClient(ctx context.Context, q querier, companyID int64, c reconciler.ClientData) (int64, error) {
	var id int64

	// COALESCE keeps known values when an update carries empty fields
	err := q.QueryRow(ctx, `
		INSERT INTO clients (company_id, external_client_id, phone_e164, display_name, email, raw)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (company_id, external_client_id) DO UPDATE
		SET phone_e164   = COALESCE(EXCLUDED.phone_e164, clients.phone_e164),
		    display_name = COALESCE(EXCLUDED.display_name, clients.display_name),
		    email        = COALESCE(EXCLUDED.email, clients.email),
		    raw          = EXCLUDED.raw
		RETURNING id
	`, companyID, c.ExternalID, normalizePhone(c.Phone), c.DisplayName, c.Email, c.Raw).Scan(&id)

	return id, err
}

func getClient(ctx context.Context, q querier, id int64) (*booking.Client, error) {
	var c booking.Client
	err := q.QueryRow(ctx, `
		SELECT id, company_id, external_client_id, phone_e164, display_name, email, raw
		FROM clients
		WHERE id = $1
	`, id).Scan(&c.ID, &c.CompanyID, &c.ExternalClientID, &c.PhoneE164, &c.DisplayName, &c.Email, &c.Raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, booking.ErrClientNotFound
		}
		return nil, err
	}
	return &c, nil
}

// normalizePhone coerces the feed's phone spellings into E.164. Strips
// spaces, dashes and parens; "00" and bare-digit prefixes become "+".
func normalizePhone(phone *string) *string {
	if phone == nil {
		return nil
	}

	var digits []byte
	for i := 0; i < len(*phone); i++ {
		ch := (*phone)[i]
		if ch >= '0' && ch <= '9' {
			digits = append(digits, ch)
		}
	}
	if len(digits) < 7 {
		return nil
	}

	s := string(digits)
	if len(s) > 2 && s[:2] == "00" {
		s = s[2:]
	}
	out := "+" + s
	return &out
}
