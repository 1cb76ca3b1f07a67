package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/kitilash/altegiobot/internal/domain/sender"
)

func firstServiceID(ctx context.Context, q querier, bookingID int64) (*int64, error) {
	var id int64
	err := q.QueryRow(ctx, `
		SELECT service_id FROM booking_services
		WHERE booking_id = $1
		ORDER BY service_id
		LIMIT 1
	`, bookingID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &id, nil
}

func senderCodeForService(ctx context.Context, q querier, companyID, serviceID int64) (string, error) {
	var code string
	err := q.QueryRow(ctx, `
		SELECT sender_code FROM service_sender_rules
		WHERE company_id = $1 AND service_id = $2
	`, companyID, serviceID).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sender.DefaultCode, nil
		}
		return "", err
	}
	return code, nil
}

func activeSender(ctx context.Context, q querier, companyID int64, code string) (*sender.Sender, error) {
	var s sender.Sender
	err := q.QueryRow(ctx, `
		SELECT id, company_id, sender_code, phone_number_id, display_phone, is_active
		FROM whatsapp_senders
		WHERE company_id = $1 AND sender_code = $2 AND is_active
	`, companyID, code).Scan(&s.ID, &s.CompanyID, &s.SenderCode, &s.PhoneNumberID, &s.DisplayPhone, &s.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// SenderByID serves the provider's phone-number-id lookup.
func (s *Store) SenderByID(ctx context.Context, id int64) (*sender.Sender, error) {
	var row sender.Sender
	op := "senders.get"

	err := s.observe(op, func() error {
		return s.pool.QueryRow(ctx, `
		SELECT id, company_id, sender_code, phone_number_id, display_phone, is_active
		FROM whatsapp_senders
		WHERE id = $1
	`, id).Scan(&row.ID, &row.CompanyID, &row.SenderCode, &row.PhoneNumberID, &row.DisplayPhone, &row.IsActive)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sender.ErrSenderNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (s *Store) UpsertSender(ctx context.Context, row sender.Sender) (sender.Sender, error) {
	var out sender.Sender
	op := "senders.upsert"

	err := s.observe(op, func() error {
		return s.pool.QueryRow(ctx, `
		INSERT INTO whatsapp_senders (company_id, sender_code, phone_number_id, display_phone, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (company_id, sender_code) DO UPDATE
		SET phone_number_id = EXCLUDED.phone_number_id,
		    display_phone   = EXCLUDED.display_phone,
		    is_active       = EXCLUDED.is_active
		RETURNING id, company_id, sender_code, phone_number_id, display_phone, is_active
	`, row.CompanyID, row.SenderCode, row.PhoneNumberID, row.DisplayPhone, row.IsActive).
			Scan(&out.ID, &out.CompanyID, &out.SenderCode, &out.PhoneNumberID, &out.DisplayPhone, &out.IsActive)
	})
	return out, err
}

func (s *Store) UpsertRule(ctx context.Context, row sender.Rule) (sender.Rule, error) {
	var out sender.Rule
	op := "rules.upsert"

	err := s.observe(op, func() error {
		return s.pool.QueryRow(ctx, `
		INSERT INTO service_sender_rules (company_id, service_id, sender_code)
		VALUES ($1, $2, $3)
		ON CONFLICT (company_id, service_id) DO UPDATE
		SET sender_code = EXCLUDED.sender_code
		RETURNING id, company_id, service_id, sender_code
	`, row.CompanyID, row.ServiceID, row.SenderCode).
			Scan(&out.ID, &out.CompanyID, &out.ServiceID, &out.SenderCode)
	})
	return out, err
}

func (s *Store) UpsertTemplate(ctx context.Context, row sender.Template) (sender.Template, error) {
	var out sender.Template
	op := "templates.upsert"

	err := s.observe(op, func() error {
		return s.pool.QueryRow(ctx, `
		INSERT INTO message_templates (company_id, code, language, body, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (company_id, code, language) DO UPDATE
		SET body       = EXCLUDED.body,
		    is_active  = EXCLUDED.is_active,
		    updated_at = NOW()
		RETURNING id, company_id, code, language, body, is_active, created_at, updated_at
	`, row.CompanyID, row.Code, row.Language, row.Body, row.IsActive).
			Scan(&out.ID, &out.CompanyID, &out.Code, &out.Language, &out.Body, &out.IsActive, &out.CreatedAt, &out.UpdatedAt)
	})
	return out, err
}

func getTemplate(ctx context.Context, q querier, companyID int64, code, language string) (*sender.Template, error) {
	var t sender.Template
	err := q.QueryRow(ctx, `
		SELECT id, company_id, code, language, body, is_active, created_at, updated_at
		FROM message_templates
		WHERE company_id = $1 AND code = $2 AND language = $3 AND is_active
		ORDER BY id
		LIMIT 1
	`, companyID, code, language).Scan(&t.ID, &t.CompanyID, &t.Code, &t.Language, &t.Body, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sender.ErrTemplateNotFound
		}
		return nil, err
	}
	return &t, nil
}

func anyTemplate(ctx context.Context, q querier, companyID int64, code string) (*sender.Template, error) {
	var t sender.Template
	err := q.QueryRow(ctx, `
		SELECT id, company_id, code, language, body, is_active, created_at, updated_at
		FROM message_templates
		WHERE company_id = $1 AND code = $2 AND is_active
		ORDER BY id
		LIMIT 1
	`, companyID, code).Scan(&t.ID, &t.CompanyID, &t.Code, &t.Language, &t.Body, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sender.ErrTemplateNotFound
		}
		return nil, err
	}
	return &t, nil
}
