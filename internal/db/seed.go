package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// German default templates, one per job type. The template code equals
// the job type.
var defaultTemplates = map[string]string{
	"record_created": "Hallo {client_name},\n\n" +
		"vielen Dank für Ihre Buchung!\n\n" +
		"*Ihr Termin:*\n{date} um {time} Uhr\nbei {staff_name}\n\n" +
		"*Leistungen:*\n{services}\n\nGesamt: {total_cost}€\n" +
		"{pre_appointment_notes}\n" +
		"Termin verwalten: {short_link}\n\n" +
		"Abmelden: {unsubscribe_link}",

	"record_updated": "Hallo {client_name},\n\n" +
		"Ihr Termin wurde geändert.\n\n" +
		"*Neuer Termin:*\n{date} um {time} Uhr\nbei {staff_name}\n\n" +
		"*Leistungen:*\n{services}\n\nGesamt: {total_cost}€\n\n" +
		"Termin verwalten: {short_link}\n\n" +
		"Abmelden: {unsubscribe_link}",

	"record_canceled": "Hallo {client_name},\n\n" +
		"Ihr Termin am {date} um {time} Uhr wurde storniert.\n\n" +
		"Neuen Termin buchen: {short_link}\n\n" +
		"Abmelden: {unsubscribe_link}",

	"reminder_24h": "Hallo {client_name},\n\n" +
		"eine Erinnerung: Ihr Termin ist morgen, am {date} um {time} Uhr bei {staff_name}.\n\n" +
		"*Leistungen:*\n{services}\n\n" +
		"Termin verwalten: {short_link}\n\n" +
		"Abmelden: {unsubscribe_link}",

	"reminder_2h": "Hallo {client_name},\n\n" +
		"Ihr Termin beginnt heute um {time} Uhr bei {staff_name}.\n\n" +
		"Bis gleich!\n\n" +
		"Abmelden: {unsubscribe_link}",

	"review_3d": "Hallo {client_name},\n\n" +
		"wie hat Ihnen {primary_service} gefallen? Wir freuen uns über Ihre Bewertung.\n\n" +
		"Abmelden: {unsubscribe_link}",

	"repeat_10d": "Hallo {client_name},\n\n" +
		"Zeit für einen Folgetermin? Buchen Sie gleich hier: {short_link}\n\n" +
		"Abmelden: {unsubscribe_link}",

	"comeback_3d": "Hallo {client_name},\n\n" +
		"schade, dass Ihr Termin nicht stattfinden konnte. Buchen Sie gern einen neuen: {short_link}\n\n" +
		"Abmelden: {unsubscribe_link}",
}

// SeedTemplates inserts the German default templates for a company where
// no template with the same code and language exists yet.
func SeedTemplates(ctx context.Context, pool *pgxpool.Pool, companyID int64) (int64, error) {
	var inserted int64

	for code, body := range defaultTemplates {
		tag, err := pool.Exec(ctx, `
			INSERT INTO message_templates (company_id, code, language, body)
			SELECT $1, $2, 'de', $3
			WHERE NOT EXISTS (
				SELECT 1 FROM message_templates
				WHERE company_id = $1 AND code = $2 AND language = 'de'
			)
		`, companyID, code, body)
		if err != nil {
			return inserted, err
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// SeedDefaultSender registers the fallback sender for a company.
func SeedDefaultSender(ctx context.Context, pool *pgxpool.Pool, companyID int64, phoneNumberID, displayPhone string) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO whatsapp_senders (company_id, sender_code, phone_number_id, display_phone, is_active)
		VALUES ($1, 'default', $2, NULLIF($3, ''), TRUE)
		ON CONFLICT (company_id, sender_code) DO UPDATE
		SET phone_number_id = EXCLUDED.phone_number_id,
		    display_phone   = EXCLUDED.display_phone,
		    is_active       = TRUE
	`, companyID, phoneNumberID, displayPhone)
	return err
}
