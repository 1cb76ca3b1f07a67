package outbox

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/kitilash/altegiobot/internal/domain/booking"
	"github.com/kitilash/altegiobot/internal/domain/job"
	"github.com/kitilash/altegiobot/internal/domain/sender"
)

const DefaultLanguage = "de"

// PreAppointmentNotesDE is appended to the booking confirmation for clients
// visiting for the first time.
const PreAppointmentNotesDE = "\n*Hinweise für Ihren ersten Besuch:*\n" +
	"Bitte kommen Sie möglichst ohne Augen-Make-up.\n" +
	"Planen Sie ca. 10 Minuten zusätzlich für die Beratung ein.\n" +
	"Bei mehr als 15 Minuten Verspätung kann der Termin leider entfallen.\n"

// RenderStore is everything rendering reads: services, prior visits and
// templates, plus sender routing.
type RenderStore interface {
	RoutingStore

	ListServices(ctx context.Context, bookingID int64) ([]booking.Service, error)
	// HasPriorBooking reports whether the client has any booking in the
	// company strictly before the given instant.
	HasPriorBooking(ctx context.Context, companyID, clientID int64, before time.Time) (bool, error)
	// Template returns the active template for an exact language.
	Template(ctx context.Context, companyID int64, code, language string) (*sender.Template, error)
	// AnyTemplate returns the first active template for the code in any
	// language, ordered by id.
	AnyTemplate(ctx context.Context, companyID int64, code string) (*sender.Template, error)
}

// RenderResult is a fully materialized message.
type RenderResult struct {
	Body       string
	SenderID   int64
	SenderCode string
	Language   string
}

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

type Renderer struct {
	loc             *time.Location
	unsubscribeBase string
}

func NewRenderer(loc *time.Location, unsubscribeBase string) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{loc: loc, unsubscribeBase: unsubscribeBase}
}

// Render loads the template for (company, code) with language fallback,
// routes the sender and substitutes every placeholder. An unknown
// placeholder in the template body is an error, not silent output.
func (r *Renderer) Render(ctx context.Context, store RenderStore, companyID int64, code string, b *booking.Booking, c *booking.Client) (RenderResult, error) {
	tmpl, err := loadTemplate(ctx, store, companyID, code, DefaultLanguage)
	if err != nil {
		return RenderResult{}, err
	}

	senderCode := sender.DefaultCode
	if b != nil {
		senderCode, err = PickSenderCode(ctx, store, companyID, b.ID)
		if err != nil {
			return RenderResult{}, err
		}
	}

	senderID, err := PickSenderID(ctx, store, companyID, senderCode)
	if err != nil {
		return RenderResult{}, err
	}
	if senderID == nil {
		return RenderResult{}, ErrNoActiveSender
	}

	values, err := r.placeholderValues(ctx, store, companyID, code, tmpl.Language, b, c, *senderID, senderCode)
	if err != nil {
		return RenderResult{}, err
	}

	body, err := substitute(tmpl.Body, values)
	if err != nil {
		return RenderResult{}, err
	}

	return RenderResult{
		Body:       body,
		SenderID:   *senderID,
		SenderCode: senderCode,
		Language:   tmpl.Language,
	}, nil
}

// loadTemplate: exact preferred language, then the default language, then
// any active template for the code.
func loadTemplate(ctx context.Context, store RenderStore, companyID int64, code, preferred string) (*sender.Template, error) {
	tmpl, err := store.Template(ctx, companyID, code, preferred)
	if err != nil && !errors.Is(err, sender.ErrTemplateNotFound) {
		return nil, err
	}
	if tmpl != nil {
		return tmpl, nil
	}

	if preferred != DefaultLanguage {
		tmpl, err = store.Template(ctx, companyID, code, DefaultLanguage)
		if err != nil && !errors.Is(err, sender.ErrTemplateNotFound) {
			return nil, err
		}
		if tmpl != nil {
			return tmpl, nil
		}
	}

	tmpl, err = store.AnyTemplate(ctx, companyID, code)
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}

func (r *Renderer) placeholderValues(ctx context.Context, store RenderStore, companyID int64, code, language string, b *booking.Booking, c *booking.Client, senderID int64, senderCode string) (map[string]string, error) {
	values := map[string]string{
		"client_name":           "",
		"staff_name":            "",
		"date":                  "",
		"time":                  "",
		"services":              "",
		"total_cost":            fmtMoney(nil),
		"short_link":            "",
		"unsubscribe_link":      "",
		"sender_id":             fmt.Sprintf("%d", senderID),
		"sender_code":           senderCode,
		"pre_appointment_notes": "",
		"primary_service":       "",
	}

	if c != nil {
		if c.DisplayName != nil {
			values["client_name"] = *c.DisplayName
		}
		if c.PhoneE164 != nil && r.unsubscribeBase != "" {
			values["unsubscribe_link"] = r.unsubscribeBase + "?phone=" + url.QueryEscape(*c.PhoneE164)
		}
	}

	if b != nil {
		if b.StaffName != nil {
			values["staff_name"] = *b.StaffName
		}
		if b.ShortLink != nil {
			values["short_link"] = *b.ShortLink
		}
		if b.StartsAt != nil {
			local := b.StartsAt.In(r.loc)
			values["date"] = local.Format("02.01.2006")
			values["time"] = local.Format("15:04")
		}

		services, err := store.ListServices(ctx, b.ID)
		if err != nil {
			return nil, err
		}

		var lines []string
		var total float64
		for _, s := range services {
			title := ""
			if s.Title != nil {
				title = *s.Title
			}
			lines = append(lines, fmt.Sprintf("%s — %s€", title, fmtMoney(s.CostToPay)))
			if s.CostToPay != nil {
				total += *s.CostToPay
			}
		}
		values["services"] = strings.Join(lines, "\n")
		values["total_cost"] = fmtMoney(&total)
		if len(services) > 0 && services[0].Title != nil {
			values["primary_service"] = *services[0].Title
		}

		// The notes text is German, only inject it into German templates.
		if code == job.TypeRecordCreated && language == DefaultLanguage && b.StartsAt != nil && c != nil {
			prior, err := store.HasPriorBooking(ctx, companyID, c.ID, *b.StartsAt)
			if err != nil {
				return nil, err
			}
			if !prior {
				values["pre_appointment_notes"] = PreAppointmentNotesDE
			}
		}
	}

	return values, nil
}

func substitute(body string, values map[string]string) (string, error) {
	var unknown string

	out := placeholderRe.ReplaceAllStringFunc(body, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := values[key]
		if !ok {
			if unknown == "" {
				unknown = key
			}
			return m
		}
		return v
	})

	if unknown != "" {
		return "", fmt.Errorf("unknown placeholder {%s}", unknown)
	}
	return out, nil
}

func fmtMoney(v *float64) string {
	if v == nil {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", *v)
}
