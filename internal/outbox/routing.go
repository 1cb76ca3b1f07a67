package outbox

import (
	"context"
	"errors"

	"github.com/kitilash/altegiobot/internal/domain/sender"
)

// RoutingStore is the slice of the store sender routing reads from.
type RoutingStore interface {
	// FirstServiceID returns the booking's lowest service id, nil if the
	// booking has no services.
	FirstServiceID(ctx context.Context, bookingID int64) (*int64, error)
	// SenderCodeForService returns the rule's code, "" when no rule matches.
	SenderCodeForService(ctx context.Context, companyID, serviceID int64) (string, error)
	// ActiveSender returns the active sender for (company, code).
	ActiveSender(ctx context.Context, companyID int64, code string) (*sender.Sender, error)
}

// PickSenderCode resolves which sender identity a booking's messages come
// from: the rule for its first service, or "default".
func PickSenderCode(ctx context.Context, store RoutingStore, companyID, bookingID int64) (string, error) {
	serviceID, err := store.FirstServiceID(ctx, bookingID)
	if err != nil {
		return "", err
	}
	if serviceID == nil {
		return sender.DefaultCode, nil
	}

	code, err := store.SenderCodeForService(ctx, companyID, *serviceID)
	if err != nil {
		return "", err
	}
	if code == "" {
		return sender.DefaultCode, nil
	}
	return code, nil
}

// PickSenderID resolves a code to an active sender id, falling back to the
// default sender when the routed code has no active sender. Nil when even
// the default is missing.
func PickSenderID(ctx context.Context, store RoutingStore, companyID int64, code string) (*int64, error) {
	s, err := store.ActiveSender(ctx, companyID, code)
	if err != nil && !errors.Is(err, sender.ErrSenderNotFound) {
		return nil, err
	}
	if s != nil {
		return &s.ID, nil
	}

	if code == sender.DefaultCode {
		return nil, nil
	}

	return PickSenderID(ctx, store, companyID, sender.DefaultCode)
}
