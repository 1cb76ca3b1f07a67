package provider

import (
	"context"
	"errors"
	"strings"
)

// Provider delivers one text message through a chat channel and returns
// the provider-side message id.
type Provider interface {
	Send(ctx context.Context, senderID int64, phoneE164, text string) (string, error)
}

// ErrRealSendDisabled means the Meta provider is configured but outbound
// traffic is switched off for this environment.
var ErrRealSendDisabled = errors.New("real sends are disabled")

// tokenExpiredError wraps a provider response that signals an invalidated
// access token. The worker latches on it instead of burning retries.
type tokenExpiredError struct {
	msg string
}

func (e *tokenExpiredError) Error() string { return e.msg }

// IsTokenExpired reports whether err is a token-expired provider response.
func IsTokenExpired(err error) bool {
	var te *tokenExpiredError
	return errors.As(err, &te)
}

// IsSendBlocked reports errors that must fail the job without retries.
func IsSendBlocked(err error) bool {
	return errors.Is(err, ErrRealSendDisabled)
}

// looksTokenExpired matches the phrasings Meta uses for dead tokens.
func looksTokenExpired(msg string) bool {
	lower := strings.ToLower(msg)
	if !strings.Contains(lower, "access token") {
		return false
	}
	return strings.Contains(lower, "expired") ||
		strings.Contains(lower, "session has been invalidated") ||
		strings.Contains(lower, "cannot be used")
}
