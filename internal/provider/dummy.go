package provider

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Dummy logs the message instead of sending it. The default provider for
// local and staging environments.
type Dummy struct {
	log *slog.Logger
}

func NewDummy(log *slog.Logger) *Dummy {
	return &Dummy{log: log}
}

func (d *Dummy) Send(_ context.Context, senderID int64, phoneE164, text string) (string, error) {
	id := "dummy-" + uuid.NewString()
	d.log.Info("dummy send",
		"sender_id", senderID,
		"to", phoneE164,
		"provider_message_id", id,
		"body_len", len(text),
	)
	return id, nil
}
