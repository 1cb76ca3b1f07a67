package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

type ChatIngestor interface {
	IngestChat(ctx context.Context, payload []byte, query url.Values, headers http.Header) error
}

// DeliveryStore records provider delivery receipts against outbox rows.
type DeliveryStore interface {
	UpdateDeliveryStatus(ctx context.Context, providerMessageID, status string) (int64, error)
}

type WhatsAppWebhookHandler struct {
	ingestor    ChatIngestor
	deliveries  DeliveryStore
	verifyToken string
}

func NewWhatsAppWebhookHandler(ingestor ChatIngestor, deliveries DeliveryStore, verifyToken string) *WhatsAppWebhookHandler {
	return &WhatsAppWebhookHandler{ingestor: ingestor, deliveries: deliveries, verifyToken: verifyToken}
}

// Verify answers Meta's subscription handshake: echo hub.challenge as
// plain text when mode and token match, 403 otherwise.
func (h *WhatsAppWebhookHandler) Verify(ctx *gin.Context) {
	mode := ctx.Query("hub.mode")
	token := ctx.Query("hub.verify_token")
	challenge := ctx.Query("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		ctx.String(http.StatusOK, challenge)
		return
	}
	RespondForbidden(ctx, "Verification failed")
}

// Receive stores the webhook as an event and applies any delivery
// receipts it carries. Always acks with 200 so Meta does not retry.
func (h *WhatsAppWebhookHandler) Receive(ctx *gin.Context) {
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil || len(body) == 0 {
		RespondBadRequest(ctx, "Could not read request body", nil)
		return
	}
	if !json.Valid(body) {
		RespondBadRequest(ctx, "Body must be valid JSON", nil)
		return
	}

	if err := h.ingestor.IngestChat(ctx.Request.Context(), body, ctx.Request.URL.Query(), ctx.Request.Header); err != nil {
		RespondInternal(ctx, "Could not store event")
		return
	}

	h.applyStatuses(ctx.Request.Context(), body)

	ctx.JSON(http.StatusOK, gin.H{"ok": true})
}

type whatsappStatuses struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Statuses []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// applyStatuses is best effort: a receipt for an unknown message id is
// dropped silently.
func (h *WhatsAppWebhookHandler) applyStatuses(ctx context.Context, body []byte) {
	if h.deliveries == nil {
		return
	}

	var payload whatsappStatuses
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&payload); err != nil {
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				if st.ID == "" {
					continue
				}
				switch st.Status {
				case "delivered", "read":
					_, _ = h.deliveries.UpdateDeliveryStatus(ctx, st.ID, st.Status)
				}
			}
		}
	}
}
