package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

// BookingIngestor is the slice of ingress the webhook handler uses.
type BookingIngestor interface {
	IngestBooking(ctx context.Context, payload []byte, query url.Values, headers http.Header) error
}

type AltegioWebhookHandler struct {
	ingestor BookingIngestor
	secret   string
}

func NewAltegioWebhookHandler(ingestor BookingIngestor, secret string) *AltegioWebhookHandler {
	return &AltegioWebhookHandler{ingestor: ingestor, secret: secret}
}

// Handle accepts a booking-system webhook. The shared secret rides on the
// query string; an invalid one is rejected before the body is read.
func (h *AltegioWebhookHandler) Handle(ctx *gin.Context) {
	if h.secret == "" || ctx.Query("secret") != h.secret {
		RespondForbidden(ctx, "Invalid webhook secret")
		return
	}

	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil || len(body) == 0 {
		RespondBadRequest(ctx, "Could not read request body", nil)
		return
	}
	if !json.Valid(body) {
		RespondBadRequest(ctx, "Body must be valid JSON", nil)
		return
	}

	if err := h.ingestor.IngestBooking(ctx.Request.Context(), body, ctx.Request.URL.Query(), ctx.Request.Header); err != nil {
		RespondInternal(ctx, "Could not store event")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"ok": true})
}
