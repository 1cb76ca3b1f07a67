package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kitilash/altegiobot/internal/cache"
	"github.com/kitilash/altegiobot/internal/domain/sender"
)

// SenderStore resolves a sender row to its provider phone number id.
type SenderStore interface {
	SenderByID(ctx context.Context, id int64) (*sender.Sender, error)
}

// Meta sends through the WhatsApp Cloud API.
type Meta struct {
	graphURL      string
	apiVersion    string
	accessToken   string
	allowRealSend bool
	senders       SenderStore
	cache         cache.StringCache
	client        *http.Client
}

type MetaConfig struct {
	GraphURL      string
	APIVersion    string
	AccessToken   string
	AllowRealSend bool
}

func NewMeta(cfg MetaConfig, senders SenderStore, c cache.StringCache) *Meta {
	if c == nil {
		c = cache.NewMemory(5 * time.Minute)
	}
	return &Meta{
		graphURL:      strings.TrimRight(cfg.GraphURL, "/"),
		apiVersion:    cfg.APIVersion,
		accessToken:   cfg.AccessToken,
		allowRealSend: cfg.AllowRealSend,
		senders:       senders,
		cache:         c,
		client:        &http.Client{Timeout: 20 * time.Second},
	}
}

type metaTextBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type metaRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             metaTextBody `json:"text"`
}

type metaResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (m *Meta) Send(ctx context.Context, senderID int64, phoneE164, text string) (string, error) {
	if !m.allowRealSend {
		return "", ErrRealSendDisabled
	}

	phoneNumberID, err := m.phoneNumberID(ctx, senderID)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(metaRequest{
		MessagingProduct: "whatsapp",
		To:               strings.TrimPrefix(phoneE164, "+"),
		Type:             "text",
		Text:             metaTextBody{Body: text, PreviewURL: false},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/%s/messages", m.graphURL, m.apiVersion, phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+m.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("whatsapp response: %w", err)
	}

	var parsed metaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode < 400 {
		return "", fmt.Errorf("whatsapp response decode: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(raw))
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		if looksTokenExpired(msg) || (parsed.Error != nil && parsed.Error.Code == 190) {
			return "", &tokenExpiredError{msg: fmt.Sprintf("whatsapp token expired: %s", msg)}
		}
		return "", fmt.Errorf("whatsapp send failed: status=%d %s", resp.StatusCode, msg)
	}

	if len(parsed.Messages) == 0 || parsed.Messages[0].ID == "" {
		return "", fmt.Errorf("whatsapp send: no message id in response")
	}
	return parsed.Messages[0].ID, nil
}

// phoneNumberID is cached: sender rows barely ever change and this sits on
// the hot send path.
func (m *Meta) phoneNumberID(ctx context.Context, senderID int64) (string, error) {
	key := fmt.Sprintf("sender_pnid:%d", senderID)
	if v, ok := m.cache.GetString(ctx, key); ok {
		return v, nil
	}

	s, err := m.senders.SenderByID(ctx, senderID)
	if err != nil {
		return "", err
	}
	if s.PhoneNumberID == "" {
		return "", fmt.Errorf("sender %d has no phone_number_id", senderID)
	}
	m.cache.SetString(ctx, key, s.PhoneNumberID)
	return s.PhoneNumberID, nil
}
