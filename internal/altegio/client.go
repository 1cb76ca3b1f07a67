package altegio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Altegio REST client. Only the lookups the pipeline
// needs are implemented; webhooks carry everything else.
type Client struct {
	baseURL      string
	accept       string
	partnerToken string
	userToken    string
	http         *http.Client
}

type Config struct {
	BaseURL      string
	Accept       string
	PartnerToken string
	UserToken    string
}

func New(cfg Config) *Client {
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		accept:       cfg.Accept,
		partnerToken: cfg.PartnerToken,
		userToken:    cfg.UserToken,
		http:         &http.Client{Timeout: 10 * time.Second},
	}
}

// Service is the subset of the service resource the planner filter reads.
type Service struct {
	ID         int64  `json:"id"`
	CategoryID int64  `json:"category_id"`
	Title      string `json:"title"`
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
}

// GetService fetches one service of a company, mainly for its category id.
func (c *Client) GetService(ctx context.Context, companyID, serviceID int64) (*Service, error) {
	url := fmt.Sprintf("%s/company/%d/services/%d", c.baseURL, companyID, serviceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", c.accept)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s, User %s", c.partnerToken, c.userToken))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("altegio request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("altegio response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("altegio service lookup failed: status=%d %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("altegio response decode: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("altegio service lookup unsuccessful")
	}

	var svc Service
	if err := json.Unmarshal(env.Data, &svc); err != nil {
		return nil, fmt.Errorf("altegio service decode: %w", err)
	}
	return &svc, nil
}
