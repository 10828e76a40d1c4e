package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SMSConfig holds the settings for the HTTP SMS gateway.
type SMSConfig struct {
	GatewayURL string
	APIKey     string
	SenderID   string // alphanumeric sender shown on the handset
	Timeout    time.Duration
}

// SMSSender delivers messages through an HTTP SMS gateway.
type SMSSender struct {
	cfg        SMSConfig
	httpClient *http.Client
}

// NewSMSSender creates the sender after checking the gateway settings.
func NewSMSSender(cfg SMSConfig) (*SMSSender, error) {
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("sms gateway URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMSSender{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Channel returns "sms".
func (s *SMSSender) Channel() string { return "sms" }

type smsRequest struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Message string `json:"message"`
}

// Send posts one message to the gateway. The subject is folded into the
// body since SMS has no subject line.
func (s *SMSSender) Send(ctx context.Context, recipient, subject, body string) error {
	if recipient == "" {
		return fmt.Errorf("recipient is required")
	}

	text := body
	if subject != "" {
		text = subject + "\n" + body
	}

	payload, err := json.Marshal(smsRequest{
		To:      recipient,
		From:    s.cfg.SenderID,
		Message: text,
	})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GatewayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to gateway: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Bound the response read; gateway error pages can be arbitrarily large.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
