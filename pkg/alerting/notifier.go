package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tether/pkg/log"
)

// Notifier delivers a rendered alert. Delivery infrastructure lives
// outside tether; implementations hand the message over to it.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// LogNotifier writes alerts to the log instead of delivering them
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: log.WithComponent("notifier")}
}

// Send logs the message
func (n *LogNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	n.logger.Info().
		Str("recipient", recipient).
		Str("subject", subject).
		Str("body", body).
		Msg("Alert")
	return nil
}

// WebhookNotifier posts alerts as JSON to a mail relay endpoint
type WebhookNotifier struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier
func NewWebhookNotifier(url, token string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Send posts the message and fails on any non-2xx answer
func (n *WebhookNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	payload, err := json.Marshal(webhookPayload{To: recipient, Subject: subject, Body: body})
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert relay returned %d", resp.StatusCode)
	}
	return nil
}
