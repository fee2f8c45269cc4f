package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WebhookChannel POSTs events as JSON to a configured URL. Useful for ops
// alerting on AuthError/Fatal events (SPEC_FULL.md §4.G) without wiring a
// dedicated integration.
type WebhookChannel struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewWebhookChannel(url string, logger *slog.Logger) *WebhookChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (c *WebhookChannel) Name() string { return "webhook:" + c.url }

func (c *WebhookChannel) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversation_id,omitempty"`
		Payload        any    `json:"payload,omitempty"`
	}{
		Type:           string(event.Type),
		ConversationID: event.ConversationID,
		Payload:        event.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func init() {
	Register("webhook", func(config map[string]any, logger *slog.Logger) (Channel, error) {
		url, _ := config["url"].(string)
		if url == "" {
			return nil, fmt.Errorf("webhook channel config missing \"url\"")
		}
		return NewWebhookChannel(url, logger), nil
	})
}
