package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// WebhookNotifier posts events as JSON to a single endpoint with a short
// bounded retry. Anything 2xx counts as delivered.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	retries int
}

// NewWebhookNotifier builds a webhook sink for the given endpoint URL.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		retries: 2,
	}
}

type webhookPayload struct {
	Template string         `json:"template"`
	Subject  string         `json:"subject"`
	RuleID   int64          `json:"rule_id,omitempty"`
	RuleName string         `json:"rule_name,omitempty"`
	Customer string         `json:"customer_name,omitempty"`
	Context  map[string]any `json:"context"`
	SentAt   time.Time      `json:"sent_at"`
}

func (n *WebhookNotifier) Send(ctx context.Context, ev Event) error {
	ev = ev.WithRuleContext(time.Now())

	payload := webhookPayload{
		Template: ev.Template,
		Subject:  Subject(ev),
		Context:  ev.Context,
		SentAt:   time.Now().UTC(),
	}
	if ev.Rule != nil {
		payload.RuleID = ev.Rule.ID
		payload.RuleName = ev.Rule.Name
		payload.Customer = ev.Rule.CustomerName
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			log.Debug().Str("template", ev.Template).Msg("Webhook delivered")
			return nil
		}
		lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("webhook delivery failed: %w", lastErr)
}
