package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/hexleaf/equity-screener/internal/monitor"
)

// Notifier posts alerts to configured webhooks as Discord-style embeds.
// The cooldown guard suppresses repeat posts for a flapping entry; delivery
// failure to one webhook never blocks the others.
type Notifier struct {
	httpClient  *http.Client
	webhookURLs []string
	cooldown    *monitor.Cooldown
	enabled     bool
	logger      zerolog.Logger
}

// NewNotifier creates a webhook notifier. No URLs disables it entirely.
func NewNotifier(webhookURLs []string, cooldown *monitor.Cooldown, logger zerolog.Logger) *Notifier {
	return &Notifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		webhookURLs: webhookURLs,
		cooldown:    cooldown,
		enabled:     len(webhookURLs) > 0,
		logger:      logger.With().Str("component", "webhook_sink").Logger(),
	}
}

// Publish sends the alert to every webhook. Implements monitor.AlertSink.
func (n *Notifier) Publish(ctx context.Context, alert monitor.Alert) error {
	if !n.enabled {
		return nil
	}
	if n.cooldown != nil && !n.cooldown.Allow(ctx, alert) {
		n.logger.Debug().
			Str("entry", alert.Entry.ID.String()).
			Str("transition", string(alert.Transition)).
			Msg("Alert suppressed by cooldown")
		return nil
	}

	for _, webhookURL := range n.webhookURLs {
		if err := n.send(ctx, webhookURL, alert); err != nil {
			n.logger.Error().
				Err(err).
				Str("webhook", webhookURL).
				Str("instrument", alert.Entry.Instrument).
				Str("strategy", alert.Entry.Strategy).
				Msg("Failed to send webhook")
			continue
		}
	}
	return nil
}

func (n *Notifier) send(ctx context.Context, webhookURL string, alert monitor.Alert) error {
	payload, err := json.Marshal(n.formatPayload(alert))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// formatPayload builds a Discord-compatible embed.
func (n *Notifier) formatPayload(alert monitor.Alert) map[string]any {
	title := fmt.Sprintf("%s entered %s", alert.Entry.Instrument, alert.Entry.Strategy)
	color := 0x2ecc71
	if alert.Transition == monitor.TransitionExited {
		title = fmt.Sprintf("%s exited %s", alert.Entry.Instrument, alert.Entry.Strategy)
		color = 0xe74c3c
	}

	return map[string]any{
		"embeds": []map[string]any{
			{
				"title": title,
				"color": color,
				"fields": []map[string]any{
					{"name": "Instrument", "value": alert.Entry.Instrument, "inline": true},
					{"name": "Strategy", "value": alert.Entry.Strategy, "inline": true},
					{"name": "Period", "value": string(alert.Entry.Period), "inline": true},
					{"name": "Transition", "value": string(alert.Transition), "inline": true},
				},
				"timestamp": alert.Timestamp.Format(time.RFC3339),
			},
		},
	}
}
