package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// WebhookNotifier posts the notification as JSON to an arbitrary endpoint
// (Slack-compatible relays, PagerDuty event bridges, internal hooks).
type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  httpDoer
	logger  zerolog.Logger
}

// NewWebhookNotifier builds a webhook notifier. headers are sent verbatim,
// e.g. an Authorization token.
func NewWebhookNotifier(url string, headers map[string]string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		headers: headers,
		client:  newClient(timeout),
		logger:  logger.With().Str("component", "alert_webhook").Logger(),
	}
}

type webhookPayload struct {
	Text string `json:"text"`
	Notification
}

// Notify posts the notification; any 2xx status is success.
func (n *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	body := webhookPayload{Text: RenderMessage(note), Notification: note}
	if err := postJSON(ctx, n.client, n.url, n.headers, body, nil); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	n.logger.Info().Time("bucket", note.Bucket).
		Str("metric", note.Metric).
		Str("severity", note.Severity).
		Msg("alert delivered (webhook)")
	return nil
}

var _ Notifier = (*WebhookNotifier)(nil)
