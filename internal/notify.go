package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lychee-technology/formbase"
)

// WebhookNotifier posts one JSON event per settled migration record to an
// external collaborator. Delivery is fire-and-forget: failures are logged
// and never propagate into the migration path.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

// NewWebhookNotifier creates a notifier. An empty URL disables delivery.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NotifyMigration implements Notifier.
func (n *WebhookNotifier) NotifyMigration(event formbase.MigrationEvent) {
	if n.url == "" {
		return
	}
	go n.deliver(event)
}

func (n *WebhookNotifier) deliver(event formbase.MigrationEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		zap.S().Warnw("marshal migration event failed", "recordId", event.Record.ID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		zap.S().Warnw("build migration event request failed", "recordId", event.Record.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		zap.S().Warnw("migration event delivery failed", "recordId", event.Record.ID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		zap.S().Warnw("migration event rejected",
			"recordId", event.Record.ID, "status", resp.StatusCode)
	}
}
