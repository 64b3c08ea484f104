package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"searchwatch/internal/search"
	"searchwatch/pkg/logx"
)

// WebhookType is the type tag destinations use to select this courier.
const WebhookType = "webhook"

// Webhook POSTs result batches as JSON to a destination URL. The
// destination parameter "url" selects the endpoint.
type Webhook struct {
	client *http.Client
	log    logx.Logger
}

func NewWebhook(timeout time.Duration, log logx.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Webhook{
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (w *Webhook) Type() string        { return WebhookType }
func (w *Webhook) DisplayName() string { return "Webhook POST" }

func (w *Webhook) RequiredFields() map[string]FieldKind {
	return map[string]FieldKind{"url": FieldString}
}

// webhookPayload is the wire shape of one delivery.
type webhookPayload struct {
	WorkspaceID string          `json:"workspaceId"`
	SearchID    string          `json:"searchId"`
	SearchTitle string          `json:"searchTitle"`
	UserID      string          `json:"userId"`
	Results     []search.Result `json:"results"`
}

func (w *Webhook) Deliver(ctx context.Context, d Delivery, cb Callbacks) {
	raw, ok := d.Parameters["url"].(string)
	if !ok || raw == "" {
		cb.err(fmt.Errorf("courier: webhook destination %q: missing parameter %q", d.DestinationID, "url"))
		return
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		cb.err(fmt.Errorf("courier: webhook destination %q: bad url %q", d.DestinationID, raw))
		return
	}

	body, err := json.Marshal(webhookPayload{
		WorkspaceID: d.WorkspaceID,
		SearchID:    d.SearchID,
		SearchTitle: d.SearchTitle,
		UserID:      d.UserID,
		Results:     d.Results,
	})
	if err != nil {
		cb.err(fmt.Errorf("courier: webhook encode: %w", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		cb.err(fmt.Errorf("courier: webhook request: %w", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		cb.err(fmt.Errorf("courier: webhook post to %q: %w", u.Host, err))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		w.log.Info("webhook delivery sent",
			logx.String("search", d.SearchID),
			logx.String("host", u.Host),
			logx.Int("results", len(d.Results)))
		cb.success()
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		cb.warn(fmt.Sprintf("endpoint %q answered redirect %d", u.Host, resp.StatusCode))
		cb.success()
	default:
		cb.err(fmt.Errorf("courier: webhook %q answered %d", u.Host, resp.StatusCode))
	}
}
