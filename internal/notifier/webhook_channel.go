package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultChannelTimeout = 10 * time.Second

// WebhookEnvelope is the JSON payload POSTed to webhook endpoints.
type WebhookEnvelope struct {
	// Type identifies the notification kind.
	Type string `json:"type"`
	// SchemaVersion allows consumers to detect breaking changes.
	SchemaVersion string  `json:"schemaVersion"`
	Timestamp     string  `json:"timestamp"`
	Data          Message `json:"data"`
}

// WebhookChannel POSTs a JSON envelope to a generic HTTP endpoint.
type WebhookChannel struct {
	httpClient *http.Client
	logger     *zap.Logger
	url        string
	authToken  string
}

// NewWebhookChannel creates a WebhookChannel. A zero timeout uses 10s.
func NewWebhookChannel(logger *zap.Logger, url, authToken string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = defaultChannelTimeout
	}
	return &WebhookChannel{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("webhook-channel"),
		url:        url,
		authToken:  authToken,
	}
}

// Name implements Channel.
func (wc *WebhookChannel) Name() string { return ChannelWebhook }

// Send implements Channel.
func (wc *WebhookChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(WebhookEnvelope{
		Type:          "agent-commander.notification",
		SchemaVersion: "1",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Data:          msg,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	if err := postJSON(ctx, wc.httpClient, wc.url, wc.authToken, body); err != nil {
		return fmt.Errorf("webhook %s: %w", RedactURL(wc.url), err)
	}
	wc.logger.Debug("Webhook delivered", zap.String("url", RedactURL(wc.url)), zap.String("kind", string(msg.Kind)))
	return nil
}

// StatusError reports a non-2xx response from a channel endpoint.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string { return fmt.Sprintf("endpoint returned HTTP %d", e.StatusCode) }

// postJSON performs a single POST. There is no retry.
func postJSON(ctx context.Context, client *http.Client, url, token string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		// Drain and close body to reuse connections.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}
