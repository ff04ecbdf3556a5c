package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SlackChannel posts to a Slack incoming webhook.
type SlackChannel struct {
	httpClient *http.Client
	logger     *zap.Logger
	url        string
}

// NewSlackChannel creates a SlackChannel. A zero timeout uses 10s.
func NewSlackChannel(logger *zap.Logger, url string, timeout time.Duration) *SlackChannel {
	if timeout <= 0 {
		timeout = defaultChannelTimeout
	}
	return &SlackChannel{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("slack-channel"),
		url:        url,
	}
}

// Name implements Channel.
func (sc *SlackChannel) Name() string { return ChannelSlack }

// Send implements Channel.
func (sc *SlackChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(map[string]string{"text": slackText(msg)})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	if err := postJSON(ctx, sc.httpClient, sc.url, "", body); err != nil {
		return fmt.Errorf("slack %s: %w", RedactURL(sc.url), err)
	}
	return nil
}

func slackText(msg Message) string {
	var b strings.Builder
	b.WriteString("*")
	b.WriteString(msg.Title)
	b.WriteString("*")
	if msg.Body != "" {
		b.WriteString("\n")
		b.WriteString(msg.Body)
	}
	if msg.Link != "" {
		fmt.Fprintf(&b, "\n<%s|Open session>", msg.Link)
	}
	return b.String()
}
