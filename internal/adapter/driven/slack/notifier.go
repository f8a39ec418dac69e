// Package slack implements the chat notifier port on a Slack incoming webhook.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"
	slackapi "github.com/slack-go/slack"

	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ChatNotifier = (*Notifier)(nil)

// Notifier posts deployment summaries to one webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Notifier. A nil httpClient gets a 10s timeout client.
func NewNotifier(webhookURL string, httpClient *http.Client) *Notifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{webhookURL: webhookURL, httpClient: httpClient}
}

// Post renders message as a single colored attachment.
func (n *Notifier) Post(ctx context.Context, message driven.ChatMessage) error {
	attachment := slackapi.Attachment{
		Color:     message.Color,
		Fallback:  message.Text,
		Title:     message.Text,
		TitleLink: message.Link,
		Fields: lo.Map(message.Fields, func(f driven.ChatField, _ int) slackapi.AttachmentField {
			return slackapi.AttachmentField{Title: f.Title, Value: f.Value, Short: f.Short}
		}),
		Footer: "staticdeploy",
		Ts:     slackTimestamp(time.Now()),
	}

	msg := &slackapi.WebhookMessage{
		Text:        message.Text,
		Attachments: []slackapi.Attachment{attachment},
	}
	if err := slackapi.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.httpClient, msg); err != nil {
		return fmt.Errorf("posting to slack webhook: %w", err)
	}
	return nil
}

func slackTimestamp(t time.Time) json.Number {
	return json.Number(strconv.FormatInt(t.Unix(), 10))
}
