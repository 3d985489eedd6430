// Package slack implements a notifier.Notifier for Slack incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ccivlcid/agentoffice-sub001/internal/port/notifier"
)

const (
	providerName = "slack"
	maxItems     = 20
)

// Notifier sends notifications to Slack via incoming webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Slack notifier with the given webhook URL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *Notifier) Name() string { return providerName }

// slackMessage is the Slack Block Kit message payload.
type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func buildMessage(nt notifier.Notification) slackMessage {
	header := fmt.Sprintf("%s %s", levelTag(nt.Level), nt.Title)
	msg := slackMessage{
		Text: header,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: header}},
		},
	}
	if nt.Message != "" {
		msg.Blocks = append(msg.Blocks, slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: nt.Message}})
	}
	if len(nt.Items) > 0 {
		items := nt.Items
		more := 0
		if len(items) > maxItems {
			more = len(items) - maxItems
			items = items[:maxItems]
		}
		var b strings.Builder
		for _, it := range items {
			fmt.Fprintf(&b, "• `%s`\n", it)
		}
		if more > 0 {
			fmt.Fprintf(&b, "_and %d more_", more)
		}
		msg.Blocks = append(msg.Blocks, slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: strings.TrimRight(b.String(), "\n")}})
	}
	ctxText := fmt.Sprintf("_%s_ task `%s`", nt.Event, nt.TaskID)
	msg.Blocks = append(msg.Blocks, slackBlock{Type: "context", Elements: []slackText{{Type: "mrkdwn", Text: ctxText}}})
	return msg
}

func (n *Notifier) Send(ctx context.Context, nt notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	body, err := json.Marshal(buildMessage(nt))
	if err != nil {
		return fmt.Errorf("slack marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func levelTag(level notifier.Level) string {
	switch level {
	case notifier.LevelSuccess:
		return "[OK]"
	case notifier.LevelError:
		return "[ERROR]"
	case notifier.LevelWarning:
		return "[WARN]"
	default:
		return "[INFO]"
	}
}
