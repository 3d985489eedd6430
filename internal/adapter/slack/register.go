package slack

import (
	"fmt"

	"github.com/ccivlcid/agentoffice-sub001/internal/port/notifier"
)

// settingWebhookURL is the channel setting holding the incoming-webhook URL.
const settingWebhookURL = "webhook_url"

func init() {
	notifier.Register(providerName, func(settings map[string]string) (notifier.Notifier, error) {
		url := settings[settingWebhookURL]
		if url == "" {
			return nil, fmt.Errorf("slack: %s: %w", settingWebhookURL, notifier.ErrNotConfigured)
		}
		return NewNotifier(url), nil
	})
}
