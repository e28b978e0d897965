// Package notify sends light tracking incidents to a Slack incoming webhook.
package notify

import (
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackNotifier posts desync and recalibration events. It satisfies the
// lights plugin's Notifier interface.
type SlackNotifier struct {
	webhookURL string
	logger     *zap.Logger
	post       func(url string, msg *slack.WebhookMessage) error
}

// NewSlackNotifier creates a notifier for the given incoming webhook URL.
func NewSlackNotifier(webhookURL string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		logger:     logger.Named("slack"),
		post:       slack.PostWebhook,
	}
}

// LightDesynced reports a light whose believed mode had to be abandoned.
func (n *SlackNotifier) LightDesynced(light, reason string) {
	n.send(slack.Attachment{
		Color: "danger",
		Title: light + ": mode tracking lost",
		Text:  reason,
	})
}

// LightRecalibrated reports a completed reset recalibration.
func (n *SlackNotifier) LightRecalibrated(light, mode string) {
	n.send(slack.Attachment{
		Color: "good",
		Title: light + ": recalibrated",
		Text:  "believed mode is now " + mode,
	})
}

// send posts asynchronously. The lights manager notifies from tracker
// callbacks, which must not block on network I/O.
func (n *SlackNotifier) send(attachment slack.Attachment) {
	go func() {
		err := n.post(n.webhookURL, &slack.WebhookMessage{
			Attachments: []slack.Attachment{attachment},
		})
		if err != nil {
			n.logger.Error("Failed to post Slack notification",
				zap.String("title", attachment.Title),
				zap.Error(err))
		}
	}()
}
