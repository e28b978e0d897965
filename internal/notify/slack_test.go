package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type postedWebhook struct {
	url string
	msg *slack.WebhookMessage
}

func newTestNotifier() (*SlackNotifier, chan postedWebhook) {
	posted := make(chan postedWebhook, 4)
	n := NewSlackNotifier("https://hooks.slack.com/services/T000/B000/XXXX", zap.NewNop())
	n.post = func(url string, msg *slack.WebhookMessage) error {
		posted <- postedWebhook{url: url, msg: msg}
		return nil
	}
	return n, posted
}

func waitForWebhook(t *testing.T, posted chan postedWebhook) postedWebhook {
	t.Helper()
	select {
	case p := <-posted:
		return p
	case <-time.After(time.Second):
		t.Fatal("no webhook message posted")
		return postedWebhook{}
	}
}

func TestSlackNotifier_LightDesynced(t *testing.T) {
	n, posted := newTestNotifier()

	n.LightDesynced("pool", "unplanned power cycle during setting_mode")

	p := waitForWebhook(t, posted)
	assert.Equal(t, "https://hooks.slack.com/services/T000/B000/XXXX", p.url)
	require.Len(t, p.msg.Attachments, 1)
	assert.Equal(t, "danger", p.msg.Attachments[0].Color)
	assert.Equal(t, "pool: mode tracking lost", p.msg.Attachments[0].Title)
	assert.Equal(t, "unplanned power cycle during setting_mode", p.msg.Attachments[0].Text)
}

func TestSlackNotifier_LightRecalibrated(t *testing.T) {
	n, posted := newTestNotifier()

	n.LightRecalibrated("spa", "voodoo_lounge")

	p := waitForWebhook(t, posted)
	require.Len(t, p.msg.Attachments, 1)
	assert.Equal(t, "good", p.msg.Attachments[0].Color)
	assert.Equal(t, "spa: recalibrated", p.msg.Attachments[0].Title)
	assert.Equal(t, "believed mode is now voodoo_lounge", p.msg.Attachments[0].Text)
}

func TestSlackNotifier_PostFailureIsSwallowed(t *testing.T) {
	n := NewSlackNotifier("https://hooks.slack.com/services/T000/B000/XXXX", zap.NewNop())
	attempted := make(chan struct{}, 1)
	n.post = func(string, *slack.WebhookMessage) error {
		attempted <- struct{}{}
		return errors.New("webhook gone")
	}

	// A failing webhook must not panic or block the caller.
	n.LightDesynced("pool", "confirmation timeout")

	select {
	case <-attempted:
	case <-time.After(time.Second):
		t.Fatal("webhook post never attempted")
	}
}
