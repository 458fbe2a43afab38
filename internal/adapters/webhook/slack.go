package webhook

import (
	"context"
	"time"

	"github.com/slack-go/slack"

	"follower-radar/internal/infra/metrics"
	"follower-radar/internal/usecase/notify"
)

// SlackSender доставляет уведомления в Slack-совместимый вебхук.
type SlackSender struct {
	username string
	iconURL  string
}

var _ notify.Sender = (*SlackSender)(nil)

// NewSlackSender создаёт отправителя с переопределением имени и иконки бота.
func NewSlackSender(username, iconURL string) *SlackSender {
	return &SlackSender{username: username, iconURL: iconURL}
}

// Send отправляет сообщение в вебхук получателя.
func (s *SlackSender) Send(ctx context.Context, d notify.Delivery) error {
	var accessory *slack.Accessory
	if d.ImageURL != "" {
		accessory = slack.NewAccessory(slack.NewImageBlockElement(d.ImageURL, "profile image"))
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject("plain_text", d.Message.Header, false, false),
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", d.Message.Text, false, false),
			nil,
			accessory,
		),
		slack.NewContextBlock(
			"",
			slack.NewTextBlockObject("mrkdwn", d.Message.Footer, false, false),
		),
	}

	msg := slack.WebhookMessage{
		Username: s.username,
		IconURL:  s.iconURL,
		Channel:  d.Channel,
		Blocks:   &slack.Blocks{BlockSet: blocks},
	}

	start := time.Now()
	err := slack.PostWebhookContext(ctx, d.WebhookURL, &msg)
	metrics.ObserveNetworkRequest("webhook", "post", "slack", start, err)
	return err
}
