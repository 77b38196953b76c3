package delivery

import (
	"context"
	"errors"

	"github.com/slack-go/slack"
)

// SlackTransport posts to Slack incoming webhooks. The target is the
// webhook URL.
type SlackTransport struct {
	// Username is used when the channel metadata sets none.
	Username string

	post func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewSlackTransport returns a transport backed by slack-go.
func NewSlackTransport(username string) *SlackTransport {
	return &SlackTransport{Username: username, post: slack.PostWebhookContext}
}

// Send implements Transport.
func (s *SlackTransport) Send(ctx context.Context, req Request, target string) error {
	if target == "" {
		return errors.New("slack: webhook url required")
	}
	msg := &slack.WebhookMessage{
		Text:     slackText(req),
		Username: metaString(req.Metadata, "username"),
		Channel:  metaString(req.Metadata, "channel"),
	}
	if msg.Username == "" {
		msg.Username = s.Username
	}
	post := s.post
	if post == nil {
		post = slack.PostWebhookContext
	}
	return post(ctx, target, msg)
}

func slackText(req Request) string {
	if req.Subject == "" {
		return req.Message
	}
	return "*" + req.Subject + "*\n" + req.Message
}
