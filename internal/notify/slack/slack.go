// Package slack delivers Mission Control alerts and digests to a Slack
// channel via the Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/missionctl/internal/models"
	"github.com/zulandar/missionctl/internal/report"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Notifier posts alerts to a single Slack channel.
type Notifier struct {
	client    slackClient
	channelID string
}

// Opts holds parameters for creating a Slack Notifier.
type Opts struct {
	Token     string
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.Client == nil && opts.Token == "" {
		return nil, fmt.Errorf("slack: token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.Token)
	}
	return &Notifier{client: client, channelID: opts.ChannelID}, nil
}

// Notify posts one alert as an attachment, colored by severity.
func (n *Notifier) Notify(ctx context.Context, a models.Alert) error {
	att := slackapi.Attachment{
		Color: colorFor(a.Severity),
		Title: titleFor(a),
		Text:  bodyFor(a),
		Fields: []slackapi.AttachmentField{
			{Title: "From", Value: a.FromAgent, Short: true},
			{Title: "Accountable", Value: a.ToAgent, Short: true},
			{Title: "Message status", Value: a.StatusLabel, Short: true},
			{Title: "Opened", Value: a.SentAt.Format(time.RFC3339), Short: true},
		},
	}
	return n.post(ctx, slackapi.MsgOptionAttachments(att))
}

// Post sends a plain text message, used for daily digests.
func (n *Notifier) Post(ctx context.Context, title, body string) error {
	text := title
	if body != "" {
		text += "\n```" + body + "```"
	}
	return n.post(ctx, slackapi.MsgOptionText(text, false))
}

// post calls PostMessage, retrying when Slack rate-limits us.
func (n *Notifier) post(ctx context.Context, opt slackapi.MsgOption) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, _, err := n.client.PostMessage(n.channelID, opt)
		if err == nil {
			return nil
		}
		lastErr = err

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return fmt.Errorf("slack: post to %s: %w", n.channelID, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("slack: post to %s: %w", n.channelID, ctx.Err())
		case <-time.After(rle.RetryAfter):
		}
	}
	return fmt.Errorf("slack: post to %s: rate limited after %d attempts: %w", n.channelID, maxRetries, lastErr)
}

func colorFor(s models.Severity) string {
	if s == models.SeverityCritical {
		return "#d00000"
	}
	return "#e8a317"
}

func titleFor(a models.Alert) string {
	verb := "SLA breach"
	if a.Type == models.AlertLoopBroken {
		verb = "Loop broken"
	}
	return fmt.Sprintf("%s: %s on loop %d", verb, a.Type, a.LoopID)
}

func bodyFor(a models.Alert) string {
	age := report.FormatDuration(time.Since(a.SentAt))
	body := fmt.Sprintf("%s -> %s has been waiting %s.", a.FromAgent, a.ToAgent, age)
	if a.EscalatedTo != "" {
		body += fmt.Sprintf(" Escalated to %s.", a.EscalatedTo)
	}
	return body
}
