// Package discord delivers Mission Control alerts and digests to a Discord
// channel via the REST API.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/missionctl/internal/models"
	"github.com/zulandar/missionctl/internal/report"
)

// session abstracts the discordgo methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts alerts to a single Discord channel. Alerts go over plain
// REST; no Gateway connection is needed for outbound-only traffic.
type Notifier struct {
	sess      session
	channelID string
}

// Opts holds parameters for creating a Discord Notifier.
type Opts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel is required")
	}
	sess := opts.Session
	if sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		sess = dg
	}
	return &Notifier{sess: sess, channelID: opts.ChannelID}, nil
}

// Notify posts one alert as an embed, colored by severity.
func (n *Notifier) Notify(ctx context.Context, a models.Alert) error {
	embed := &discordgo.MessageEmbed{
		Title:       titleFor(a),
		Description: bodyFor(a),
		Color:       colorFor(a.Severity),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "From", Value: a.FromAgent, Inline: true},
			{Name: "Accountable", Value: a.ToAgent, Inline: true},
			{Name: "Message status", Value: a.StatusLabel, Inline: true},
		},
		Timestamp: a.SentAt.Format(time.RFC3339),
	}
	_, err := n.sess.ChannelMessageSendComplex(n.channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: post to %s: %w", n.channelID, err)
	}
	return nil
}

// Post sends a plain text message, used for daily digests.
func (n *Notifier) Post(ctx context.Context, title, body string) error {
	content := "**" + title + "**"
	if body != "" {
		content += "\n```" + body + "```"
	}
	_, err := n.sess.ChannelMessageSendComplex(n.channelID, &discordgo.MessageSend{
		Content: content,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: post to %s: %w", n.channelID, err)
	}
	return nil
}

func colorFor(s models.Severity) int {
	if s == models.SeverityCritical {
		return 0xd00000
	}
	return 0xe8a317
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
