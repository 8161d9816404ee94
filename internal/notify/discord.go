package notify

import (
	"context"
	"fmt"
	"net/http"
)

// discordContentLimit is the character cap Discord enforces on a message.
const discordContentLimit = 2000

// discordMessage is the webhook request body.
type discordMessage struct {
	Content string `json:"content"`
}

// DiscordSender delivers alerts through a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender builds a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     newHTTPClient(),
	}
}

// Send posts to the webhook. Discord answers 204 No Content on success; the
// title is rendered bold via Discord markdown. Content past the Discord
// cap is cut short rather than rejected.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := fmt.Sprintf("**%s**\n%s", title, message)
	if r := []rune(content); len(r) > discordContentLimit {
		content = string(r[:discordContentLimit-1]) + "…"
	}

	if err := postJSON(ctx, d.client, d.webhookURL, discordMessage{Content: content}); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
