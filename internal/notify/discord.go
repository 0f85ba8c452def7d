package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordConfig configures a Discord channel. A webhook URL takes
// precedence over the bot token.
type DiscordConfig struct {
	BotToken   string
	ChannelID  string
	WebhookURL string
	Username   string
}

// Discord posts announcements through a webhook or as the bot.
type Discord struct {
	session      *discordgo.Session
	cfg          DiscordConfig
	webhookID    string
	webhookToken string
	logger       *zap.Logger
}

// NewDiscord creates a Discord channel. No gateway connection is opened;
// messages go over REST only.
func NewDiscord(cfg DiscordConfig, logger *zap.Logger) (*Discord, error) {
	token := ""
	if cfg.BotToken != "" {
		token = "Bot " + cfg.BotToken
	}
	session, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	d := &Discord{session: session, cfg: cfg, logger: logger}
	if cfg.WebhookURL != "" {
		d.webhookID, d.webhookToken, err = parseWebhook(cfg.WebhookURL)
		if err != nil {
			return nil, err
		}
	} else if cfg.BotToken == "" || cfg.ChannelID == "" {
		return nil, errors.New("discord: need a webhook url or bot token and channel id")
	}
	return d, nil
}

// parseWebhook extracts id and token from
// https://discord.com/api/webhooks/<id>/<token>.
func parseWebhook(url string) (id, token string, err error) {
	parts := strings.Split(strings.TrimRight(url, "/"), "/")
	for i, p := range parts {
		if p == "webhooks" && i+2 < len(parts) {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("discord: malformed webhook url")
}

func (d *Discord) Platform() string { return "discord" }

// Post sends text to the webhook or channel.
func (d *Discord) Post(ctx context.Context, text string) error {
	// the header line uses Slack's *bold*; Discord wants **bold**
	text = strings.Replace(text, "*[", "**[", 1)
	text = strings.Replace(text, "*\n", "**\n", 1)

	if d.webhookID != "" {
		params := &discordgo.WebhookParams{
			Content:  text,
			Username: d.cfg.Username,
		}
		if _, err := d.session.WebhookExecute(d.webhookID, d.webhookToken, false, params, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord webhook execute: %w", err)
		}
		return nil
	}
	if _, err := d.session.ChannelMessageSend(d.cfg.ChannelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Close releases the session.
func (d *Discord) Close() error {
	return d.session.Close()
}
