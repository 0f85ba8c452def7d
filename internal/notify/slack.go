package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackConfig configures a Slack channel.
type SlackConfig struct {
	BotToken  string
	ChannelID string
	Username  string
	IconEmoji string
	// APIURL overrides the Slack Web API base URL.
	APIURL string
}

// Slack posts announcements with the Web API.
type Slack struct {
	client *slack.Client
	cfg    SlackConfig
	logger *zap.Logger
}

// NewSlack creates a Slack channel.
func NewSlack(cfg SlackConfig, logger *zap.Logger) *Slack {
	opts := []slack.Option{}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &Slack{client: slack.New(cfg.BotToken, opts...), cfg: cfg, logger: logger}
}

func (s *Slack) Platform() string { return "slack" }

// Post sends text to the configured channel.
func (s *Slack) Post(ctx context.Context, text string) error {
	opts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
	}
	if s.cfg.Username != "" {
		opts = append(opts, slack.MsgOptionUsername(s.cfg.Username))
	}
	if s.cfg.IconEmoji != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(s.cfg.IconEmoji))
	}

	_, _, err := s.client.PostMessageContext(ctx, s.cfg.ChannelID, opts...)
	if err != nil {
		s.logger.Error("slack send failed",
			zap.String("channel", s.cfg.ChannelID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}
