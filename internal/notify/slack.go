package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"
)

// ErrNoAdmin is returned by SecurityAlert when no admin recipient is configured.
var ErrNoAdmin = errors.New("slack admin user id not configured")

// SlackAPI is the subset of *slack.Client used by SlackNotifier.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// WebhookFunc posts an incoming-webhook message.
type WebhookFunc func(ctx context.Context, url string, msg *slack.WebhookMessage) error

// SlackNotifier sends direct messages with the bot token and edit notices
// to an incoming webhook.
type SlackNotifier struct {
	api        SlackAPI
	adminID    string
	webhookURL string
	postHook   WebhookFunc
}

// NewSlackNotifier creates a notifier. An empty webhookURL disables edit notices.
func NewSlackNotifier(api SlackAPI, adminID, webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		api:        api,
		adminID:    adminID,
		webhookURL: webhookURL,
		postHook:   slack.PostWebhookContext,
	}
}

// NewSlackNotifierFromToken builds the slack client from a bot token.
func NewSlackNotifierFromToken(token, adminID, webhookURL string, opts ...slack.Option) *SlackNotifier {
	return NewSlackNotifier(slack.New(token, opts...), adminID, webhookURL)
}

// LoginNotice DMs the user that they just signed in, with a "Not Me" button.
// Users without a Slack id are skipped.
func (n *SlackNotifier) LoginNotice(ctx context.Context, to Recipient) error {
	if to.SlackID == "" {
		return nil
	}

	text := fmt.Sprintf("Hey %s! You just logged in to *The Hackers* platform.\nIf this wasn't you, notify security by pressing the button below.", to.Name)
	button := slack.NewButtonBlockElement(
		NotMeActionID,
		to.SlackID,
		slack.NewTextBlockObject(slack.PlainTextType, "Not Me", false, false),
	).WithStyle(slack.StyleDanger)

	_, _, err := n.api.PostMessageContext(ctx, to.SlackID,
		slack.MsgOptionText(fmt.Sprintf("Hey %s! You just logged in to The Hackers platform.", to.Name), false),
		slack.MsgOptionBlocks(
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
			slack.NewActionBlock("", button),
		),
	)
	if err != nil {
		return fmt.Errorf("post login notice: %w", err)
	}
	return nil
}

// SecurityAlert DMs the admin about a sign-in the reporter says they did not make.
func (n *SlackNotifier) SecurityAlert(ctx context.Context, r Report) error {
	if n.adminID == "" {
		return ErrNoAdmin
	}

	text := fmt.Sprintf(":warning: Someone clicked *Not Me* on a login alert.\nUser: <@%s>", r.ReporterSlackID)
	if r.User != nil {
		text += fmt.Sprintf("\nAccount: %s (%s), last sign-in %s.",
			r.User.DisplayName, r.User.Email, r.User.LastLoginAt.Format("2006-01-02 15:04 MST"))
	}

	if _, _, err := n.api.PostMessageContext(ctx, n.adminID, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("post security alert: %w", err)
	}
	return nil
}

// EditNotice posts "<editor> edited <path>" to the team webhook.
func (n *SlackNotifier) EditNotice(ctx context.Context, path, editorName string) error {
	if n.webhookURL == "" {
		return nil
	}
	msg := &slack.WebhookMessage{Text: fmt.Sprintf("%s edited `%s` via The Hackers platform", editorName, path)}
	if err := n.postHook(ctx, n.webhookURL, msg); err != nil {
		return fmt.Errorf("post edit notice: %w", err)
	}
	return nil
}
