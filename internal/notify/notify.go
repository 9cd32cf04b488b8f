// Package notify sends chat messages on sign-in, security reports and saves.
// Every send is best effort: callers log failures and carry on.
package notify

import (
	"context"

	"github.com/TheRealDuckers/the-hackers/internal/model"
)

// NotMeActionID is the action id of the button attached to login notices.
const NotMeActionID = "not_me_pressed"

// Recipient is the user a login notice is sent to.
type Recipient struct {
	SlackID string
	Name    string
}

// Report describes a "Not Me" press. User is nil when no stored user
// matches the reporter.
type Report struct {
	ReporterSlackID string
	User            *model.UserRecord
}

// Notifier is the outbound chat collaborator.
type Notifier interface {
	LoginNotice(ctx context.Context, to Recipient) error
	SecurityAlert(ctx context.Context, r Report) error
	EditNotice(ctx context.Context, path, editorName string) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) LoginNotice(context.Context, Recipient) error     { return nil }
func (Nop) SecurityAlert(context.Context, Report) error      { return nil }
func (Nop) EditNotice(context.Context, string, string) error { return nil }
