package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
	"github.com/slack-go/slack"

	"github.com/TheRealDuckers/the-hackers/internal/auth"
	"github.com/TheRealDuckers/the-hackers/internal/logging"
	"github.com/TheRealDuckers/the-hackers/internal/model"
	"github.com/TheRealDuckers/the-hackers/internal/notify"
)

const notMeReply = "Thanks, we've alerted the admin. If nothing happens in about 15 minutes, reach out to them directly."

// UserFinder looks up stored users by Slack id.
type UserFinder interface {
	FindBySlackID(ctx context.Context, slackID string) (*model.UserRecord, error)
}

// SlackHandler receives Slack interactivity callbacks.
type SlackHandler struct {
	users         UserFinder
	notifier      notify.Notifier
	signingSecret string
	log           logging.Logger
}

// NewSlackHandler creates a new SlackHandler. An empty signingSecret
// disables the endpoint.
func NewSlackHandler(users UserFinder, notifier notify.Notifier, signingSecret string, log logging.Logger) *SlackHandler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &SlackHandler{users: users, notifier: notifier, signingSecret: signingSecret, log: log.With("handler", "slack")}
}

// Actions handles block actions. A "Not Me" press alerts the admin.
func (h *SlackHandler) Actions(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if h.signingSecret == "" {
		return errorResponse(http.StatusNotFound, "not found"), nil
	}

	body, err := requestBody(req)
	if err != nil {
		return errorResponse(http.StatusBadRequest, "invalid request body"), nil
	}

	hdr := http.Header{}
	for k, v := range req.Headers {
		hdr.Set(k, v)
	}
	for k, vs := range req.MultiValueHeaders {
		for _, v := range vs {
			hdr.Add(k, v)
		}
	}
	sv, err := slack.NewSecretsVerifier(hdr, h.signingSecret)
	if err != nil {
		return errorResponse(http.StatusUnauthorized, "invalid signature"), nil
	}
	if _, err := sv.Write(body); err != nil {
		return errorResponse(http.StatusUnauthorized, "invalid signature"), nil
	}
	if err := sv.Ensure(); err != nil {
		h.log.Warn(ctx, "slack signature rejected", "error", err)
		return errorResponse(http.StatusUnauthorized, "invalid signature"), nil
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return errorResponse(http.StatusBadRequest, "invalid form body"), nil
	}
	var cb slack.InteractionCallback
	if err := json.Unmarshal([]byte(form.Get("payload")), &cb); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid payload"), nil
	}

	if cb.Type != slack.InteractionTypeBlockActions || !hasAction(cb, notify.NotMeActionID) {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
	}

	report := notify.Report{ReporterSlackID: cb.User.ID}
	rec, err := h.users.FindBySlackID(ctx, cb.User.ID)
	switch {
	case err == nil:
		report.User = rec
	case !errors.Is(err, auth.ErrUserNotFound):
		h.log.Warn(ctx, "user lookup failed", "slack_id", cb.User.ID, "error", err)
	}

	if err := h.notifier.SecurityAlert(ctx, report); err != nil {
		h.log.Error(ctx, "security alert failed", "slack_id", cb.User.ID, "error", err)
	} else {
		h.log.Warn(ctx, "not-me reported", "slack_id", cb.User.ID)
	}

	return jsonResponse(http.StatusOK, map[string]any{
		"text":             notMeReply,
		"replace_original": false,
	}), nil
}

func hasAction(cb slack.InteractionCallback, actionID string) bool {
	for _, a := range cb.ActionCallback.BlockActions {
		if a != nil && a.ActionID == actionID {
			return true
		}
	}
	return false
}
