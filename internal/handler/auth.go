package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/TheRealDuckers/the-hackers/internal/auth"
	"github.com/TheRealDuckers/the-hackers/internal/identity"
	"github.com/TheRealDuckers/the-hackers/internal/logging"
	"github.com/TheRealDuckers/the-hackers/internal/notify"
)

// AuthOptions holds the settings the login flow needs.
type AuthOptions struct {
	JWTSecret   string
	FrontendURL string
	DevMode     bool
	SessionTTL  time.Duration
}

// AuthHandler handles authentication requests.
type AuthHandler struct {
	authService *auth.AuthService
	states      auth.StateStore
	gate        *identity.Gate
	guard       *Guard
	notifier    notify.Notifier
	opts        AuthOptions
	log         logging.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(s *auth.AuthService, states auth.StateStore, gate *identity.Gate, notifier notify.Notifier, opts AuthOptions, log logging.Logger) *AuthHandler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	return &AuthHandler{
		authService: s,
		states:      states,
		gate:        gate,
		guard:       NewGuard(gate, opts.JWTSecret, opts.DevMode),
		notifier:    notifier,
		opts:        opts,
		log:         log.With("handler", "auth"),
	}
}

// Login starts the OAuth flow with a single-use state value.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	state := auth.NewState()
	if err := h.states.Save(ctx, state); err != nil {
		h.log.Error(ctx, "save oauth state failed", "error", err)
		return errorResponse(http.StatusInternalServerError, "failed to start login"), nil
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": h.authService.GenerateAuthURL(state),
		},
	}, nil
}

// Callback completes the OAuth flow: it checks the state, exchanges the
// code, applies the allow-list and issues the session cookie.
func (h *AuthHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ok, err := h.states.Consume(ctx, req.QueryStringParameters["state"])
	if err != nil {
		h.log.Error(ctx, "consume oauth state failed", "error", err)
		return errorResponse(http.StatusInternalServerError, "failed to verify login"), nil
	}
	if !ok {
		return errorResponse(http.StatusBadRequest, "invalid or expired state"), nil
	}

	code := req.QueryStringParameters["code"]
	if code == "" {
		return errorResponse(http.StatusBadRequest, "missing code"), nil
	}

	token, err := h.authService.ExchangeCode(ctx, code)
	if err != nil {
		h.log.Warn(ctx, "code exchange failed", "error", err)
		return errorResponse(http.StatusBadGateway, "failed to exchange code"), nil
	}

	id, err := h.authService.FetchIdentity(ctx, token)
	if err != nil {
		h.log.Warn(ctx, "identity lookup failed", "error", err)
		return errorResponse(http.StatusBadGateway, "failed to get user info"), nil
	}

	key, err := h.gate.Authorize(id)
	if err != nil {
		h.log.Info(ctx, "login rejected", "email", identity.NormalizeEmail(id.Email))
		resp := errorFor(err)
		resp.MultiValueHeaders = map[string][]string{
			"Set-Cookie": {clearSessionCookie(h.opts.DevMode)},
		}
		return resp, nil
	}
	id.UserKey = key

	// A failed upsert only costs the Slack lookup for "Not Me" reports.
	if _, err := h.authService.SaveUser(ctx, key, id, token); err != nil {
		h.log.Warn(ctx, "save user failed", "user", key, "error", err)
	}

	resp, err := h.startSession(ctx, id)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "failed to sign token"), nil
	}
	return resp, nil
}

// DemoLogin signs in as ?email= without the provider. Dev mode only; the
// allow-list still applies.
func (h *AuthHandler) DemoLogin(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if !h.opts.DevMode {
		return errorResponse(http.StatusNotFound, "not found"), nil
	}

	id := identity.Identity{
		DisplayName: strings.TrimSpace(req.QueryStringParameters["name"]),
		Email:       req.QueryStringParameters["email"],
	}
	if id.DisplayName == "" {
		id.DisplayName, _, _ = strings.Cut(id.Email, "@")
	}

	key, err := h.gate.Authorize(id)
	if err != nil {
		return errorFor(err), nil
	}
	id.UserKey = key
	if _, err := h.authService.SaveUser(ctx, key, id, nil); err != nil {
		h.log.Warn(ctx, "save user failed", "user", key, "error", err)
	}

	resp, err := h.startSession(ctx, id)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "failed to sign token"), nil
	}
	return resp, nil
}

func (h *AuthHandler) startSession(ctx context.Context, id identity.Identity) (events.APIGatewayProxyResponse, error) {
	signed, err := IssueSession(id, h.opts.JWTSecret, h.opts.SessionTTL)
	if err != nil {
		h.log.Error(ctx, "sign session failed", "error", err)
		return events.APIGatewayProxyResponse{}, err
	}

	if err := h.notifier.LoginNotice(ctx, notify.Recipient{SlackID: id.SlackID, Name: id.DisplayName}); err != nil {
		h.log.Warn(ctx, "login notice failed", "user", id.UserKey, "error", err)
	}
	h.log.Info(ctx, "login", "user", id.UserKey)

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": fmt.Sprintf("%s/?success=true", strings.TrimSuffix(h.opts.FrontendURL, "/")),
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {sessionCookie(signed, h.opts.SessionTTL, h.opts.DevMode)},
		},
	}, nil
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Body:       `{"success":true}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {clearSessionCookie(h.opts.DevMode)},
		},
	}, nil
}

// Me returns the signed-in identity. When a provider token is on file the
// identity is fetched again and re-checked against the allow-list, so a
// changed e-mail ends the session.
func (h *AuthHandler) Me(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	id, deny := h.guard.Authenticate(req)
	if deny != nil {
		return *deny, nil
	}

	rec, err := h.authService.GetUser(ctx, id.UserKey)
	if err != nil {
		if !errors.Is(err, auth.ErrUserNotFound) {
			h.log.Warn(ctx, "get user failed", "user", id.UserKey, "error", err)
		}
		return jsonResponse(http.StatusOK, id), nil
	}
	if rec.DisplayName != "" {
		id.DisplayName = rec.DisplayName
	}

	token, err := h.authService.AccessToken(ctx, rec)
	if err != nil {
		if !errors.Is(err, auth.ErrNoAccessToken) {
			h.log.Warn(ctx, "access token unusable", "user", id.UserKey, "error", err)
		}
		return jsonResponse(http.StatusOK, id), nil
	}

	// Provider failures fall back to the session; it is still signed and unexpired.
	fresh, err := h.authService.FetchIdentity(ctx, token)
	if err != nil {
		h.log.Warn(ctx, "identity refresh failed", "user", id.UserKey, "error", err)
		return jsonResponse(http.StatusOK, id), nil
	}
	if _, err := h.gate.Authorize(fresh); err != nil {
		h.log.Info(ctx, "session revoked", "user", id.UserKey, "email", identity.NormalizeEmail(fresh.Email))
		resp := errorFor(err)
		resp.MultiValueHeaders = map[string][]string{
			"Set-Cookie": {clearSessionCookie(h.opts.DevMode)},
		}
		return resp, nil
	}
	fresh.UserKey = id.UserKey
	return jsonResponse(http.StatusOK, fresh), nil
}
