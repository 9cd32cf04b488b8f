package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/TheRealDuckers/the-hackers/internal/auth"
	"github.com/TheRealDuckers/the-hackers/internal/crypto"
	"github.com/TheRealDuckers/the-hackers/internal/handler"
	"github.com/TheRealDuckers/the-hackers/internal/identity"
	"github.com/TheRealDuckers/the-hackers/internal/logging"
	"github.com/TheRealDuckers/the-hackers/internal/notify"
)

// newProvider fakes the identity provider; /me reports email to holders of
// the token it hands out.
func newProvider(t *testing.T, email string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"hca_token","token_type":"Bearer"}`))
	})
	mux.HandleFunc("/api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer hca_token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, `{"identity":{"id":"ident!abc","first_name":"Alice","primary_email":%q,"slack_id":"U123"}}`, email)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type authFixture struct {
	handler  *handler.AuthHandler
	service  *auth.AuthService
	notifier *notify.Recorder
}

func newAuthFixture(t *testing.T, email string, devMode bool) *authFixture {
	t.Helper()
	srv := newProvider(t, email)
	cfg := auth.NewOAuthConfig(auth.ProviderConfig{
		ClientID:     "test-client",
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:8080/auth/callback",
		AuthorizeURL: srv.URL + "/oauth/authorize",
		TokenURL:     srv.URL + "/oauth/token",
	})
	svc := auth.NewAuthService(cfg, srv.URL+"/api/v1/me", nil, "", crypto.NewPlainEncryptor())
	rec := &notify.Recorder{}
	h := handler.NewAuthHandler(svc, auth.NewMemoryStateStore(), testGate(), rec, handler.AuthOptions{
		JWTSecret:   testJWTSecret,
		FrontendURL: "http://localhost:3000",
		DevMode:     devMode,
		SessionTTL:  time.Hour,
	}, logging.Discard())
	return &authFixture{handler: h, service: svc, notifier: rec}
}

func loginState(t *testing.T, h *handler.AuthHandler) string {
	t.Helper()
	resp, _ := h.Login(context.Background(), events.APIGatewayProxyRequest{})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	u, err := url.Parse(resp.Headers["Location"])
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state, "state in authorize URL")
	return state
}

func callback(state, code string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		QueryStringParameters: map[string]string{"state": state, "code": code},
	}
}

func sessionFrom(t *testing.T, resp events.APIGatewayProxyResponse) string {
	t.Helper()
	for _, c := range resp.MultiValueHeaders["Set-Cookie"] {
		name, rest, _ := strings.Cut(c, "=")
		if name == "session_token" {
			token, _, _ := strings.Cut(rest, ";")
			return token
		}
	}
	require.FailNow(t, "no session cookie", "%v", resp.MultiValueHeaders)
	return ""
}

func TestAuthHandler_CallbackIssuesSession(t *testing.T) {
	f := newAuthFixture(t, "Alice@X.com", false)
	ctx := context.Background()

	state := loginState(t, f.handler)
	resp, _ := f.handler.Callback(ctx, callback(state, "good-code"))
	require.Equal(t, http.StatusFound, resp.StatusCode, resp.Body)
	assert.Equal(t, "http://localhost:3000/?success=true", resp.Headers["Location"])
	cookie := resp.MultiValueHeaders["Set-Cookie"][0]
	assert.Contains(t, cookie, "SameSite=None")
	assert.Contains(t, cookie, "HttpOnly")

	id, err := handler.GetIdentity(events.APIGatewayProxyRequest{
		Headers: map[string]string{"Cookie": "session_token=" + sessionFrom(t, resp)},
	}, testJWTSecret)
	require.NoError(t, err)
	assert.Equal(t, "ident!abc", id.UserKey)
	assert.Equal(t, "U123", id.SlackID)

	require.Len(t, f.notifier.Logins, 1)
	assert.Equal(t, "U123", f.notifier.Logins[0].SlackID)
	rec, err := f.service.GetUser(ctx, "ident!abc")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", rec.Email)
	assert.NotEmpty(t, rec.EncryptedAccessToken)

	// States are single use.
	resp, _ = f.handler.Callback(ctx, callback(state, "good-code"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "replayed state")
}

func TestAuthHandler_CallbackRejected(t *testing.T) {
	f := newAuthFixture(t, "eve@x.com", false)
	ctx := context.Background()

	resp, _ := f.handler.Callback(ctx, callback(loginState(t, f.handler), "good-code"))
	require.Equal(t, http.StatusForbidden, resp.StatusCode, resp.Body)
	c := resp.MultiValueHeaders["Set-Cookie"]
	require.Len(t, c, 1)
	assert.Contains(t, c[0], "session_token=;")
	assert.Empty(t, f.notifier.Logins, "rejected login must not notify")
	_, err := f.service.GetUser(ctx, "ident!abc")
	assert.ErrorIs(t, err, auth.ErrUserNotFound, "rejected login must not store a user")
}

func TestAuthHandler_CallbackErrors(t *testing.T) {
	f := newAuthFixture(t, "alice@x.com", false)
	ctx := context.Background()

	resp, _ := f.handler.Callback(ctx, callback("forged", "good-code"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown state")

	resp, _ = f.handler.Callback(ctx, callback(loginState(t, f.handler), ""))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing code")

	resp, _ = f.handler.Callback(ctx, callback(loginState(t, f.handler), "bad-code"))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode, "failed exchange")
}

func TestAuthHandler_DemoLogin(t *testing.T) {
	ctx := context.Background()
	req := events.APIGatewayProxyRequest{QueryStringParameters: map[string]string{"email": "bob@x.com", "name": "Bob"}}

	prod := newAuthFixture(t, "alice@x.com", false)
	resp, _ := prod.handler.DemoLogin(ctx, req)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "outside dev mode")

	dev := newAuthFixture(t, "alice@x.com", true)
	resp, _ = dev.handler.DemoLogin(ctx, req)
	require.Equal(t, http.StatusFound, resp.StatusCode, resp.Body)
	assert.Contains(t, resp.MultiValueHeaders["Set-Cookie"][0], "SameSite=Lax")

	req.QueryStringParameters["email"] = "eve@x.com"
	resp, _ = dev.handler.DemoLogin(ctx, req)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "demo login off the allow-list")
}

func TestAuthHandler_MeAndLogout(t *testing.T) {
	f := newAuthFixture(t, "alice@x.com", false)
	ctx := context.Background()

	resp, _ := f.handler.Me(ctx, makeRequest(alice, "GET", "/auth/me", ""))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var id identity.Identity
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &id))
	assert.Equal(t, alice.UserKey, id.UserKey)
	assert.Equal(t, "Alice", id.DisplayName)

	resp, _ = f.handler.Me(ctx, events.APIGatewayProxyRequest{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "no session")

	resp, _ = f.handler.Logout(ctx, makeRequest(alice, "POST", "/auth/logout", ""))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.MultiValueHeaders["Set-Cookie"][0], "Max-Age=0")
}

func TestAuthHandler_MeReChecksProviderIdentity(t *testing.T) {
	ctx := context.Background()

	t.Run("still allowed", func(t *testing.T) {
		f := newAuthFixture(t, "Alice@X.com", false)
		_, err := f.service.SaveUser(ctx, alice.UserKey, alice, &oauth2.Token{AccessToken: "hca_token"})
		require.NoError(t, err)

		resp, _ := f.handler.Me(ctx, makeRequest(alice, "GET", "/auth/me", ""))
		require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
		var id identity.Identity
		require.NoError(t, json.Unmarshal([]byte(resp.Body), &id))
		assert.Equal(t, alice.UserKey, id.UserKey)
		assert.Equal(t, "U123", id.SlackID, "identity comes from the provider")
	})

	t.Run("e-mail changed off the list", func(t *testing.T) {
		f := newAuthFixture(t, "eve@x.com", false)
		_, err := f.service.SaveUser(ctx, alice.UserKey, alice, &oauth2.Token{AccessToken: "hca_token"})
		require.NoError(t, err)

		resp, _ := f.handler.Me(ctx, makeRequest(alice, "GET", "/auth/me", ""))
		require.Equal(t, http.StatusForbidden, resp.StatusCode, resp.Body)
		c := resp.MultiValueHeaders["Set-Cookie"]
		require.Len(t, c, 1)
		assert.Contains(t, c[0], "Max-Age=0")
	})

	t.Run("stale token keeps the session", func(t *testing.T) {
		f := newAuthFixture(t, "eve@x.com", false)
		_, err := f.service.SaveUser(ctx, alice.UserKey, alice, &oauth2.Token{AccessToken: "revoked"})
		require.NoError(t, err)

		resp, _ := f.handler.Me(ctx, makeRequest(alice, "GET", "/auth/me", ""))
		require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
		assert.Contains(t, resp.Body, `"u-alice"`)
	})
}
