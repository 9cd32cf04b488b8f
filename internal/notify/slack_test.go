package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRealDuckers/the-hackers/internal/model"
)

// fakeSlack records chat.postMessage form posts.
type fakeSlack struct {
	mu    sync.Mutex
	posts []url.Values
	fail  bool
}

func (f *fakeSlack) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.posts = append(f.posts, r.PostForm)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.fail {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": r.PostForm.Get("channel"), "ts": "1.0"})
}

func newTestNotifier(t *testing.T, fake *fakeSlack, webhookURL string) *SlackNotifier {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewSlackNotifierFromToken("xoxb-test", "UADMIN", webhookURL, slack.OptionAPIURL(srv.URL+"/"))
}

func TestLoginNotice_SendsNotMeButton(t *testing.T) {
	fake := &fakeSlack{}
	n := newTestNotifier(t, fake, "")

	require.NoError(t, n.LoginNotice(context.Background(), Recipient{SlackID: "U123", Name: "Alice"}))

	require.Len(t, fake.posts, 1)
	post := fake.posts[0]
	assert.Equal(t, "U123", post.Get("channel"))
	assert.Contains(t, post.Get("text"), "Alice")
	assert.Contains(t, post.Get("blocks"), NotMeActionID)
	assert.Contains(t, post.Get("blocks"), `"style":"danger"`)
}

func TestLoginNotice_SkipsWithoutSlackID(t *testing.T) {
	fake := &fakeSlack{}
	n := newTestNotifier(t, fake, "")

	require.NoError(t, n.LoginNotice(context.Background(), Recipient{Name: "Alice"}))
	assert.Empty(t, fake.posts)
}

func TestSecurityAlert(t *testing.T) {
	fake := &fakeSlack{}
	n := newTestNotifier(t, fake, "")

	user := &model.UserRecord{DisplayName: "Alice", Email: "alice@x.com", LastLoginAt: time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)}
	require.NoError(t, n.SecurityAlert(context.Background(), Report{ReporterSlackID: "U123", User: user}))

	require.Len(t, fake.posts, 1)
	assert.Equal(t, "UADMIN", fake.posts[0].Get("channel"))
	assert.Contains(t, fake.posts[0].Get("text"), "<@U123>")
	assert.Contains(t, fake.posts[0].Get("text"), "alice@x.com")
}

func TestSecurityAlert_Errors(t *testing.T) {
	fake := &fakeSlack{fail: true}
	n := newTestNotifier(t, fake, "")
	assert.Error(t, n.SecurityAlert(context.Background(), Report{ReporterSlackID: "U123"}))

	n.adminID = ""
	assert.ErrorIs(t, n.SecurityAlert(context.Background(), Report{ReporterSlackID: "U123"}), ErrNoAdmin)
}

func TestEditNotice_PostsToWebhook(t *testing.T) {
	var got slack.WebhookMessage
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	n := newTestNotifier(t, &fakeSlack{}, hook.URL)
	require.NoError(t, n.EditNotice(context.Background(), "docs/guide.md", "Alice"))
	assert.Equal(t, "Alice edited `docs/guide.md` via The Hackers platform", got.Text)
}

func TestEditNotice_DisabledWithoutWebhook(t *testing.T) {
	n := newTestNotifier(t, &fakeSlack{}, "")
	called := false
	n.postHook = func(context.Context, string, *slack.WebhookMessage) error {
		called = true
		return nil
	}
	require.NoError(t, n.EditNotice(context.Background(), "a.md", "Alice"))
	assert.False(t, called)
}
