package githubrepo

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v66/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRealDuckers/the-hackers/internal/adapter"
)

// fakeRepo serves a tiny subset of the contents API for owner "o", repo "r".
type fakeRepo struct {
	mu      sync.Mutex
	files   map[string]string
	shas    map[string]string
	rev     int
	lastPut map[string]any

	// large files are listed without inline content and served as raw blobs
	large map[string]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		files: map[string]string{"readme.md": "A", "docs/guide.md": "guide"},
		shas:  map[string]string{"readme.md": "v1", "docs/guide.md": "g1"},
		rev:   1,
		large: map[string]bool{},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeRepo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sha, ok := strings.CutPrefix(r.URL.Path, "/repos/o/r/git/blobs/"); ok {
		for p, v := range f.shas {
			if v == sha {
				_, _ = w.Write([]byte(f.files[p]))
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/repos/o/r/contents/")
	path = strings.TrimSuffix(path, "/")

	switch r.Method {
	case http.MethodGet:
		if content, ok := f.files[path]; ok && f.large[path] {
			writeJSON(w, http.StatusOK, map[string]any{
				"type":     "file",
				"encoding": "none",
				"content":  "",
				"name":     path,
				"path":     path,
				"size":     len(content),
				"sha":      f.shas[path],
			})
			return
		}
		if content, ok := f.files[path]; ok {
			writeJSON(w, http.StatusOK, map[string]any{
				"type":     "file",
				"encoding": "base64",
				"name":     path[strings.LastIndex(path, "/")+1:],
				"path":     path,
				"size":     len(content),
				"sha":      f.shas[path],
				"content":  base64.StdEncoding.EncodeToString([]byte(content)),
			})
			return
		}
		var entries []map[string]any
		prefix := path + "/"
		if path == "" {
			prefix = ""
		}
		seen := map[string]bool{}
		for p := range f.files {
			if !strings.HasPrefix(p, prefix) {
				continue
			}
			name, _, isDir := strings.Cut(strings.TrimPrefix(p, prefix), "/")
			if seen[name] {
				continue
			}
			seen[name] = true
			typ := "file"
			if isDir {
				typ = "dir"
			}
			entries = append(entries, map[string]any{"type": typ, "name": name, "path": prefix + name})
		}
		if len(entries) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, entries)

	case http.MethodPut:
		var body struct {
			Message string `json:"message"`
			Content []byte `json:"content"`
			SHA     string `json:"sha"`
			Branch  string `json:"branch"`
			Author  *struct {
				Name  string `json:"name"`
				Email string `json:"email"`
			} `json:"author"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		f.lastPut = map[string]any{"message": body.Message, "branch": body.Branch}
		if body.Author != nil {
			f.lastPut["author"] = body.Author.Name + " <" + body.Author.Email + ">"
		}
		cur, ok := f.shas[path]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		if cur != body.SHA {
			writeJSON(w, http.StatusConflict, map[string]string{"message": path + " does not match " + body.SHA})
			return
		}
		f.rev++
		sha := "v" + string(rune('0'+f.rev))
		f.files[path] = string(body.Content)
		f.shas[path] = sha
		writeJSON(w, http.StatusOK, map[string]any{
			"content": map[string]any{"name": path, "path": path, "sha": sha},
			"commit":  map[string]any{"sha": "c" + sha},
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T, h http.Handler, timeout time.Duration) *Store {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	client, err := withBaseURL(github.NewClient(nil), srv.URL)
	require.NoError(t, err)
	return NewStore(client, Config{Owner: "o", Repo: "r", Branch: "main", Timeout: timeout})
}

func TestStore_GetDecodesContent(t *testing.T) {
	s := newTestStore(t, newFakeRepo(), time.Second)

	f, err := s.Get(context.Background(), "readme.md")
	require.NoError(t, err)
	assert.Equal(t, "A", string(f.Content))
	assert.Equal(t, "v1", f.VersionToken)
	assert.Equal(t, "readme.md", f.Name)

	_, err = s.Get(context.Background(), "missing.md")
	assert.ErrorIs(t, err, adapter.ErrNotFound)

	_, err = s.Get(context.Background(), "docs")
	assert.ErrorIs(t, err, adapter.ErrNotFound, "directories are not files")
}

func TestStore_GetLargeFileFetchesBlob(t *testing.T) {
	repo := newFakeRepo()
	big := strings.Repeat("x", 2<<20)
	repo.files["big.txt"] = big
	repo.shas["big.txt"] = "b1"
	repo.large["big.txt"] = true
	s := newTestStore(t, repo, time.Second)

	f, err := s.Get(context.Background(), "big.txt")
	require.NoError(t, err)
	assert.Equal(t, len(big), len(f.Content))
	assert.Equal(t, "b1", f.VersionToken)
}

func TestStore_PutConditionalOnSHA(t *testing.T) {
	repo := newFakeRepo()
	s := newTestStore(t, repo, time.Second)
	ctx := context.Background()

	commit := adapter.Commit{Message: "Edited readme.md via The Hackers platform", AuthorName: "Alice", AuthorEmail: "alice@x.com"}
	meta, err := s.Put(ctx, "readme.md", []byte("B"), "v1", commit)
	require.NoError(t, err)
	assert.Equal(t, "v2", meta.VersionToken)
	assert.Equal(t, "Edited readme.md via The Hackers platform", repo.lastPut["message"])
	assert.Equal(t, "main", repo.lastPut["branch"])
	assert.Equal(t, "Alice <alice@x.com>", repo.lastPut["author"])

	_, err = s.Put(ctx, "readme.md", []byte("C"), "v1", commit)
	assert.ErrorIs(t, err, adapter.ErrConflict)

	_, err = s.Put(ctx, "readme.md", []byte("C"), "", commit)
	assert.ErrorIs(t, err, adapter.ErrConflict)

	f, err := s.Get(ctx, "readme.md")
	require.NoError(t, err)
	assert.Equal(t, "B", string(f.Content))
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t, newFakeRepo(), time.Second)

	entries, err := s.List(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, []adapter.Entry{{Name: "guide.md", Path: "docs/guide.md", Type: adapter.TypeFile}}, entries)

	_, err = s.List(context.Background(), "readme.md")
	assert.ErrorIs(t, err, adapter.ErrNotFound)
}

func TestStore_TimeoutIsUnavailable(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The server only notices a client hang-up once the body is consumed.
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	s := newTestStore(t, h, 50*time.Millisecond)

	_, err := s.Get(context.Background(), "readme.md")
	assert.ErrorIs(t, err, adapter.ErrUnavailable)

	_, err = s.Put(context.Background(), "readme.md", []byte("x"), "v1", adapter.Commit{})
	assert.ErrorIs(t, err, adapter.ErrUnavailable)
}

func TestMapError(t *testing.T) {
	resp := func(code int) error {
		return &github.ErrorResponse{Response: &http.Response{
			StatusCode: code,
			Request:    &http.Request{Method: http.MethodGet, URL: &url.URL{Path: "/repos/o/r/contents/p"}},
		}}
	}
	tests := []struct {
		name  string
		err   error
		write bool
		want  error
	}{
		{"not found", resp(404), false, adapter.ErrNotFound},
		{"stale sha on write", resp(409), true, adapter.ErrConflict},
		{"validation on write", resp(422), true, adapter.ErrConflict},
		{"conflict on read", resp(409), false, adapter.ErrUnavailable},
		{"auth failure", resp(401), true, adapter.ErrUnavailable},
		{"server error", resp(502), false, adapter.ErrUnavailable},
		{"transport", context.DeadlineExceeded, false, adapter.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError("op", "p", tt.err, tt.write), tt.want)
		})
	}
}

func TestInstallationTokenSource(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/app/installations/42/access_tokens" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return &key.PublicKey, nil },
			jwt.WithValidMethods([]string{"RS256"}))
		if err != nil || claims.Issuer != "7" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "bad jwt"})
			return
		}
		calls.Add(1)
		writeJSON(w, http.StatusCreated, map[string]any{
			"token":      "ghs_test",
			"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	ts, err := NewInstallationTokenSource(7, 42, keyPEM, srv.URL)
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "ghs_test", tok.AccessToken)

	_, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "token should be reused until expiry")

	_, err = NewInstallationTokenSource(7, 42, []byte("not a key"), srv.URL)
	assert.Error(t, err)
}
