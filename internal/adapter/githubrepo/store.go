// Package githubrepo stores files in a single GitHub repository through the
// contents API. Version tokens are git blob SHAs.
package githubrepo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/TheRealDuckers/the-hackers/internal/adapter"
)

const defaultTimeout = 10 * time.Second

// Config selects the repository and branch. An empty Branch means the
// repository's default branch.
type Config struct {
	Owner   string
	Repo    string
	Branch  string
	Timeout time.Duration
}

// Store implements adapter.ContentStore for a GitHub repository.
type Store struct {
	client  *github.Client
	owner   string
	repo    string
	branch  string
	timeout time.Duration
}

// NewClient builds a go-github client that authenticates with ts.
// baseURL overrides the API root (GitHub Enterprise, tests).
func NewClient(ctx context.Context, ts oauth2.TokenSource, baseURL string) (*github.Client, error) {
	return withBaseURL(github.NewClient(oauth2.NewClient(ctx, ts)), baseURL)
}

func withBaseURL(c *github.Client, baseURL string) (*github.Client, error) {
	if baseURL == "" {
		return c, nil
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid github base url: %w", err)
	}
	c.BaseURL = u
	return c, nil
}

// NewStore wraps an authenticated client.
func NewStore(client *github.Client, cfg Config) *Store {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{
		client:  client,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		branch:  cfg.Branch,
		timeout: timeout,
	}
}

func (s *Store) Get(ctx context.Context, path string) (*adapter.File, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	file, _, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, path, &github.RepositoryContentGetOptions{Ref: s.branch})
	if err != nil {
		return nil, mapError("get", path, err, false)
	}
	if file == nil {
		return nil, fmt.Errorf("%s is a directory: %w", path, adapter.ErrNotFound)
	}

	var content []byte
	if file.GetEncoding() == "none" {
		// Files over 1 MB come back without inline content.
		content, _, err = s.client.Git.GetBlobRaw(ctx, s.owner, s.repo, file.GetSHA())
		if err != nil {
			return nil, mapError("get blob", path, err, false)
		}
	} else {
		decoded, err := file.GetContent()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		content = []byte(decoded)
	}

	return &adapter.File{
		FileMetadata: adapter.FileMetadata{
			Path:         file.GetPath(),
			Name:         file.GetName(),
			Size:         int64(file.GetSize()),
			VersionToken: file.GetSHA(),
		},
		Content: content,
	}, nil
}

func (s *Store) Put(ctx context.Context, path string, content []byte, expectedToken string, commit adapter.Commit) (*adapter.FileMetadata, error) {
	// Without a sha the contents API creates the file unconditionally.
	if expectedToken == "" {
		return nil, fmt.Errorf("put %s without version token: %w", path, adapter.ErrConflict)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg := commit.Message
	if msg == "" {
		msg = "Update " + path
	}
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(msg),
		Content: content,
		SHA:     github.String(expectedToken),
	}
	if s.branch != "" {
		opts.Branch = github.String(s.branch)
	}
	if commit.AuthorName != "" && commit.AuthorEmail != "" {
		opts.Author = &github.CommitAuthor{
			Name:  github.String(commit.AuthorName),
			Email: github.String(commit.AuthorEmail),
		}
	}

	res, _, err := s.client.Repositories.UpdateFile(ctx, s.owner, s.repo, path, opts)
	if err != nil {
		return nil, mapError("put", path, err, true)
	}

	meta := &adapter.FileMetadata{
		Path:         path,
		Size:         int64(len(content)),
		ModifiedTime: time.Now().UTC(),
	}
	if res.Content != nil {
		meta.Path = res.Content.GetPath()
		meta.Name = res.Content.GetName()
		meta.VersionToken = res.Content.GetSHA()
	}
	return meta, nil
}

func (s *Store) List(ctx context.Context, root string) ([]adapter.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	file, dir, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, root, &github.RepositoryContentGetOptions{Ref: s.branch})
	if err != nil {
		return nil, mapError("list", root, err, false)
	}
	if file != nil {
		return nil, fmt.Errorf("%s is a file: %w", root, adapter.ErrNotFound)
	}

	entries := make([]adapter.Entry, 0, len(dir))
	for _, c := range dir {
		entry := adapter.Entry{Name: c.GetName(), Path: c.GetPath(), Type: adapter.TypeFile}
		switch c.GetType() {
		case "dir":
			entry.Type = adapter.TypeDir
		case "file", "symlink":
		default:
			// submodules
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// mapError translates go-github failures into the adapter error set.
// 409 and 422 only mean a stale sha on writes; on reads they are treated as
// the store being unusable.
func mapError(op, path string, err error, write bool) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", op, path, adapter.ErrNotFound)
		case http.StatusConflict, http.StatusUnprocessableEntity:
			if write {
				return fmt.Errorf("%s %s: %w", op, path, adapter.ErrConflict)
			}
		}
	}
	return fmt.Errorf("%s %s: %w: %v", op, path, adapter.ErrUnavailable, err)
}
