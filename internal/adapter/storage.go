package adapter

import (
	"context"
	"path"
	"strings"
	"time"
)

// Entry types returned by List.
const (
	TypeFile = "file"
	TypeDir  = "dir"
)

// FileMetadata describes one stored revision of a file.
type FileMetadata struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	VersionToken string    `json:"sha"`
	ModifiedTime time.Time `json:"modifiedTime,omitempty"`
}

// File is a snapshot: decoded content plus the token identifying its revision.
type File struct {
	FileMetadata
	Content []byte `json:"-"`
}

// Entry is one child of a listed directory.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}

// Commit carries attribution for a write. Stores that have no notion of
// commits ignore it.
type Commit struct {
	Message     string
	AuthorName  string
	AuthorEmail string
}

// ContentStore is the backing key/value content store, keyed by path and
// addressed by an opaque version token. Content is always decoded bytes;
// wire encodings are handled inside each implementation.
type ContentStore interface {
	// Get returns the current snapshot of path or ErrNotFound.
	Get(ctx context.Context, path string) (*File, error)

	// Put writes content only if the stored version token still equals
	// expectedToken. It returns ErrConflict on mismatch and never writes
	// unconditionally.
	Put(ctx context.Context, path string, content []byte, expectedToken string, commit Commit) (*FileMetadata, error)

	// List returns the direct children of root ("" for the repository root).
	List(ctx context.Context, root string) ([]Entry, error)
}

// CleanPath normalises a repository path: slashes are collapsed, leading
// slashes dropped, and paths that would escape the root are rejected.
func CleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", ErrInvalidPath
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "" || cleaned == "." {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// CleanDir is CleanPath for directory arguments, where "" means the root.
func CleanDir(p string) (string, error) {
	if strings.Trim(strings.TrimSpace(p), "/") == "" {
		return "", nil
	}
	return CleanPath(p)
}
