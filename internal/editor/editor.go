// Package editor mediates every read and write of repository files,
// combining the in-memory edit lock with version-token conditional writes.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TheRealDuckers/the-hackers/internal/adapter"
	"github.com/TheRealDuckers/the-hackers/internal/identity"
	"github.com/TheRealDuckers/the-hackers/internal/logging"
	"github.com/TheRealDuckers/the-hackers/internal/markdown"
	"github.com/TheRealDuckers/the-hackers/internal/model"
	"github.com/TheRealDuckers/the-hackers/internal/notify"
	"github.com/TheRealDuckers/the-hackers/internal/session"
)

// DefaultCommitMessage is used when no message format is configured.
const DefaultCommitMessage = "Edited %s via The Hackers platform"

// OpenResult is what a caller gets back from OpenForEdit.
type OpenResult struct {
	Path         string `json:"path"`
	Content      string `json:"content"`
	VersionToken string `json:"sha"`
	CanEdit      bool   `json:"canEdit"`
	LockedBy     string `json:"lockedBy,omitempty"`
}

// Editor is the lock-guarded content store façade.
type Editor struct {
	store         adapter.ContentStore
	locks         session.Locker
	notifier      notify.Notifier
	renderer      *markdown.Renderer
	log           logging.Logger
	commitMessage string
}

// New creates an Editor. A nil notifier disables notifications.
func New(store adapter.ContentStore, locks session.Locker, notifier notify.Notifier, log logging.Logger, commitMessage string) *Editor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if commitMessage == "" {
		commitMessage = DefaultCommitMessage
	}
	return &Editor{
		store:         store,
		locks:         locks,
		notifier:      notifier,
		renderer:      markdown.NewRenderer(),
		log:           log.With("component", "editor"),
		commitMessage: commitMessage,
	}
}

func ownerOf(who identity.Identity) session.Owner {
	return session.Owner{Key: who.UserKey, Name: who.DisplayName}
}

// OpenForEdit reads path and, in the same call, claims its edit lock for who
// when the lock is free or already theirs. Content and version token are
// returned whether or not the lock was granted.
func (e *Editor) OpenForEdit(ctx context.Context, path string, who identity.Identity) (*OpenResult, error) {
	file, err := e.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	lock, granted, err := e.locks.Claim(ctx, path, ownerOf(who), file.VersionToken)
	if err != nil {
		return nil, fmt.Errorf("claim lock: %w", err)
	}

	res := &OpenResult{
		Path:         path,
		Content:      string(file.Content),
		VersionToken: file.VersionToken,
		CanEdit:      granted,
	}
	if !granted {
		res.LockedBy = lock.OwnerName
		e.log.Debug(ctx, "open without lock", "path", path, "user", who.UserKey, "holder", lock.OwnerKey)
	}
	return res, nil
}

// SubmitEdit writes content to path if who may edit it and versionToken is
// still current. An empty versionToken means the revision recorded when who
// opened the file. On success the caller's lock is released.
func (e *Editor) SubmitEdit(ctx context.Context, path string, who identity.Identity, content []byte, versionToken string) (*adapter.FileMetadata, error) {
	lock, err := e.locks.Holder(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("lock status: %w", err)
	}
	if lock != nil && lock.OwnerKey != who.UserKey {
		return nil, &session.LockedError{Path: path, Holder: lock.OwnerName}
	}

	if versionToken == "" {
		if lock == nil || lock.VersionToken == "" {
			return nil, fmt.Errorf("no outstanding version for %s: %w", path, adapter.ErrConflict)
		}
		versionToken = lock.VersionToken
	}

	meta, err := e.store.Put(ctx, path, content, versionToken, adapter.Commit{
		Message:     e.messageFor(path),
		AuthorName:  who.DisplayName,
		AuthorEmail: who.Email,
	})
	if err != nil {
		return nil, err
	}

	// The lock may have been released and claimed by someone else while
	// the write was in flight; only our own lock is removed.
	if err := e.locks.Release(ctx, path, who.UserKey); err != nil && !errors.Is(err, session.ErrNotHeld) {
		e.log.Warn(ctx, "failed to release lock", "path", path, "error", err)
	}

	e.log.Info(ctx, "file saved", "path", path, "user", who.UserKey, "sha", meta.VersionToken)
	if err := e.notifier.EditNotice(ctx, path, who.DisplayName); err != nil {
		e.log.Warn(ctx, "edit notice failed", "path", path, "error", err)
	}
	return meta, nil
}

func (e *Editor) messageFor(path string) string {
	if strings.Contains(e.commitMessage, "%s") {
		return fmt.Sprintf(e.commitMessage, path)
	}
	return e.commitMessage
}

// Preview renders path as HTML without touching the lock table.
func (e *Editor) Preview(ctx context.Context, path string) ([]byte, error) {
	file, err := e.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return e.renderer.RenderFile(path, file.Content)
}

// List returns the entries directly under dir ("" for the root).
func (e *Editor) List(ctx context.Context, dir string) ([]adapter.Entry, error) {
	return e.store.List(ctx, dir)
}

// Locks returns every held lock.
func (e *Editor) Locks(ctx context.Context) ([]model.Lock, error) {
	return e.locks.List(ctx)
}

// ReleaseLock gives up who's lock on path. It returns session.ErrNotHeld if
// who does not hold it.
func (e *Editor) ReleaseLock(ctx context.Context, path string, who identity.Identity) error {
	if err := e.locks.Release(ctx, path, who.UserKey); err != nil {
		return err
	}
	e.log.Info(ctx, "lock released", "path", path, "user", who.UserKey)
	return nil
}
