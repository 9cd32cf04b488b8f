package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheRealDuckers/the-hackers/internal/model"
)

var (
	// ErrForbidden is returned when a path is locked by another identity.
	ErrForbidden = errors.New("file is locked by another user")

	// ErrNotHeld is returned by Release when the caller does not own the lock.
	ErrNotHeld = errors.New("lock not found or not owned by user")
)

// LockedError reports who holds the lock that blocked a write.
// It matches ErrForbidden with errors.Is.
type LockedError struct {
	Path   string
	Holder string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s is being edited by %s", e.Path, e.Holder)
}

func (e *LockedError) Is(target error) bool {
	return target == ErrForbidden
}

// Owner identifies the caller claiming a lock.
type Owner struct {
	Key  string
	Name string
}

// Locker defines the interface for file lock management.
// Locks live until released; there is no expiry or heartbeat.
type Locker interface {
	// Claim atomically grants the lock on path to owner if it is free or
	// already theirs, recording token as the revision they read. It returns
	// the current lock and whether owner holds it. A lock held by someone
	// else is returned unchanged with granted == false.
	Claim(ctx context.Context, path string, owner Owner, token string) (lock *model.Lock, granted bool, err error)

	// Holder returns the lock on path, or nil if the path is free.
	Holder(ctx context.Context, path string) (*model.Lock, error)

	// Release removes the lock if ownerKey owns it, otherwise ErrNotHeld.
	Release(ctx context.Context, path, ownerKey string) error

	// List returns every held lock ordered by path.
	List(ctx context.Context) ([]model.Lock, error)
}
