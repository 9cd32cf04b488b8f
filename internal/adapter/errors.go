package adapter

import (
	"errors"
)

var (
	// ErrNotFound is returned when the path does not exist in the backing store.
	ErrNotFound = errors.New("path not found")

	// ErrConflict is returned when the supplied version token no longer matches
	// the stored revision.
	ErrConflict = errors.New("version token is stale")

	// ErrUnavailable is returned on transport, auth or timeout failures talking
	// to the backing store. Nothing was written when it is returned.
	ErrUnavailable = errors.New("content store unavailable")

	// ErrInvalidPath is returned for empty paths or paths escaping the repository root.
	ErrInvalidPath = errors.New("invalid path")
)
