package store

import "errors"

var (
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("store: duplicate record")
	// ErrUnavailable wraps backend connectivity and timeout failures. Callers
	// may retry the whole unit of work.
	ErrUnavailable = errors.New("store: backend unavailable")
)
