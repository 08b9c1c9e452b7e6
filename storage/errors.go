package storage

import "errors"

// Common storage errors.
var (
	// ErrSessionNotFound is returned when no persisted state exists
	// for the given session id.
	ErrSessionNotFound = errors.New("session not found")
)
