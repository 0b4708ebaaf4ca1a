package storage

import "errors"

// Sentinel kinds for store errors.
var (
	// ErrNotFound is returned when a handle, challenge, match or round
	// does not exist for the given key.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a reservation cannot be taken because
	// a user is already engaged, or a handle is already in use.
	ErrConflict = errors.New("conflicting record exists")
)
