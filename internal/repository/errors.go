package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a uniqueness constraint rejected the write.
	ErrConflict = errors.New("repository: conflict")
	// ErrLimitReached indicates a bounded counter is already at its ceiling.
	ErrLimitReached = errors.New("repository: limit reached")
)
