package store

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateRequest is returned when a usage recording carries a
	// request ID that was already recorded. The caller must not retry.
	ErrDuplicateRequest = errors.New("request already recorded")
)
