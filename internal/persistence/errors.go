package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrConstraintViolation is returned when a write breaks a storage
	// constraint (duplicate ID, missing required column).
	ErrConstraintViolation = errors.New("persistence: constraint violation")
)
