package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrLocked marks a transient failure to acquire the registry store.
	ErrLocked = errors.New("store locked")
)
