package entry

import "errors"

var (
	// ErrNotFound is returned when no entry in the forest has the requested id.
	ErrNotFound = errors.New("todotree: entry not found")
	// ErrInvalidID is returned when an id cannot be used as a record file name.
	ErrInvalidID = errors.New("todotree: invalid entry id")
)
