package domain

import "errors"

// ErrMalformedRecord is returned when a record lacks a required field.
var ErrMalformedRecord = errors.New("todotree: malformed record")
