package store

import "errors"

var (
	// ErrAlreadyExists is returned when a write targets a market tag that is
	// already present. A stored cutoff is a discovered physical fact, not
	// configuration, so it is never silently overwritten.
	ErrAlreadyExists = errors.New("cutoff already exists")

	// ErrNotFound is returned by lookups for unknown market tags.
	ErrNotFound = errors.New("cutoff not found")

	// ErrUnrecoverable is returned when the primary file is corrupt and no
	// backup passes structural validation. This is fatal and never retried.
	ErrUnrecoverable = errors.New("cutoff database unrecoverable")
)
