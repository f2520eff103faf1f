package store

import "identify/pkg/platform/sentinel"

var (
	// ErrNotFound is returned when a contact id does not exist or is already
	// deleted, including a linked_id that references no row.
	ErrNotFound = sentinel.ErrNotFound
	// ErrConflict is returned when a row violates a schema constraint.
	ErrConflict = sentinel.ErrConflict
)
