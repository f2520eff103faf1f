package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, caches and publishers
// return these (optionally wrapped) so services can translate them into
// domain errors:
// - ErrNotFound: record does not exist in the store
// - ErrConflict: write rejected by a uniqueness or lock constraint
// - ErrUnavailable: backing service unreachable or circuit open
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
