package audit

import "errors"

// Domain errors for the device journal.
var (
	// ErrInvalidEntry is returned when an entry has no event type.
	ErrInvalidEntry = errors.New("audit: entry has no event type")
)
