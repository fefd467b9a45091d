package history

import "errors"

var (
	// ErrNoHistory is returned when a round, block or certificate was never archived.
	ErrNoHistory = errors.New("history: not archived")

	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("history: corrupt record")
)
