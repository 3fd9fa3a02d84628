package recorder

import "errors"

// Sentinel errors for recorder operations.
var (
	// ErrInvalidQuery is returned for history queries that cannot be answered
	// (end before start, malformed entity ids).
	ErrInvalidQuery = errors.New("recorder: invalid query")

	// ErrAlreadyStarted is returned by Start when the recorder is running.
	ErrAlreadyStarted = errors.New("recorder: already started")
)
