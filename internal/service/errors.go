package service

import "errors"

// Domain-specific errors for service calls.
// Use errors.Is() to check for these errors:
//
//	if errors.Is(err, service.ErrInvalidData) {
//	    // reject the request with 400
//	}
var (
	// ErrInvalidData is returned when call data is missing a required field
	// or holds a value the target cannot accept.
	ErrInvalidData = errors.New("service: invalid service data")

	// ErrInvalidService is returned when a domain or service name is empty or malformed.
	ErrInvalidService = errors.New("service: invalid service name")
)
