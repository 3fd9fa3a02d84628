package auth

import "errors"

// Sentinel errors for token validation.
var (
	ErrTokenMissing = errors.New("auth: token missing")
	ErrTokenInvalid = errors.New("auth: token invalid")
	ErrNoSecret     = errors.New("auth: jwt secret not configured")
)
