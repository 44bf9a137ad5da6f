package session

import "errors"

// Sentinel errors for session operations; check with errors.Is.
var (
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidUserID indicates a blank or over-long user identifier.
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrNotOwner indicates the session belongs to a different user.
	ErrNotOwner = errors.New("session owned by another user")
)
