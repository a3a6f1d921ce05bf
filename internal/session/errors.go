package session

import "errors"

var (
	ErrInvalidTitle        = errors.New("session title must be 1-200 characters")
	ErrInvalidInstructorID = errors.New("instructor ID must be 1-100 characters without whitespace or slashes")
	ErrInvalidExternalID   = errors.New("external ID must be 1-100 characters without whitespace or slashes")
	ErrSessionAlreadyEnded = errors.New("session is already ended")
)
