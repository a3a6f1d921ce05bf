package types

import "errors"

// ARCHITECTURAL DISCOVERY: only programmer-error class conditions are errors;
// empty rooms and unknown students are regular return values
var (
	ErrInvalidEngagementLevel = errors.New("engagement level must be Active, Moderate or Passive")
	ErrMalformedReference     = errors.New("session reference is empty")
	ErrInvalidStudentID       = errors.New("student ID must be 1-100 characters without whitespace or slashes")
	ErrInvalidRoomKey         = errors.New("room key must be 1-100 characters without whitespace or slashes")
)
