package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrQuestionNotFound = errors.New("question not found")
)
