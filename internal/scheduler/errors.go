package scheduler

import "errors"

var (
	ErrDispatcherAlreadyRunning = errors.New("dispatcher is already running")
	ErrDispatcherNotRunning     = errors.New("dispatcher is not running")
	ErrEmptyIdentifier          = errors.New("session and student IDs are required")
)
