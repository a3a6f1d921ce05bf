package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Frame-related errors
var (
	ErrUnknownFrame = errors.New("unknown frame type")
	ErrRateLimited  = errors.New("too many messages, slow down")
)
