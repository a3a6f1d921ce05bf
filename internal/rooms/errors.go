package rooms

import "errors"

var ErrNilTransport = errors.New("transport cannot be nil")
