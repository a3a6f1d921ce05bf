package engagement

import "errors"

var (
	ErrModelNotLoaded = errors.New("engagement model not loaded")
	ErrInvalidModel   = errors.New("invalid engagement model")
)
