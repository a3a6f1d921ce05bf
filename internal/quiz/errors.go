package quiz

import "errors"

var ErrInvalidQuestion = errors.New("question needs text and at least two options")
