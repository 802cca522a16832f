package chunk

import "errors"

// ErrInvalidInput is returned when a source document cannot be split.
var ErrInvalidInput = errors.New("invalid input")
