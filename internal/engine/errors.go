package engine

import (
	"errors"
	"fmt"
)

var ErrInvalidTrack = errors.New("invalid track")

// ValidationError reports a rejected request parameter. Requests failing
// validation change no state.
type ValidationError struct {
	Field  string
	Value  int
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s=%d: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }
