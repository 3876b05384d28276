package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden is returned when the acting user may not perform the operation
	ErrForbidden = errors.New("operation not permitted")
	// ErrInvalidRequest is returned for malformed input
	ErrInvalidRequest = errors.New("invalid request")
	// errSkip aborts an UpdateStatus whose precondition no longer holds
	errSkip = errors.New("grant no longer eligible")
)

func forbidden(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
