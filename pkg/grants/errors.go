package grants

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a grant does not exist
	ErrNotFound = errors.New("grant not found")
	// ErrConflict is returned when an open grant already covers the subject and property
	ErrConflict = errors.New("open grant already exists for subject and property")
	// ErrInvalidTransition is returned when a status change is not allowed
	ErrInvalidTransition = errors.New("invalid grant status transition")
	// ErrExtensionLimit is returned when a grant has used all of its extensions
	ErrExtensionLimit = errors.New("grant extension limit reached")
)

// ConflictError describes a uniqueness violation on (subject, property)
type ConflictError struct {
	SubjectEmail string
	PropertyID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s on property %s", ErrConflict.Error(), e.SubjectEmail, e.PropertyID)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// TransitionError describes a rejected status change
type TransitionError struct {
	GrantID int64
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("grant %d: cannot move from %s to %s", e.GrantID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ExtensionLimitError is returned when extending past the configured maximum
type ExtensionLimitError struct {
	GrantID int64
	Max     int
}

func (e *ExtensionLimitError) Error() string {
	return fmt.Sprintf("grant %d: already extended %d times", e.GrantID, e.Max)
}

func (e *ExtensionLimitError) Unwrap() error {
	return ErrExtensionLimit
}

func notFound(id int64) error {
	return fmt.Errorf("%w: %d", ErrNotFound, id)
}
