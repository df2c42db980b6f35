package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidState is returned when an illegal status transition is
	// attempted, e.g. cancelling a job that is already processing
	ErrInvalidState = errors.New("invalid job state for operation")

	// ErrHandlerMissing is returned when a job type has no registered handler
	ErrHandlerMissing = errors.New("no handler registered for job type")
)

// ValidationError rejects malformed enqueue arguments synchronously; the job
// is never created.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Msg)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
