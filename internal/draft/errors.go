package draft

import (
	"errors"
	"fmt"
)

// ValidationError rejects an operation before it has any side effect.
// Field names the input the user has to fix.
type ValidationError struct {
	Field   string
	Message string
	// Cause is an optional sentinel callers can match with errors.Is
	Cause error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Invalid builds a ValidationError
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InvalidBecause builds a ValidationError that also matches cause
func InvalidBecause(field, message string, cause error) error {
	return &ValidationError{Field: field, Message: message, Cause: cause}
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
