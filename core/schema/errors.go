package schema

import (
	"errors"
	"fmt"
)

// ValidationError is returned when a single item fails validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ReferenceError is returned when a reference item holds a malformed identifier
// or points to something that does not exist.
type ReferenceError struct {
	Field   string
	Message string
}

func (e *ReferenceError) Error() string {
	return e.Message
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func badReference(field, format string, args ...any) error {
	return &ReferenceError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// FieldOf returns the item name carried by a validation or reference error.
func FieldOf(err error) (string, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field, true
	}
	var re *ReferenceError
	if errors.As(err, &re) {
		return re.Field, true
	}
	return "", false
}
