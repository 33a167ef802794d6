package reservation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPayload = errors.New("reservation: invalid payload")
	ErrUnknownKind    = errors.New("reservation: unknown kind")
)

// InvalidPayloadError names the offending field.
type InvalidPayloadError struct {
	Field  string
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("reservation: invalid payload: %s: %s", e.Field, e.Reason)
}

func (e *InvalidPayloadError) Is(target error) bool {
	return target == ErrInvalidPayload
}

func missing(field string) error {
	return &InvalidPayloadError{Field: field, Reason: "missing"}
}

func invalid(field, reason string) error {
	return &InvalidPayloadError{Field: field, Reason: reason}
}
