package event

import (
	"errors"
	"strings"
)

var (
	ErrDuplicateEvent = errors.New("duplicate event")

	ErrPayloadTooLarge = errors.New("payload too large")

	ErrMalformedPayload = errors.New("payload must be a JSON object")
)

// ValidationError carries every failed field message of a rejected beacon.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid event: " + strings.Join(e.Errors, "; ")
}
