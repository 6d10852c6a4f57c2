package cloudevents

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEvent is returned by the builder when required attributes are
	// missing or an extension key is declared twice.
	ErrInvalidEvent = errors.New("eventflow: invalid event")

	// ErrMissingEventData is returned when an envelope carries no payload.
	ErrMissingEventData = errors.New("eventflow: missing event data")

	// ErrMalformedPayload is returned when payload bytes are structurally
	// invalid for the target type.
	ErrMalformedPayload = errors.New("eventflow: malformed payload")
)

// DecodeError reports a type-tag mismatch between an envelope and the payload
// type it was decoded into. The envelope is left untouched.
type DecodeError struct {
	Expected string
	Found    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("eventflow: cannot decode event of type %q as %q", e.Found, e.Expected)
}
