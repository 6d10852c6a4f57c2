package cloudevents

import (
	"fmt"

	"github.com/drblury/eventflow/internal/jsoncodec"
)

// EventData is the capability a payload type must implement to be publishable.
// EventType and ChannelName must be pure functions of the type, never of the
// value: two instances of the same payload type always resolve to the same
// routing and type metadata.
//
// Implement the methods on a value receiver; decoding instantiates the zero
// value to read the static metadata.
type EventData interface {
	// EventType returns the static event type tag, e.g. "user.created".
	EventType() string

	// ChannelName returns the static channel the type is bound to,
	// e.g. "public.myapp.user.created".
	ChannelName() string
}

// TypeOf returns the static event type of T.
func TypeOf[T EventData]() string {
	var v T
	return v.EventType()
}

// ChannelOf returns the static channel name of T.
func ChannelOf[T EventData]() string {
	var v T
	return v.ChannelName()
}

// DecodeData decodes the envelope payload into T. The envelope's type tag is
// checked first: a mismatch yields a *DecodeError and leaves the envelope
// untouched. Structurally invalid payload bytes yield ErrMalformedPayload.
// Decoding never acknowledges the delivery; that stays with the caller.
func DecodeData[T EventData](evt *Event) (T, error) {
	var v T

	if want := v.EventType(); evt.Type != want {
		return v, &DecodeError{Expected: want, Found: evt.Type}
	}
	if len(evt.Data) == 0 {
		return v, ErrMissingEventData
	}
	if err := jsoncodec.Unmarshal(evt.Data, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return v, nil
}
