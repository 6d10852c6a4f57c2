package broker

import "errors"

// Error kinds of the broker contract. Backends wrap these with %w and attach
// the relevant identifiers, so callers can match with errors.Is and still log
// the detail.
var (
	// ErrInvalidOptions is returned by constructors when a required option
	// (channel, consumer tag, backend address) is missing or invalid.
	ErrInvalidOptions = errors.New("eventflow: invalid options")

	// ErrConnectionFailed is returned when a broker cannot establish its
	// backend connection at construction time.
	ErrConnectionFailed = errors.New("eventflow: connection failed")

	// ErrBackendUnavailable is returned when the backend exists but cannot
	// currently serve the requested handle.
	ErrBackendUnavailable = errors.New("eventflow: backend unavailable")

	// ErrEncodeFailed is returned by Publish when the envelope cannot be
	// serialized to the backend's wire format.
	ErrEncodeFailed = errors.New("eventflow: event encoding failed")

	// ErrBackendRejected is returned by Publish when the backend refused the
	// event.
	ErrBackendRejected = errors.New("eventflow: backend rejected event")

	// ErrUnreachable is returned by Publish when the backend could not be
	// reached at all.
	ErrUnreachable = errors.New("eventflow: backend unreachable")

	// ErrAckUnreachable is returned by Ack or Nack when the resolution could
	// not be communicated to the backend. The delivery stays logically
	// pending.
	ErrAckUnreachable = errors.New("eventflow: acknowledgment could not reach backend")

	// ErrStreamAlreadyTaken is returned by the second and any later Stream
	// call on the same consumer.
	ErrStreamAlreadyTaken = errors.New("eventflow: event stream already taken")

	// ErrBrokerClosed is returned by every operation on a closed broker or a
	// handle derived from it.
	ErrBrokerClosed = errors.New("eventflow: broker is closed")
)
