package broker

import (
	"context"
	"sync"

	"github.com/drblury/eventflow/internal/cloudevents"
)

// AckState is the resolution state of a delivery.
type AckState int32

const (
	// Pending means the delivery has not been resolved yet.
	Pending AckState = iota

	// Acked means the delivery was resolved as successfully processed.
	Acked

	// Nacked means the delivery was resolved as failed.
	Nacked
)

func (s AckState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Acked:
		return "acked"
	case Nacked:
		return "nacked"
	default:
		return "unknown"
	}
}

// Acker reports a delivery resolution into the backend's delivery-tracking
// state. Backends without such state use NoOpAcker. The Delivery wrapper
// guarantees an acker is invoked at most once per resolved delivery, so
// implementations need no idempotence of their own.
type Acker interface {
	Ack(ctx context.Context) error
	Nack(ctx context.Context) error
}

// NoOpAcker is the acker for backends where delivery already removed the
// event from backend state at receive time.
type NoOpAcker struct{}

func (NoOpAcker) Ack(ctx context.Context) error  { return nil }
func (NoOpAcker) Nack(ctx context.Context) error { return nil }

// Delivery wraps a received event with its delivery metadata and
// acknowledgment state. Once the state leaves Pending it is terminal for this
// delivery instance; a redelivery (on backends that redeliver) is a fresh
// Delivery with a fresh token.
type Delivery struct {
	channel     string
	consumerTag string
	token       string
	event       *cloudevents.Event
	acker       Acker

	// mu serializes resolution, so racing resolvers wait for the in-flight
	// backend report and observe its real outcome.
	mu    sync.Mutex
	state AckState
}

// NewDelivery wraps an event for handing to a consumer stream. Backends call
// this; application code only receives deliveries.
func NewDelivery(channel, consumerTag, token string, event *cloudevents.Event, acker Acker) *Delivery {
	if acker == nil {
		acker = NoOpAcker{}
	}
	return &Delivery{
		channel:     channel,
		consumerTag: consumerTag,
		token:       token,
		event:       event,
		acker:       acker,
	}
}

// Event returns the delivered event envelope.
func (d *Delivery) Event() *cloudevents.Event { return d.event }

// Channel returns the channel the event was consumed from.
func (d *Delivery) Channel() string { return d.channel }

// ConsumerTag returns the subscription identity that received the event.
func (d *Delivery) ConsumerTag() string { return d.consumerTag }

// Token returns the backend-opaque delivery token.
func (d *Delivery) Token() string { return d.token }

// State returns the current resolution state.
func (d *Delivery) State() AckState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Ack resolves the delivery as successfully processed. Calling Ack or Nack on
// an already-resolved delivery is a no-op that succeeds, so callers may race
// under at-least-once delivery without coordination; a racing caller blocks
// until the in-flight resolution completes and nil from it means the delivery
// really resolved. If the backend cannot be reached the delivery stays pending
// and the error is returned.
func (d *Delivery) Ack(ctx context.Context) error {
	return d.resolve(ctx, Acked, d.acker.Ack)
}

// Nack resolves the delivery as failed. For backends with redelivery this is
// a hint to schedule a new delivery of the same logical event; elsewhere it is
// only the state transition.
func (d *Delivery) Nack(ctx context.Context) error {
	return d.resolve(ctx, Nacked, d.acker.Nack)
}

func (d *Delivery) resolve(ctx context.Context, target AckState, report func(context.Context) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != Pending {
		return nil
	}
	if err := report(ctx); err != nil {
		// Still pending; the caller (or a waiting racer) may retry.
		return err
	}
	d.state = target
	return nil
}
