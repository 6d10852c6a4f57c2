// Package broker defines the transport-agnostic publish/consume/acknowledge
// contract of eventflow. Backend implementations (memory, kafka, nats,
// watermill, ...) live in sub-packages and register themselves with the
// backend registry.
package broker

import (
	"context"
	"fmt"

	"github.com/drblury/eventflow/internal/cloudevents"
)

// Broker owns the backend connection state shared by every Publisher and
// Consumer created from it. The underlying transport lives as long as the
// longest-lived handle derived from the broker; Close tears it down for all
// of them.
type Broker interface {
	// Publisher creates a publisher bound to the channel in options.
	// Implementations may pool; callers must not assume a fresh instance.
	Publisher(options PublisherOptions) (Publisher, error)

	// Consumer creates a consumer bound to one channel and one consumer tag.
	Consumer(options ConsumerOptions) (Consumer, error)

	// Close releases the backend connection. Handles derived from the broker
	// fail with ErrBrokerClosed afterwards.
	Close() error
}

// Publisher publishes events to its bound channel. Stateless beyond that
// binding and safe for concurrent use.
type Publisher interface {
	// Publish hands the event to the backend for delivery to every currently
	// eligible consumer of the bound channel. Returning nil means the backend
	// accepted the event, not that any consumer received it. Publish may
	// block for backpressure or network acknowledgment; ctx bounds the wait.
	Publish(ctx context.Context, event *cloudevents.Event) error

	// Close releases publisher-local resources.
	Close() error
}

// Consumer receives events from its bound channel. Backends with
// subscription-lifetime state (offsets, cursors) scope that state to the
// consumer's existence.
type Consumer interface {
	// Stream returns the consumer's delivery sequence. It may be called once;
	// later calls return ErrStreamAlreadyTaken. The channel closes when ctx
	// is done or the consumer is closed, and is not restartable.
	Stream(ctx context.Context) (<-chan *Delivery, error)

	// Close deregisters the consumer from the backend synchronously, so no
	// further events are routed to a stream nobody drains.
	Close() error
}

// PublisherOptions configures Broker.Publisher.
type PublisherOptions struct {
	// Channel is the routing key to publish to. Required.
	Channel string
}

// Validate reports ErrInvalidOptions when required fields are missing.
func (o PublisherOptions) Validate() error {
	if o.Channel == "" {
		return fmt.Errorf("%w: publisher channel is required", ErrInvalidOptions)
	}
	return nil
}

// ConsumerOptions configures Broker.Consumer.
type ConsumerOptions struct {
	// Channel is the routing key to consume from. Required.
	Channel string

	// ConsumerTag identifies the subscription. Backends with persistent
	// subscription state (consumer groups) key that state by the tag; fan-out
	// backends only need it unique among concurrently open consumers of the
	// channel. Required.
	ConsumerTag string
}

// Validate reports ErrInvalidOptions when required fields are missing.
func (o ConsumerOptions) Validate() error {
	if o.Channel == "" {
		return fmt.Errorf("%w: consumer channel is required", ErrInvalidOptions)
	}
	if o.ConsumerTag == "" {
		return fmt.Errorf("%w: consumer tag is required", ErrInvalidOptions)
	}
	return nil
}

// Pair creates a publisher and a consumer from the same broker in one call.
func Pair(b Broker, pub PublisherOptions, con ConsumerOptions) (Publisher, Consumer, error) {
	p, err := b.Publisher(pub)
	if err != nil {
		return nil, nil, err
	}
	c, err := b.Consumer(con)
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return p, c, nil
}
