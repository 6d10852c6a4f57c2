package broker

// Capabilities describes the delivery semantics of a backend, so callers can
// introspect what acknowledge and nack mean on the broker they were handed.
type Capabilities struct {
	// Name is the backend name used for registration.
	Name string

	// SupportsAck indicates that acknowledging a delivery advances backend
	// delivery-tracking state (offsets, cursors). When false, ack is an
	// observable no-op beyond the delivery's own state transition.
	SupportsAck bool

	// SupportsRedelivery indicates that a nacked (or unacknowledged) event
	// may be delivered again under a new delivery token.
	SupportsRedelivery bool

	// SupportsPersistence indicates events survive the broker process.
	SupportsPersistence bool

	// SupportsBacklog indicates a consumer can receive events that were
	// published before it subscribed.
	SupportsBacklog bool

	// SupportsOrdering indicates receive order matches a single publisher's
	// publish order within the backend's intrinsic partitioning unit.
	SupportsOrdering bool

	// SupportsBlockingPublish indicates publish exerts backpressure instead
	// of dropping or erroring when consumers fall behind.
	SupportsBlockingPublish bool
}

// AtMostOnce reports whether an event handed to a consumer is gone from the
// backend regardless of how the delivery is resolved.
func (c Capabilities) AtMostOnce() bool {
	return !c.SupportsRedelivery
}

// AtLeastOnce reports whether unacknowledged events come back, so consumers
// must tolerate duplicate deliveries.
func (c Capabilities) AtLeastOnce() bool {
	return c.SupportsAck && c.SupportsRedelivery
}

// Capability sets of the built-in backends.
var (
	// MemoryCapabilities describes the in-process reference broker.
	MemoryCapabilities = Capabilities{
		Name:                    "memory",
		SupportsAck:             false,
		SupportsRedelivery:      false,
		SupportsPersistence:     false,
		SupportsBacklog:         false,
		SupportsOrdering:        true,
		SupportsBlockingPublish: true,
	}

	// KafkaCapabilities describes the partitioned-log backend.
	KafkaCapabilities = Capabilities{
		Name:                    "kafka",
		SupportsAck:             true,
		SupportsRedelivery:      true,
		SupportsPersistence:     true,
		SupportsBacklog:         true,
		SupportsOrdering:        true,
		SupportsBlockingPublish: false,
	}

	// NATSCapabilities describes the NATS core backend.
	NATSCapabilities = Capabilities{
		Name:                    "nats",
		SupportsAck:             false,
		SupportsRedelivery:      false,
		SupportsPersistence:     false,
		SupportsBacklog:         false,
		SupportsOrdering:        false,
		SupportsBlockingPublish: false,
	}

	// WatermillCapabilities is the conservative default for adapted watermill
	// pub/sub pairs; the actual semantics depend on the wrapped transport.
	WatermillCapabilities = Capabilities{
		Name:               "watermill",
		SupportsAck:        true,
		SupportsRedelivery: true,
	}
)
