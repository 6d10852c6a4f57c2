package eventflow

import (
	brokerpkg "github.com/drblury/eventflow/broker"
	ce "github.com/drblury/eventflow/internal/cloudevents"
	configpkg "github.com/drblury/eventflow/internal/config"
	idspkg "github.com/drblury/eventflow/internal/ids"
	jsoncodec "github.com/drblury/eventflow/internal/jsoncodec"
	loggingpkg "github.com/drblury/eventflow/internal/logging"
	metricspkg "github.com/drblury/eventflow/internal/metrics"
)

type (
	Config = configpkg.Config

	// Envelope types
	Event       = ce.Event
	Builder     = ce.Builder
	EventData   = ce.EventData
	DecodeError = ce.DecodeError

	// Broker contract
	Broker           = brokerpkg.Broker
	Publisher        = brokerpkg.Publisher
	Consumer         = brokerpkg.Consumer
	Delivery         = brokerpkg.Delivery
	Acker            = brokerpkg.Acker
	NoOpAcker        = brokerpkg.NoOpAcker
	AckState         = brokerpkg.AckState
	PublisherOptions = brokerpkg.PublisherOptions
	ConsumerOptions  = brokerpkg.ConsumerOptions

	// Backend registry
	Capabilities   = brokerpkg.Capabilities
	BrokerBuilder  = brokerpkg.Builder
	BrokerConfig   = brokerpkg.Config
	BrokerRegistry = brokerpkg.Registry

	// Metrics
	MetricsCollector = metricspkg.Collector
)

var (
	NewBuilder     = ce.NewBuilder
	ValidateConfig = configpkg.ValidateConfig

	// Backend registry
	// Import individual backends via: _ "github.com/drblury/eventflow/broker/memory"
	DefaultBrokerRegistry   = brokerpkg.DefaultRegistry
	RegisterBroker          = brokerpkg.Register
	BuildBroker             = brokerpkg.Build
	GetBrokerCapabilities   = brokerpkg.GetCapabilities
	RegisterBrokerWithCaps  = brokerpkg.RegisterWithCapabilities
	NewBrokerRegistry       = brokerpkg.NewRegistry
	NewBrokerPublishConsume = brokerpkg.Pair

	// Envelope validation errors
	ErrInvalidEvent     = ce.ErrInvalidEvent
	ErrMissingEventData = ce.ErrMissingEventData
	ErrMalformedPayload = ce.ErrMalformedPayload

	// Broker errors
	ErrInvalidOptions     = brokerpkg.ErrInvalidOptions
	ErrConnectionFailed   = brokerpkg.ErrConnectionFailed
	ErrBackendUnavailable = brokerpkg.ErrBackendUnavailable
	ErrEncodeFailed       = brokerpkg.ErrEncodeFailed
	ErrBackendRejected    = brokerpkg.ErrBackendRejected
	ErrUnreachable        = brokerpkg.ErrUnreachable
	ErrAckUnreachable     = brokerpkg.ErrAckUnreachable
	ErrStreamAlreadyTaken = brokerpkg.ErrStreamAlreadyTaken
	ErrBrokerClosed       = brokerpkg.ErrBrokerClosed

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode
	Decode    = jsoncodec.Decode

	NewSlogLogger = loggingpkg.NewSlog

	NewMetricsCollector = metricspkg.NewCollector

	// NewEventID generates a unique event ID using ULID.
	NewEventID = idspkg.New
)

// Delivery resolution states.
const (
	Pending = brokerpkg.Pending
	Acked   = brokerpkg.Acked
	Nacked  = brokerpkg.Nacked
)

// Envelope constants.
const (
	// SpecVersion is the CloudEvents spec version stamped on every envelope.
	SpecVersion = ce.SpecVersion

	// ContentTypeJSON is the datacontenttype of Builder-encoded payloads.
	ContentTypeJSON = ce.ContentTypeJSON
)

// DecodeData unmarshals the event payload into T after checking that the
// envelope's type attribute matches T's event type. A mismatch returns a
// *DecodeError without touching the payload.
func DecodeData[T EventData](event *Event) (T, error) {
	return ce.DecodeData[T](event)
}

// TypeOf returns the event type tag of the payload type T.
func TypeOf[T EventData]() string {
	return ce.TypeOf[T]()
}

// ChannelOf returns the default channel of the payload type T.
func ChannelOf[T EventData]() string {
	return ce.ChannelOf[T]()
}
