// Package watermill adapts any Watermill publisher/subscriber pair into an
// eventflow broker, making the whole Watermill transport ecosystem (gochannel,
// kafka, amqp, ...) available behind the eventflow contract. Envelope
// attributes travel as ce-* message metadata, the encoded payload as the
// message payload; Ack and Nack map onto the Watermill message lifecycle, so
// the wrapped transport's redelivery semantics apply unchanged.
package watermill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	wm "github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventflow/broker"
	"github.com/drblury/eventflow/internal/cloudevents"
	"github.com/drblury/eventflow/internal/logging"
)

// BackendName identifies this backend in capability lookups. The backend is
// not registered with the registry: it cannot be built from flat config, only
// around an existing publisher/subscriber pair.
const BackendName = "watermill"

const (
	metaSpecVersion     = "ce-specversion"
	metaID              = "ce-id"
	metaSource          = "ce-source"
	metaType            = "ce-type"
	metaTime            = "ce-time"
	metaDataSchema      = "ce-dataschema"
	metaDataContentType = "ce-datacontenttype"
	metaSubject         = "ce-subject"

	metaPrefix = "ce-"
)

// Options configures the adapter.
type Options struct {
	// Publisher is the Watermill publisher to adapt. Required.
	Publisher message.Publisher

	// Subscriber is the Watermill subscriber to adapt. Required.
	Subscriber message.Subscriber
}

// Validate reports invalid option values.
func (o Options) Validate() error {
	if o.Publisher == nil {
		return fmt.Errorf("%w: watermill publisher is required", broker.ErrInvalidOptions)
	}
	if o.Subscriber == nil {
		return fmt.Errorf("%w: watermill subscriber is required", broker.ErrInvalidOptions)
	}
	return nil
}

// Broker wraps a Watermill publisher/subscriber pair.
type Broker struct {
	pub    message.Publisher
	sub    message.Subscriber
	logger wm.LoggerAdapter

	mu     sync.Mutex
	closed bool
}

// New creates the adapter broker. A nil logger is replaced with a NopLogger.
func New(opts Options, logger wm.LoggerAdapter) (*Broker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Broker{pub: opts.Publisher, sub: opts.Subscriber, logger: logging.OrNop(logger)}, nil
}

// Publisher returns a publisher bound to the channel's topic.
func (b *Broker) Publisher(options broker.PublisherOptions) (broker.Publisher, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	if b.isClosed() {
		return nil, broker.ErrBrokerClosed
	}
	return &Publisher{broker: b, channel: options.Channel}, nil
}

// Consumer returns a consumer on the channel's topic.
func (b *Broker) Consumer(options broker.ConsumerOptions) (broker.Consumer, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	if b.isClosed() {
		return nil, broker.ErrBrokerClosed
	}
	return &Consumer{broker: b, channel: options.Channel, tag: options.ConsumerTag}, nil
}

// Close closes the wrapped publisher and subscriber.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	return errors.Join(b.pub.Close(), b.sub.Close())
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Publisher publishes events to one topic of the wrapped transport.
type Publisher struct {
	broker  *Broker
	channel string
}

// Publish hands the event to the wrapped Watermill publisher.
func (p *Publisher) Publish(ctx context.Context, event *cloudevents.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("%w: event is required", broker.ErrEncodeFailed)
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", broker.ErrEncodeFailed, err)
	}

	if err := p.broker.pub.Publish(p.channel, messageFromEvent(event)); err != nil {
		return fmt.Errorf("%w: %v", broker.ErrBackendRejected, err)
	}
	return nil
}

// Close is a no-op; the wrapped publisher belongs to the broker.
func (p *Publisher) Close() error { return nil }

// Consumer consumes one topic of the wrapped transport.
type Consumer struct {
	broker  *Broker
	channel string
	tag     string

	mu          sync.Mutex
	streamTaken bool
	cancel      context.CancelFunc
}

// Stream subscribes to the topic and returns the delivery sequence. Stream
// may be called once; the sequence ends when ctx is done, the consumer is
// closed, or the wrapped subscriber closes.
func (c *Consumer) Stream(ctx context.Context) (<-chan *broker.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streamTaken {
		return nil, broker.ErrStreamAlreadyTaken
	}
	if c.broker.isClosed() {
		return nil, broker.ErrBrokerClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	msgs, err := c.broker.sub.Subscribe(subCtx, c.channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", broker.ErrBackendUnavailable, err)
	}
	c.streamTaken = true
	c.cancel = cancel

	out := make(chan *broker.Delivery)
	go c.forward(subCtx, msgs, out)
	return out, nil
}

func (c *Consumer) forward(ctx context.Context, msgs <-chan *message.Message, out chan<- *broker.Delivery) {
	defer close(out)

	for msg := range msgs {
		event, err := eventFromMessage(msg)
		if err != nil {
			// Acked rather than nacked: a structurally broken message would
			// only loop through redelivery forever.
			c.broker.logger.Error("dropping malformed message", err, wm.LogFields{
				"channel":      c.channel,
				"message_uuid": msg.UUID,
			})
			msg.Ack()
			continue
		}

		delivery := broker.NewDelivery(c.channel, c.tag, msg.UUID, event, &acker{message: msg})
		select {
		case out <- delivery:
		case <-ctx.Done():
			return
		}
	}
}

// Close cancels the subscription, ending the stream. The wrapped subscriber
// itself is shared and belongs to the broker.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return nil
}

// acker maps delivery resolution onto the Watermill message lifecycle.
type acker struct {
	message *message.Message
}

func (a *acker) Ack(ctx context.Context) error {
	a.message.Ack()
	return nil
}

func (a *acker) Nack(ctx context.Context) error {
	a.message.Nack()
	return nil
}

func messageFromEvent(evt *cloudevents.Event) *message.Message {
	msg := message.NewMessage(wm.NewUUID(), []byte(evt.Data))
	msg.Metadata.Set(metaSpecVersion, evt.SpecVersion)
	msg.Metadata.Set(metaID, evt.ID)
	msg.Metadata.Set(metaSource, evt.Source)
	msg.Metadata.Set(metaType, evt.Type)
	msg.Metadata.Set(metaDataContentType, evt.DataContentType)
	if ts := cloudevents.FormatTime(evt.Time); ts != "" {
		msg.Metadata.Set(metaTime, ts)
	}
	if evt.DataSchema != "" {
		msg.Metadata.Set(metaDataSchema, evt.DataSchema)
	}
	if evt.Subject != "" {
		msg.Metadata.Set(metaSubject, evt.Subject)
	}
	for k, v := range evt.Extensions {
		msg.Metadata.Set(k, v)
	}
	return msg
}

func eventFromMessage(msg *message.Message) (*cloudevents.Event, error) {
	eventType := msg.Metadata.Get(metaType)
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing %s metadata", cloudevents.ErrInvalidEvent, metaType)
	}
	source := msg.Metadata.Get(metaSource)
	if source == "" {
		return nil, fmt.Errorf("%w: missing %s metadata", cloudevents.ErrInvalidEvent, metaSource)
	}

	id := msg.Metadata.Get(metaID)
	if id == "" {
		id = msg.UUID
	}

	builder := cloudevents.NewBuilder().ID(id).Source(source)

	if ts := msg.Metadata.Get(metaTime); ts != "" {
		if t, err := cloudevents.ParseTime(ts); err == nil {
			builder.Time(t)
		}
	}
	if schema := msg.Metadata.Get(metaDataSchema); schema != "" {
		builder.SchemaURL(schema)
	}
	if subject := msg.Metadata.Get(metaSubject); subject != "" {
		builder.Subject(subject)
	}

	for k, v := range msg.Metadata {
		if strings.HasPrefix(k, metaPrefix) {
			continue
		}
		builder.Extension(k, v)
	}

	return builder.BuildRaw(eventType, msg.Payload)
}
