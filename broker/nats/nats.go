// Package nats provides an eventflow backend on NATS core. The full envelope
// travels as structured JSON in the message body, with ce-id/ce-type/ce-source
// mirrored into headers for subject-side filtering. NATS core is at-most-once
// with no delivery tracking, so ack and nack resolve the delivery locally and
// nothing else; the consumer tag maps to a queue group, which load-balances
// consumers sharing a tag and fans out across distinct tags.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	natsio "github.com/nats-io/nats.go"

	"github.com/drblury/eventflow/broker"
	"github.com/drblury/eventflow/internal/cloudevents"
	"github.com/drblury/eventflow/internal/ids"
	"github.com/drblury/eventflow/internal/jsoncodec"
	"github.com/drblury/eventflow/internal/logging"
)

// BackendName is the name used to register this backend.
const BackendName = "nats"

const (
	headerID     = "ce-id"
	headerType   = "ce-type"
	headerSource = "ce-source"
)

func init() {
	broker.RegisterWithCapabilities(BackendName, Build, broker.NATSCapabilities)
}

// Build creates a NATS broker from registry config.
func Build(ctx context.Context, cfg broker.Config, logger watermill.LoggerAdapter) (broker.Broker, error) {
	return New(Options{URL: cfg.GetNATSURL()}, logger)
}

// Options configures the NATS broker.
type Options struct {
	// URL is the NATS server address. Required.
	URL string

	// ConnectOptions are passed to the NATS client.
	ConnectOptions []natsio.Option
}

// Validate reports invalid option values.
func (o Options) Validate() error {
	if o.URL == "" {
		return fmt.Errorf("%w: nats url is required", broker.ErrInvalidOptions)
	}
	return nil
}

// Broker owns one NATS connection, shared by every handle derived from it.
type Broker struct {
	conn   *natsio.Conn
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	subs   []*natsio.Subscription
	closed bool
}

// New connects to NATS and returns the broker. A nil logger is replaced with
// a NopLogger.
func New(opts Options, logger watermill.LoggerAdapter) (*Broker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	conn, err := natsio.Connect(opts.URL, opts.ConnectOptions...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", broker.ErrConnectionFailed, err)
	}

	return &Broker{conn: conn, logger: logging.OrNop(logger)}, nil
}

// Publisher returns a publisher bound to the channel's subject.
func (b *Broker) Publisher(options broker.PublisherOptions) (broker.Publisher, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	if b.isClosed() {
		return nil, broker.ErrBrokerClosed
	}
	return &Publisher{broker: b, channel: options.Channel}, nil
}

// Consumer returns a consumer on the channel's subject, in the queue group
// named by the tag.
func (b *Broker) Consumer(options broker.ConsumerOptions) (broker.Consumer, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	if b.isClosed() {
		return nil, broker.ErrBrokerClosed
	}
	return &Consumer{broker: b, channel: options.Channel, tag: options.ConsumerTag}, nil
}

// Close drains every subscription and the connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var closeErr error
	for _, sub := range subs {
		closeErr = errors.Join(closeErr, sub.Drain())
	}
	closeErr = errors.Join(closeErr, b.conn.Drain())
	b.conn.Close()
	return closeErr
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Broker) trackSub(sub *natsio.Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return broker.ErrBrokerClosed
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Publisher publishes events to one subject.
type Publisher struct {
	broker  *Broker
	channel string
}

// Publish sends the envelope to the subject. Completion means the server
// accepted the message; consumers not currently subscribed never see it.
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

	body, err := jsoncodec.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %v", broker.ErrEncodeFailed, err)
	}

	msg := natsio.NewMsg(p.channel)
	msg.Data = body
	msg.Header.Set(headerID, event.ID)
	msg.Header.Set(headerType, event.Type)
	msg.Header.Set(headerSource, event.Source)

	if err := p.broker.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("%w: %v", broker.ErrUnreachable, err)
	}
	if err := p.broker.conn.Flush(); err != nil {
		return fmt.Errorf("%w: %v", broker.ErrUnreachable, err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the broker.
func (p *Publisher) Close() error { return nil }

// Consumer consumes one subject in one queue group.
type Consumer struct {
	broker  *Broker
	channel string
	tag     string

	mu          sync.Mutex
	streamTaken bool
	closed      bool
	done        chan struct{}
	sub         *natsio.Subscription
}

// Stream subscribes and returns the delivery sequence. Stream may be called
// once.
func (c *Consumer) Stream(ctx context.Context) (<-chan *broker.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, broker.ErrBrokerClosed
	}
	if c.streamTaken {
		return nil, broker.ErrStreamAlreadyTaken
	}
	if c.broker.isClosed() {
		return nil, broker.ErrBrokerClosed
	}

	msgs := make(chan *natsio.Msg, 64)
	done := make(chan struct{})
	sub, err := c.broker.conn.QueueSubscribe(c.channel, c.tag, func(m *natsio.Msg) {
		enqueue(ctx, done, msgs, m)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", broker.ErrBackendUnavailable, err)
	}
	if err := c.broker.trackSub(sub); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}

	c.streamTaken = true
	c.sub = sub
	c.done = done

	out := make(chan *broker.Delivery)
	go c.forward(ctx, done, msgs, out)
	return out, nil
}

// enqueue hands a received message to the forward loop. It must never block
// past the consumer's lifetime: once done closes, pending handler callbacks
// drop their message so the subscription can drain.
func enqueue(ctx context.Context, done <-chan struct{}, msgs chan<- *natsio.Msg, m *natsio.Msg) {
	select {
	case msgs <- m:
	case <-done:
	case <-ctx.Done():
	}
}

func (c *Consumer) forward(ctx context.Context, done <-chan struct{}, msgs <-chan *natsio.Msg, out chan<- *broker.Delivery) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case msg := <-msgs:
			event := new(cloudevents.Event)
			if err := jsoncodec.Unmarshal(msg.Data, event); err != nil {
				c.broker.logger.Error("dropping malformed message", err, watermill.LogFields{
					"subject": msg.Subject,
				})
				continue
			}

			delivery := broker.NewDelivery(c.channel, c.tag, ids.New(), event, broker.NoOpAcker{})
			select {
			case out <- delivery:
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}
}

// Close drains the subscription so no further messages arrive.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.done != nil {
		close(c.done)
	}
	if c.sub != nil {
		return c.sub.Drain()
	}
	return nil
}
