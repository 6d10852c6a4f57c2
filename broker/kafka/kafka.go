// Package kafka provides a durable eventflow backend on a partitioned log.
// Envelopes travel in CloudEvents binary mode: attributes as ce-* message
// headers, the encoded payload as the message value, the event ID as the
// partitioning key. Consumer tags map to Kafka consumer groups, so the tag
// owns the committed offsets for the lifetime of the subscription.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	segmentio "github.com/segmentio/kafka-go"

	"github.com/drblury/eventflow/broker"
	"github.com/drblury/eventflow/internal/cloudevents"
	"github.com/drblury/eventflow/internal/logging"
)

// BackendName is the name used to register this backend.
const BackendName = "kafka"

func init() {
	broker.RegisterWithCapabilities(BackendName, Build, broker.KafkaCapabilities)
}

// Build creates a Kafka broker from registry config.
func Build(ctx context.Context, cfg broker.Config, logger watermill.LoggerAdapter) (broker.Broker, error) {
	return New(Options{
		Brokers:      cfg.GetKafkaBrokers(),
		BatchTimeout: cfg.GetKafkaBatchTimeout(),
	}, logger)
}

// Options configures the Kafka broker.
type Options struct {
	// Brokers lists the bootstrap endpoints. Required.
	Brokers []string

	// BatchTimeout is how long a writer batches before flushing. Zero uses
	// a 10ms default.
	BatchTimeout time.Duration

	// Dialer optionally configures broker connections.
	Dialer *segmentio.Dialer
}

// Validate reports invalid option values.
func (o Options) Validate() error {
	if len(o.Brokers) == 0 {
		return fmt.Errorf("%w: kafka brokers are required", broker.ErrInvalidOptions)
	}
	return nil
}

// Broker creates Kafka-backed publishers and consumers. Writers and readers
// derived from it are tracked so Close tears all of them down.
type Broker struct {
	opts   Options
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	writers []*segmentio.Writer
	readers []*segmentio.Reader
	closed  bool
}

// New creates a Kafka broker. A nil logger is replaced with a NopLogger.
func New(opts Options, logger watermill.LoggerAdapter) (*Broker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Broker{opts: opts, logger: logging.OrNop(logger)}, nil
}

// Publisher returns a publisher writing to the channel's topic.
func (b *Broker) Publisher(options broker.PublisherOptions) (broker.Publisher, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}

	batchTimeout := b.opts.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 10 * time.Millisecond
	}

	writer := &segmentio.Writer{
		Addr:                   segmentio.TCP(b.opts.Brokers...),
		Topic:                  options.Channel,
		Balancer:               &segmentio.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           segmentio.RequireOne,
		AllowAutoTopicCreation: true,
	}

	if err := b.track(writer, nil); err != nil {
		return nil, err
	}
	return &Publisher{broker: b, channel: options.Channel, writer: writer}, nil
}

// Consumer returns a consumer reading the channel's topic in the consumer
// group named by the tag.
func (b *Broker) Consumer(options broker.ConsumerOptions) (broker.Consumer, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}

	reader := segmentio.NewReader(segmentio.ReaderConfig{
		Brokers:  b.opts.Brokers,
		Topic:    options.Channel,
		GroupID:  options.ConsumerTag,
		Dialer:   b.opts.Dialer,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	if err := b.track(nil, reader); err != nil {
		_ = reader.Close()
		return nil, err
	}
	return &Consumer{
		broker:  b,
		channel: options.Channel,
		tag:     options.ConsumerTag,
		reader:  reader,
	}, nil
}

// Close shuts down every writer and reader created from this broker.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	writers := b.writers
	readers := b.readers
	b.writers, b.readers = nil, nil
	b.mu.Unlock()

	var closeErr error
	for _, r := range readers {
		closeErr = errors.Join(closeErr, r.Close())
	}
	for _, w := range writers {
		closeErr = errors.Join(closeErr, w.Close())
	}
	return closeErr
}

func (b *Broker) track(w *segmentio.Writer, r *segmentio.Reader) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return broker.ErrBrokerClosed
	}
	if w != nil {
		b.writers = append(b.writers, w)
	}
	if r != nil {
		b.readers = append(b.readers, r)
	}
	return nil
}

// untrack removes a closed handle so a long-lived broker does not accumulate
// dead writers and readers, or re-close them on Close.
func (b *Broker) untrack(w *segmentio.Writer, r *segmentio.Reader) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w != nil {
		for i := range b.writers {
			if b.writers[i] == w {
				b.writers = append(b.writers[:i], b.writers[i+1:]...)
				break
			}
		}
	}
	if r != nil {
		for i := range b.readers {
			if b.readers[i] == r {
				b.readers = append(b.readers[:i], b.readers[i+1:]...)
				break
			}
		}
	}
}

// Publisher publishes events to one topic.
type Publisher struct {
	broker  *Broker
	channel string
	writer  *segmentio.Writer
}

// Publish writes the event to the topic. Completion means the leader accepted
// the record, not that any consumer received it.
func (p *Publisher) Publish(ctx context.Context, event *cloudevents.Event) error {
	if event == nil {
		return fmt.Errorf("%w: event is required", broker.ErrEncodeFailed)
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", broker.ErrEncodeFailed, err)
	}

	if err := p.writer.WriteMessages(ctx, messageFromEvent(event)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var writeErrs segmentio.WriteErrors
		if errors.As(err, &writeErrs) {
			return fmt.Errorf("%w: %v", broker.ErrBackendRejected, err)
		}
		return fmt.Errorf("%w: %v", broker.ErrUnreachable, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	p.broker.untrack(p.writer, nil)
	return p.writer.Close()
}

// Consumer consumes one topic in one consumer group.
type Consumer struct {
	broker  *Broker
	channel string
	tag     string
	reader  *segmentio.Reader

	mu          sync.Mutex
	streamTaken bool
}

// Stream starts the fetch loop and returns the delivery sequence. Offsets are
// committed on Ack, so unacknowledged events are redelivered after a group
// rebalance. Stream may be called once.
func (c *Consumer) Stream(ctx context.Context) (<-chan *broker.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streamTaken {
		return nil, broker.ErrStreamAlreadyTaken
	}
	c.streamTaken = true

	out := make(chan *broker.Delivery)
	go c.fetchLoop(ctx, out)
	return out, nil
}

func (c *Consumer) fetchLoop(ctx context.Context, out chan<- *broker.Delivery) {
	defer close(out)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			c.logger().Error("fetch failed", err, watermill.LogFields{
				"channel": c.channel,
				"tag":     c.tag,
			})
			continue
		}

		event, err := eventFromMessage(msg)
		if err != nil {
			// Malformed wire messages are committed and skipped; redelivering
			// them could never succeed.
			c.logger().Error("dropping malformed message", err, watermill.LogFields{
				"channel":   c.channel,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			})
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		delivery := broker.NewDelivery(
			c.channel,
			c.tag,
			deliveryToken(msg),
			event,
			&acker{reader: c.reader, message: msg},
		)

		select {
		case out <- delivery:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) logger() watermill.LoggerAdapter {
	return c.broker.logger
}

// Close closes the reader, ending the stream.
func (c *Consumer) Close() error {
	c.broker.untrack(nil, c.reader)
	return c.reader.Close()
}

// acker commits the message offset on ack. Nack leaves the offset
// uncommitted; the group protocol redelivers the event under a new token.
type acker struct {
	reader  *segmentio.Reader
	message segmentio.Message
}

func (a *acker) Ack(ctx context.Context) error {
	if err := a.reader.CommitMessages(ctx, a.message); err != nil {
		return fmt.Errorf("%w: %v", broker.ErrAckUnreachable, err)
	}
	return nil
}

func (a *acker) Nack(ctx context.Context) error { return nil }

func deliveryToken(msg segmentio.Message) string {
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}
