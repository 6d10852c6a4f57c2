// Package memory provides the in-process reference broker. It implements the
// full eventflow contract over in-memory multiplexing: broadcast fan-out to
// every active consumer of a channel, per-publisher ordering, no backlog for
// late subscribers, and optional bounded queues whose overflow policy is to
// block the publisher.
//
// There is no persistence and no redelivery; ack and nack are observable
// no-ops beyond the delivery's own state transition. The backend exists to
// exercise the contract deterministically in tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/eventflow/broker"
	"github.com/drblury/eventflow/internal/cloudevents"
	"github.com/drblury/eventflow/internal/ids"
	"github.com/drblury/eventflow/internal/logging"
	"github.com/drblury/eventflow/internal/metrics"
)

// BackendName is the name used to register this backend.
const BackendName = "memory"

func init() {
	broker.RegisterWithCapabilities(BackendName, Build, broker.MemoryCapabilities)
}

// Build creates a memory broker from registry config.
func Build(ctx context.Context, cfg broker.Config, logger watermill.LoggerAdapter) (broker.Broker, error) {
	return New(Options{
		QueueCapacity: cfg.GetMemoryQueueCapacity(),
		RequeueOnNack: cfg.GetMemoryRequeueOnNack(),
	}, logger)
}

// Options configures the memory broker.
type Options struct {
	// QueueCapacity bounds each consumer queue. Zero means unbounded (limited
	// only by memory). When set, a full queue blocks Publish until the
	// consumer drains an entry.
	QueueCapacity int

	// RequeueOnNack republishes a nacked event to its channel, producing a
	// fresh delivery with a new token for every active consumer. Off by
	// default: nack is then purely a state transition.
	RequeueOnNack bool

	// MetricsRegisterer optionally enables Prometheus counters for published,
	// delivered, acked, nacked, and dropped events.
	MetricsRegisterer prometheus.Registerer
}

// Validate reports invalid option values.
func (o Options) Validate() error {
	if o.QueueCapacity < 0 {
		return fmt.Errorf("%w: queue capacity cannot be negative", broker.ErrInvalidOptions)
	}
	return nil
}

// Broker is the in-process broker. The zero value is not usable; construct
// with New. All handles derived from one Broker share its channel registry.
type Broker struct {
	opts      Options
	logger    watermill.LoggerAdapter
	collector *metrics.Collector

	mu       sync.RWMutex
	channels map[string]*channelState
	closed   bool
}

// New creates a memory broker. A nil logger is replaced with a NopLogger.
func New(opts Options, logger watermill.LoggerAdapter) (*Broker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	b := &Broker{
		opts:     opts,
		logger:   logging.OrNop(logger),
		channels: make(map[string]*channelState),
	}

	if opts.MetricsRegisterer != nil {
		collector, err := metrics.NewCollector(opts.MetricsRegisterer, BackendName)
		if err != nil {
			return nil, fmt.Errorf("%w: registering metrics: %v", broker.ErrInvalidOptions, err)
		}
		b.collector = collector
	}

	return b, nil
}

// Publisher returns a publisher bound to the channel in options.
func (b *Broker) Publisher(options broker.PublisherOptions) (broker.Publisher, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	if b.isClosed() {
		return nil, broker.ErrBrokerClosed
	}
	return &Publisher{broker: b, channel: options.Channel}, nil
}

// Consumer returns a consumer bound to the channel and tag in options.
func (b *Broker) Consumer(options broker.ConsumerOptions) (broker.Consumer, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	if b.isClosed() {
		return nil, broker.ErrBrokerClosed
	}
	return &Consumer{broker: b, channel: options.Channel, tag: options.ConsumerTag}, nil
}

// Close shuts down the broker. Every consumer stream ends and later publishes
// fail with ErrBrokerClosed.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	channels := make([]*channelState, 0, len(b.channels))
	for _, cs := range b.channels {
		channels = append(channels, cs)
	}
	b.mu.Unlock()

	for _, cs := range channels {
		cs.closeAll()
	}
	return nil
}

func (b *Broker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// channel returns the state for name, creating it on first use.
func (b *Broker) channel(name string) *channelState {
	b.mu.RLock()
	cs, ok := b.channels[name]
	b.mu.RUnlock()
	if ok {
		return cs
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cs, ok = b.channels[name]; ok {
		return cs
	}
	cs = &channelState{}
	b.channels[name] = cs
	return cs
}

// publish fans the event out to every queue currently registered for the
// channel, one independent copy per queue. The queue list is snapshotted under
// the per-channel lock and the lock released before any push, so no lock is
// held across a suspension point. If ctx ends while a bounded queue is full,
// consumers already pushed to keep their copy.
func (b *Broker) publish(ctx context.Context, channel string, evt *cloudevents.Event) error {
	if b.isClosed() {
		return broker.ErrBrokerClosed
	}

	queues := b.channel(channel).snapshot()
	b.collector.Published(channel)

	for _, q := range queues {
		enqueued, err := q.push(ctx, evt.Clone())
		if err != nil {
			return err
		}
		if !enqueued {
			b.collector.Dropped(channel)
		}
	}
	return nil
}

// channelState tracks the active consumer queues of one channel. Each channel
// has its own lock so unrelated channels never contend.
type channelState struct {
	mu     sync.Mutex
	queues []*queue
}

func (cs *channelState) add(q *queue) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.queues = append(cs.queues, q)
}

func (cs *channelState) remove(q *queue) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for i := range cs.queues {
		if cs.queues[i] == q {
			cs.queues = append(cs.queues[:i], cs.queues[i+1:]...)
			return
		}
	}
}

func (cs *channelState) snapshot() []*queue {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]*queue(nil), cs.queues...)
}

func (cs *channelState) closeAll() {
	cs.mu.Lock()
	queues := cs.queues
	cs.queues = nil
	cs.mu.Unlock()

	for _, q := range queues {
		q.close()
	}
}

// Publisher publishes to one channel of the memory broker.
type Publisher struct {
	broker  *Broker
	channel string
}

// Publish delivers one independent copy of event to every active consumer of
// the bound channel. With a bounded queue configured it blocks while any
// consumer's queue is full.
func (p *Publisher) Publish(ctx context.Context, event *cloudevents.Event) error {
	if event == nil {
		return fmt.Errorf("%w: event is required", broker.ErrEncodeFailed)
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", broker.ErrEncodeFailed, err)
	}
	return p.broker.publish(ctx, p.channel, event)
}

// Close is a no-op; the publisher holds no backend resources of its own.
func (p *Publisher) Close() error { return nil }

// Consumer consumes one channel of the memory broker under one tag.
type Consumer struct {
	broker  *Broker
	channel string
	tag     string

	mu          sync.Mutex
	streamTaken bool
	closed      bool
	q           *queue
}

// Stream allocates this consumer's queue, registers it under the channel, and
// returns the delivery sequence. Only events published after registration are
// delivered; there is no backlog. Stream may be called once.
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

	c.streamTaken = true
	q := newQueue(c.broker.opts.QueueCapacity)
	c.broker.channel(c.channel).add(q)
	c.q = q

	out := make(chan *broker.Delivery)
	go c.forward(ctx, q, out)
	return out, nil
}

func (c *Consumer) forward(ctx context.Context, q *queue, out chan<- *broker.Delivery) {
	defer close(out)
	defer c.detach(q)

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case evt := <-q.out:
			delivery := broker.NewDelivery(c.channel, c.tag, ids.New(), evt, &acker{
				broker:  c.broker,
				channel: c.channel,
				event:   evt,
				requeue: c.broker.opts.RequeueOnNack,
			})
			c.broker.collector.Delivered(c.channel)

			select {
			case out <- delivery:
			case <-ctx.Done():
				return
			case <-q.done:
				return
			}
		}
	}
}

func (c *Consumer) detach(q *queue) {
	c.broker.channel(c.channel).remove(q)
	q.close()
}

// Close deregisters the consumer's queue synchronously, ending its stream. No
// further events are enqueued once Close returns.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.q != nil {
		c.detach(c.q)
		c.q = nil
	}
	return nil
}
