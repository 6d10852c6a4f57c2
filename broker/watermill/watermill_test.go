package watermill

import (
	"context"
	"testing"
	"time"

	wm "github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventflow/broker"
	"github.com/drblury/eventflow/internal/cloudevents"
)

func newGoChannelBroker(t *testing.T) *Broker {
	t.Helper()
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, wm.NopLogger{})
	b, err := New(Options{Publisher: pubsub, Subscriber: pubsub}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func receive(t *testing.T, stream <-chan *broker.Delivery) *broker.Delivery {
	t.Helper()
	select {
	case d, ok := <-stream:
		require.True(t, ok, "stream closed before a delivery arrived")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a delivery")
		return nil
	}
}

func TestOptionsValidate(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, wm.NopLogger{})

	assert.ErrorIs(t, Options{}.Validate(), broker.ErrInvalidOptions)
	assert.ErrorIs(t, Options{Publisher: pubsub}.Validate(), broker.ErrInvalidOptions)
	assert.ErrorIs(t, Options{Subscriber: pubsub}.Validate(), broker.ErrInvalidOptions)
	assert.NoError(t, Options{Publisher: pubsub, Subscriber: pubsub}.Validate())
}

func TestPublishConsumeRoundTrip(t *testing.T) {
	b := newGoChannelBroker(t)
	ctx := context.Background()

	con, err := b.Consumer(broker.ConsumerOptions{Channel: "users", ConsumerTag: "worker-1"})
	require.NoError(t, err)
	stream, err := con.Stream(ctx)
	require.NoError(t, err)

	now := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	evt, err := cloudevents.NewBuilder().
		ID("event-123").
		Source("myapp").
		Subject("user/1").
		Time(now).
		Extension("tenant", "acme").
		BuildRaw("user.created", []byte(`{"id":1,"name":"Alice"}`))
	require.NoError(t, err)

	pub, err := b.Publisher(broker.PublisherOptions{Channel: "users"})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, evt))

	d := receive(t, stream)
	assert.Equal(t, "users", d.Channel())
	assert.Equal(t, "worker-1", d.ConsumerTag())
	assert.NotEmpty(t, d.Token())

	got := d.Event()
	assert.Equal(t, "event-123", got.ID)
	assert.Equal(t, "myapp", got.Source)
	assert.Equal(t, "user.created", got.Type)
	assert.Equal(t, "user/1", got.Subject)
	assert.True(t, now.Equal(got.Time))
	assert.Equal(t, "acme", got.Extension("tenant"))
	assert.Equal(t, `{"id":1,"name":"Alice"}`, string(got.Data))

	require.NoError(t, d.Ack(ctx))
	assert.Equal(t, broker.Acked, d.State())
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, wm.NopLogger{})
	b, err := New(Options{Publisher: pubsub, Subscriber: pubsub}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	con, err := b.Consumer(broker.ConsumerOptions{Channel: "users", ConsumerTag: "worker-1"})
	require.NoError(t, err)
	stream, err := con.Stream(ctx)
	require.NoError(t, err)

	// A bare message without envelope metadata never reaches the stream.
	require.NoError(t, pubsub.Publish("users", message.NewMessage(wm.NewUUID(), []byte("junk"))))

	evt, err := cloudevents.NewBuilder().
		ID("event-123").
		Source("myapp").
		BuildRaw("user.created", []byte(`{}`))
	require.NoError(t, err)

	pub, err := b.Publisher(broker.PublisherOptions{Channel: "users"})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, evt))

	d := receive(t, stream)
	assert.Equal(t, "event-123", d.Event().ID)
	require.NoError(t, d.Ack(ctx))
}

func TestConsumerCloseEndsStream(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, wm.NopLogger{})
	b, err := New(Options{Publisher: pubsub, Subscriber: pubsub}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	con, err := b.Consumer(broker.ConsumerOptions{Channel: "users", ConsumerTag: "worker-1"})
	require.NoError(t, err)
	stream, err := con.Stream(ctx)
	require.NoError(t, err)

	require.NoError(t, con.Close())
	require.NoError(t, con.Close())

	select {
	case d, ok := <-stream:
		require.False(t, ok, "got delivery of event %s after Close", eventID(d))
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close")
	}

	// Events published after Close never reach the dead stream.
	evt, err := cloudevents.NewBuilder().
		ID("e1").
		Source("myapp").
		BuildRaw("user.created", []byte(`{}`))
	require.NoError(t, err)

	pub, err := b.Publisher(broker.PublisherOptions{Channel: "users"})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, evt))

	select {
	case d, ok := <-stream:
		require.False(t, ok, "got delivery of event %s after Close", eventID(d))
	case <-time.After(50 * time.Millisecond):
	}
}

func eventID(d *broker.Delivery) string {
	if d == nil {
		return ""
	}
	return d.Event().ID
}

func TestStreamMayBeTakenOnce(t *testing.T) {
	b := newGoChannelBroker(t)

	con, err := b.Consumer(broker.ConsumerOptions{Channel: "users", ConsumerTag: "worker-1"})
	require.NoError(t, err)

	_, err = con.Stream(context.Background())
	require.NoError(t, err)

	_, err = con.Stream(context.Background())
	assert.ErrorIs(t, err, broker.ErrStreamAlreadyTaken)
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	b := newGoChannelBroker(t)

	pub, err := b.Publisher(broker.PublisherOptions{Channel: "users"})
	require.NoError(t, err)

	assert.ErrorIs(t, pub.Publish(context.Background(), nil), broker.ErrEncodeFailed)
	assert.ErrorIs(t, pub.Publish(context.Background(), &cloudevents.Event{}), broker.ErrEncodeFailed)
}

func TestClosedBrokerRejectsHandles(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, wm.NopLogger{})
	b, err := New(Options{Publisher: pubsub, Subscriber: pubsub}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = b.Publisher(broker.PublisherOptions{Channel: "users"})
	assert.ErrorIs(t, err, broker.ErrBrokerClosed)

	_, err = b.Consumer(broker.ConsumerOptions{Channel: "users", ConsumerTag: "worker-1"})
	assert.ErrorIs(t, err, broker.ErrBrokerClosed)
}
