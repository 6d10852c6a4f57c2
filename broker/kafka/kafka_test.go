package kafka

import (
	"context"
	"testing"
	"time"

	segmentio "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventflow/broker"
	"github.com/drblury/eventflow/internal/cloudevents"
)

func TestOptionsValidate(t *testing.T) {
	assert.ErrorIs(t, Options{}.Validate(), broker.ErrInvalidOptions)
	assert.NoError(t, Options{Brokers: []string{"localhost:9092"}}.Validate())

	_, err := New(Options{}, nil)
	assert.ErrorIs(t, err, broker.ErrInvalidOptions)
}

func TestBrokerRejectsInvalidHandleOptions(t *testing.T) {
	b, err := New(Options{Brokers: []string{"localhost:9092"}}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	_, err = b.Publisher(broker.PublisherOptions{})
	assert.ErrorIs(t, err, broker.ErrInvalidOptions)

	_, err = b.Consumer(broker.ConsumerOptions{Channel: "users"})
	assert.ErrorIs(t, err, broker.ErrInvalidOptions)
}

func TestBrokerClosedRejectsHandles(t *testing.T) {
	b, err := New(Options{Brokers: []string{"localhost:9092"}}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = b.Publisher(broker.PublisherOptions{Channel: "users"})
	assert.ErrorIs(t, err, broker.ErrBrokerClosed)

	_, err = b.Consumer(broker.ConsumerOptions{Channel: "users", ConsumerTag: "group-1"})
	assert.ErrorIs(t, err, broker.ErrBrokerClosed)
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	b, err := New(Options{Brokers: []string{"localhost:9092"}}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	pub, err := b.Publisher(broker.PublisherOptions{Channel: "users"})
	require.NoError(t, err)

	assert.ErrorIs(t, pub.Publish(context.Background(), nil), broker.ErrEncodeFailed)
	assert.ErrorIs(t, pub.Publish(context.Background(), &cloudevents.Event{}), broker.ErrEncodeFailed)
}

func TestClosedHandlesAreUntracked(t *testing.T) {
	b, err := New(Options{Brokers: []string{"localhost:9092"}}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	pub, err := b.Publisher(broker.PublisherOptions{Channel: "users"})
	require.NoError(t, err)
	con, err := b.Consumer(broker.ConsumerOptions{Channel: "users", ConsumerTag: "group-1"})
	require.NoError(t, err)

	b.mu.Lock()
	assert.Len(t, b.writers, 1)
	assert.Len(t, b.readers, 1)
	b.mu.Unlock()

	// Closing a handle removes it, so a long-lived broker creating many
	// short-lived publishers does not accumulate dead writers.
	require.NoError(t, pub.Close())
	require.NoError(t, con.Close())

	b.mu.Lock()
	assert.Empty(t, b.writers)
	assert.Empty(t, b.readers)
	b.mu.Unlock()
}

func TestMessageRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	evt, err := cloudevents.NewBuilder().
		ID("event-123").
		Source("myapp").
		Subject("user/1").
		SchemaURL("https://example.com/schemas/user").
		Time(now).
		Extension("tenant", "acme").
		BuildRaw("user.created", []byte(`{"id":1,"name":"Alice"}`))
	require.NoError(t, err)

	msg := messageFromEvent(evt)
	assert.Equal(t, []byte("event-123"), msg.Key)
	assert.Equal(t, []byte(`{"id":1,"name":"Alice"}`), msg.Value)
	assert.True(t, msg.Time.Equal(now))

	decoded, err := eventFromMessage(msg)
	require.NoError(t, err)

	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, evt.Source, decoded.Source)
	assert.Equal(t, evt.Type, decoded.Type)
	assert.True(t, evt.Time.Equal(decoded.Time))
	assert.Equal(t, evt.Subject, decoded.Subject)
	assert.Equal(t, evt.DataSchema, decoded.DataSchema)
	assert.Equal(t, "acme", decoded.Extension("tenant"))
	assert.Equal(t, string(evt.Data), string(decoded.Data))
}

func TestEventFromMessageRequiresTypeAndSource(t *testing.T) {
	_, err := eventFromMessage(segmentio.Message{
		Headers: []segmentio.Header{{Key: headerSource, Value: []byte("myapp")}},
	})
	assert.ErrorIs(t, err, cloudevents.ErrInvalidEvent)

	_, err = eventFromMessage(segmentio.Message{
		Headers: []segmentio.Header{{Key: headerType, Value: []byte("user.created")}},
	})
	assert.ErrorIs(t, err, cloudevents.ErrInvalidEvent)
}

func TestEventFromMessageIDFallbacks(t *testing.T) {
	base := []segmentio.Header{
		{Key: headerType, Value: []byte("user.created")},
		{Key: headerSource, Value: []byte("myapp")},
	}

	// Falls back to the message key.
	evt, err := eventFromMessage(segmentio.Message{Key: []byte("key-1"), Headers: base})
	require.NoError(t, err)
	assert.Equal(t, "key-1", evt.ID)

	// No header and no key: a fresh ID is minted.
	evt, err = eventFromMessage(segmentio.Message{Headers: base})
	require.NoError(t, err)
	assert.NotEmpty(t, evt.ID)
}

func TestEventFromMessageTimeFallsBackToMessageTime(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	evt, err := eventFromMessage(segmentio.Message{
		Time: now,
		Headers: []segmentio.Header{
			{Key: headerType, Value: []byte("user.created")},
			{Key: headerSource, Value: []byte("myapp")},
		},
	})
	require.NoError(t, err)
	assert.True(t, evt.Time.Equal(now))
}

func TestDeliveryToken(t *testing.T) {
	token := deliveryToken(segmentio.Message{Topic: "users", Partition: 3, Offset: 42})
	assert.Equal(t, "users/3/42", token)
}

func TestStreamMayBeTakenOnce(t *testing.T) {
	b, err := New(Options{Brokers: []string{"localhost:9092"}}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	con, err := b.Consumer(broker.ConsumerOptions{Channel: "users", ConsumerTag: "group-1"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = con.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = con.Stream(ctx)
	require.NoError(t, err)

	_, err = con.Stream(ctx)
	assert.ErrorIs(t, err, broker.ErrStreamAlreadyTaken)
}
