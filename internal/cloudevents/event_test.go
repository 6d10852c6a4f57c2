package cloudevents

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userCreated struct {
	UserID int    `json:"id"`
	Name   string `json:"name"`
}

func (userCreated) EventType() string   { return "user.created" }
func (userCreated) ChannelName() string { return "public.myapp.user.created" }

func buildTestEvent(t *testing.T) *Event {
	t.Helper()
	evt, err := NewBuilder().
		ID("event-123").
		Source("myapp").
		Build(userCreated{UserID: 1, Name: "Alice"})
	require.NoError(t, err)
	return evt
}

func TestEventValidate(t *testing.T) {
	evt := buildTestEvent(t)
	require.NoError(t, evt.Validate())

	assert.Equal(t, SpecVersion, evt.SpecVersion)
	assert.Equal(t, "event-123", evt.ID)
	assert.Equal(t, "myapp", evt.Source)
	assert.Equal(t, "user.created", evt.Type)
	assert.Equal(t, ContentTypeJSON, evt.DataContentType)
}

func TestEventValidateMissingAttributes(t *testing.T) {
	tests := []struct {
		name  string
		event Event
	}{
		{"wrong specversion", Event{SpecVersion: "0.3", ID: "x", Source: "s", Type: "t"}},
		{"missing id", Event{SpecVersion: SpecVersion, Source: "s", Type: "t"}},
		{"missing source", Event{SpecVersion: SpecVersion, ID: "x", Type: "t"}},
		{"missing type", Event{SpecVersion: SpecVersion, ID: "x", Source: "s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestEventExtension(t *testing.T) {
	evt := buildTestEvent(t)
	assert.Equal(t, "", evt.Extension("tenant"))

	evt.Extensions = map[string]string{"tenant": "acme"}
	assert.Equal(t, "acme", evt.Extension("tenant"))
}

func TestEventClone(t *testing.T) {
	evt := buildTestEvent(t)
	evt.Extensions = map[string]string{"tenant": "acme"}

	cloned := evt.Clone()
	require.Equal(t, evt, cloned)

	// Mutating the clone must not touch the original.
	cloned.Extensions["tenant"] = "other"
	cloned.Data[0] = 'X'
	assert.Equal(t, "acme", evt.Extension("tenant"))
	assert.Equal(t, byte('{'), evt.Data[0])
}

func TestEventJSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	evt, err := NewBuilder().
		ID("event-123").
		Source("myapp").
		Subject("user/1").
		SchemaURL("https://example.com/schemas/user").
		Time(now).
		Extension("tenant", "acme").
		Build(userCreated{UserID: 1, Name: "Alice"})
	require.NoError(t, err)

	encoded, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	assert.Equal(t, evt.SpecVersion, decoded.SpecVersion)
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, evt.Source, decoded.Source)
	assert.Equal(t, evt.Type, decoded.Type)
	assert.True(t, evt.Time.Equal(decoded.Time))
	assert.Equal(t, evt.DataSchema, decoded.DataSchema)
	assert.Equal(t, evt.Subject, decoded.Subject)
	assert.Equal(t, evt.Extensions, decoded.Extensions)
	assert.JSONEq(t, string(evt.Data), string(decoded.Data))
}

func TestEventJSONWireShape(t *testing.T) {
	evt := buildTestEvent(t)
	evt.Extensions = map[string]string{"tenant": "acme"}

	encoded, err := json.Marshal(evt)
	require.NoError(t, err)

	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(encoded, &wire))

	assert.Contains(t, wire, "specversion")
	assert.Contains(t, wire, "id")
	assert.Contains(t, wire, "source")
	assert.Contains(t, wire, "type")
	assert.Contains(t, wire, "data")
	// Extensions are nested, never flattened into the top level.
	assert.Contains(t, wire, "extensions")
	assert.NotContains(t, wire, "tenant")
	// The zero time is omitted entirely.
	assert.NotContains(t, wire, "time")
}

func TestEventUnmarshalInvalidTime(t *testing.T) {
	var evt Event
	err := json.Unmarshal([]byte(`{"specversion":"1.0","id":"x","source":"s","type":"t","time":"yesterday"}`), &evt)
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestParseTime(t *testing.T) {
	// Sub-second precision is optional on the wire.
	for _, s := range []string{"2026-08-29T10:30:00Z", "2026-08-29T10:30:00.123456789Z"} {
		parsed, err := ParseTime(s)
		require.NoError(t, err)
		assert.Equal(t, 2026, parsed.Year())
	}

	_, err := ParseTime("not-a-time")
	assert.Error(t, err)
}

func TestFormatTimeZero(t *testing.T) {
	assert.Equal(t, "", FormatTime(time.Time{}))
}
