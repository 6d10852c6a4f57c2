package cloudevents

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/drblury/eventflow/internal/jsoncodec"
)

// Builder assembles an Event and validates it before construction. ID and
// Source are required; the event type is always taken from the payload's
// EventData capability, so a payload can never be published under a mislabeled
// type. The payload is encoded at Build time, surfacing encode errors
// immediately rather than at publish time.
type Builder struct {
	id         string
	source     string
	subject    string
	schemaURL  string
	time       time.Time
	extensions map[string]string
	err        error
}

// NewBuilder returns an empty event builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// ID sets the caller-assigned event identifier, unique per source.
func (b *Builder) ID(id string) *Builder {
	b.id = id
	return b
}

// Source sets the origin identifier.
func (b *Builder) Source(source string) *Builder {
	b.source = source
	return b
}

// Subject sets the optional event subject.
func (b *Builder) Subject(subject string) *Builder {
	b.subject = subject
	return b
}

// Time sets the optional occurrence timestamp.
func (b *Builder) Time(t time.Time) *Builder {
	b.time = t
	return b
}

// SchemaURL sets the optional payload schema reference.
func (b *Builder) SchemaURL(url string) *Builder {
	b.schemaURL = url
	return b
}

// Extension adds a string extension attribute. Declaring the same key twice
// is a build error; last-write-wins is deliberately not supported.
func (b *Builder) Extension(key, value string) *Builder {
	if b.extensions == nil {
		b.extensions = make(map[string]string)
	}
	if _, dup := b.extensions[key]; dup {
		if b.err == nil {
			b.err = fmt.Errorf("%w: duplicate extension key %q", ErrInvalidEvent, key)
		}
		return b
	}
	b.extensions[key] = value
	return b
}

// Extensions adds every entry of the given map, with the same duplicate-key
// rule as Extension.
func (b *Builder) Extensions(extensions map[string]string) *Builder {
	for k, v := range extensions {
		b.Extension(k, v)
	}
	return b
}

// Build encodes data and constructs the event. The event type is read from
// the payload's EventData capability.
func (b *Builder) Build(data EventData) (*Event, error) {
	encoded, err := jsoncodec.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %q payload: %v", ErrInvalidEvent, data.EventType(), err)
	}
	return b.build(data.EventType(), encoded)
}

// BuildRaw constructs an event around an already-encoded payload. Backends use
// this to reconstruct envelopes from wire messages.
func (b *Builder) BuildRaw(eventType string, payload []byte) (*Event, error) {
	return b.build(eventType, payload)
}

func (b *Builder) build(eventType string, payload []byte) (*Event, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidEvent)
	}
	if b.source == "" {
		return nil, fmt.Errorf("%w: source is required", ErrInvalidEvent)
	}
	if eventType == "" {
		return nil, fmt.Errorf("%w: type is required", ErrInvalidEvent)
	}

	evt := &Event{
		SpecVersion:     SpecVersion,
		ID:              b.id,
		Source:          b.source,
		Type:            eventType,
		Time:            b.time,
		DataSchema:      b.schemaURL,
		DataContentType: ContentTypeJSON,
		Subject:         b.subject,
		Data:            json.RawMessage(payload),
	}
	if len(b.extensions) > 0 {
		evt.Extensions = make(map[string]string, len(b.extensions))
		for k, v := range b.extensions {
			evt.Extensions[k] = v
		}
	}
	return evt, nil
}
