// Package cloudevents implements the eventflow event envelope, aligned with
// the CloudEvents v1.0 attribute set. The envelope is transport-independent:
// every backend serializes it to its own wire format using only these fields.
package cloudevents

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/drblury/eventflow/internal/jsoncodec"
)

// SpecVersion is the CloudEvents specification version implemented.
const SpecVersion = "1.0"

// ContentTypeJSON is the default payload encoding.
const ContentTypeJSON = "application/json"

// Event is an immutable event envelope. Build one with a Builder; the payload
// is encoded eagerly at build time and Type always comes from the payload's
// EventData capability.
type Event struct {
	// SpecVersion is the CloudEvents specification version, always "1.0".
	SpecVersion string

	// ID uniquely identifies the event within its Source. Caller-assigned.
	ID string

	// Source identifies the context in which the event happened.
	Source string

	// Type describes the kind of occurrence, e.g. "user.created".
	Type string

	// Time is the optional occurrence timestamp.
	Time time.Time

	// DataSchema optionally identifies the schema the payload adheres to.
	DataSchema string

	// DataContentType is the payload encoding hint.
	DataContentType string

	// Subject optionally describes the subject of the event within Source.
	Subject string

	// Data is the encoded payload.
	Data json.RawMessage

	// Extensions holds additional string-valued attributes.
	Extensions map[string]string
}

// Validate checks the required CloudEvents attributes.
func (e *Event) Validate() error {
	if e.SpecVersion != SpecVersion {
		return fmt.Errorf("%w: specversion must be %q, got %q", ErrInvalidEvent, SpecVersion, e.SpecVersion)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	}
	if e.Source == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidEvent)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidEvent)
	}
	return nil
}

// Extension returns the extension value for key, or "" when absent.
func (e *Event) Extension(key string) string {
	return e.Extensions[key]
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	cloned := *e
	if e.Data != nil {
		cloned.Data = append(json.RawMessage(nil), e.Data...)
	}
	if e.Extensions != nil {
		cloned.Extensions = make(map[string]string, len(e.Extensions))
		for k, v := range e.Extensions {
			cloned.Extensions[k] = v
		}
	}
	return &cloned
}

// wireEvent is the JSON shape of the envelope. Extensions stay nested under
// their own key so unknown top-level attributes can never shadow them.
type wireEvent struct {
	SpecVersion     string            `json:"specversion"`
	ID              string            `json:"id"`
	Source          string            `json:"source"`
	Type            string            `json:"type"`
	Time            string            `json:"time,omitempty"`
	DataSchema      string            `json:"dataschema,omitempty"`
	DataContentType string            `json:"datacontenttype"`
	Subject         string            `json:"subject,omitempty"`
	Data            json.RawMessage   `json:"data,omitempty"`
	Extensions      map[string]string `json:"extensions,omitempty"`
}

// MarshalJSON implements json.Marshaler. Time is rendered as RFC3339.
func (e Event) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(wireEvent{
		SpecVersion:     e.SpecVersion,
		ID:              e.ID,
		Source:          e.Source,
		Type:            e.Type,
		Time:            FormatTime(e.Time),
		DataSchema:      e.DataSchema,
		DataContentType: e.DataContentType,
		Subject:         e.Subject,
		Data:            e.Data,
		Extensions:      e.Extensions,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := jsoncodec.Unmarshal(data, &w); err != nil {
		return err
	}

	var t time.Time
	if w.Time != "" {
		parsed, err := ParseTime(w.Time)
		if err != nil {
			return fmt.Errorf("%w: invalid time %q", ErrInvalidEvent, w.Time)
		}
		t = parsed
	}

	*e = Event{
		SpecVersion:     w.SpecVersion,
		ID:              w.ID,
		Source:          w.Source,
		Type:            w.Type,
		Time:            t,
		DataSchema:      w.DataSchema,
		DataContentType: w.DataContentType,
		Subject:         w.Subject,
		Data:            w.Data,
		Extensions:      w.Extensions,
	}
	return nil
}

// FormatTime renders t for the wire, or "" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime accepts RFC3339 timestamps with or without sub-second precision.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
