package kafka

import (
	"fmt"
	"strings"

	segmentio "github.com/segmentio/kafka-go"

	"github.com/drblury/eventflow/internal/cloudevents"
	"github.com/drblury/eventflow/internal/ids"
)

// CloudEvents binary-mode header keys. Extension attributes travel as plain
// headers; the ce- prefix is reserved for envelope attributes.
const (
	headerSpecVersion     = "ce-specversion"
	headerID              = "ce-id"
	headerSource          = "ce-source"
	headerType            = "ce-type"
	headerTime            = "ce-time"
	headerDataSchema      = "ce-dataschema"
	headerDataContentType = "ce-datacontenttype"
	headerSubject         = "ce-subject"

	headerPrefix = "ce-"
)

func messageFromEvent(evt *cloudevents.Event) segmentio.Message {
	headers := []segmentio.Header{
		{Key: headerSpecVersion, Value: []byte(evt.SpecVersion)},
		{Key: headerID, Value: []byte(evt.ID)},
		{Key: headerSource, Value: []byte(evt.Source)},
		{Key: headerType, Value: []byte(evt.Type)},
		{Key: headerDataContentType, Value: []byte(evt.DataContentType)},
	}
	if ts := cloudevents.FormatTime(evt.Time); ts != "" {
		headers = append(headers, segmentio.Header{Key: headerTime, Value: []byte(ts)})
	}
	if evt.DataSchema != "" {
		headers = append(headers, segmentio.Header{Key: headerDataSchema, Value: []byte(evt.DataSchema)})
	}
	if evt.Subject != "" {
		headers = append(headers, segmentio.Header{Key: headerSubject, Value: []byte(evt.Subject)})
	}
	for k, v := range evt.Extensions {
		headers = append(headers, segmentio.Header{Key: k, Value: []byte(v)})
	}

	msg := segmentio.Message{
		Key:     []byte(evt.ID),
		Value:   evt.Data,
		Headers: headers,
	}
	if !evt.Time.IsZero() {
		msg.Time = evt.Time
	}
	return msg
}

func eventFromMessage(msg segmentio.Message) (*cloudevents.Event, error) {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	eventType := headers[headerType]
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing %s header", cloudevents.ErrInvalidEvent, headerType)
	}
	source := headers[headerSource]
	if source == "" {
		return nil, fmt.Errorf("%w: missing %s header", cloudevents.ErrInvalidEvent, headerSource)
	}

	id := headers[headerID]
	if id == "" {
		id = string(msg.Key)
	}
	if id == "" {
		id = ids.New()
	}

	builder := cloudevents.NewBuilder().ID(id).Source(source)

	switch {
	case headers[headerTime] != "":
		if t, err := cloudevents.ParseTime(headers[headerTime]); err == nil {
			builder.Time(t)
		}
	case !msg.Time.IsZero():
		builder.Time(msg.Time)
	}

	if schema := headers[headerDataSchema]; schema != "" {
		builder.SchemaURL(schema)
	}
	if subject := headers[headerSubject]; subject != "" {
		builder.Subject(subject)
	}

	for k, v := range headers {
		if strings.HasPrefix(k, headerPrefix) {
			continue
		}
		builder.Extension(k, v)
	}

	return builder.BuildRaw(eventType, msg.Value)
}
