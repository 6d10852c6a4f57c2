// Package eventflow is a transport-agnostic publish/consume/acknowledge layer
// for structured events. Producers and consumers program against the Broker,
// Publisher, and Consumer contracts while the backing infrastructure (an
// in-process broker, Kafka, NATS, or any Watermill transport) is chosen by
// configuration and swapped without touching application code.
//
// Every event travels in a CloudEvents 1.0 envelope: a validated set of
// attributes (id, source, type, time, optional subject, schema, extensions)
// around a JSON payload. The Builder constructs envelopes from payload types
// implementing EventData, and DecodeData recovers the typed payload on the
// consuming side with a type-tag check before unmarshaling.
//
// Consumers receive *Delivery values over a channel obtained from
// Consumer.Stream. A Delivery carries the envelope plus routing identity and
// resolves exactly once: Ack and Nack are idempotent, racing resolvers are
// no-ops, and a failed resolution leaves the delivery pending so it can be
// retried. What acknowledgement means is backend-specific and advertised
// through Capabilities.
//
// # Backends
//
// Eventflow ships 4 backends out of the box:
//   - memory: In-process broker with per-consumer queues, publish-order
//     delivery, fan-out, and optional bounded-queue backpressure
//   - kafka: Durable partitioned log; consumer tags map to consumer groups
//     and ack commits the offset
//   - nats: At-most-once core NATS; consumer tags map to queue groups
//   - watermill: Adapter wrapping any Watermill publisher/subscriber pair
//
// Backends register themselves with the backend registry from init(), so a
// blank import is enough to make one buildable from Config:
//
//	import _ "github.com/drblury/eventflow/broker/memory"
//
// # Observability
//
// Backends log through a watermill.LoggerAdapter (NewSlogLogger bridges to
// log/slog) and the memory broker publishes Prometheus counters for published,
// delivered, acked, nacked, and dropped events when given a registerer.
package eventflow
