// Package metrics provides Prometheus instrumentation for eventflow brokers.
// A nil *Collector is valid and turns every method into a no-op, so backends
// can instrument unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector counts broker activity per channel.
type Collector struct {
	published *prometheus.CounterVec
	delivered *prometheus.CounterVec
	acked     *prometheus.CounterVec
	nacked    *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

// NewCollector registers the eventflow counters with reg. The backend label
// distinguishes collectors of different broker implementations.
func NewCollector(reg prometheus.Registerer, backend string) (*Collector, error) {
	c := &Collector{
		published: newCounter(backend, "events_published_total", "Events accepted for delivery, per channel."),
		delivered: newCounter(backend, "events_delivered_total", "Delivery envelopes handed to consumer streams, per channel."),
		acked:     newCounter(backend, "deliveries_acked_total", "Deliveries resolved as acknowledged, per channel."),
		nacked:    newCounter(backend, "deliveries_nacked_total", "Deliveries resolved as rejected, per channel."),
		dropped:   newCounter(backend, "events_dropped_total", "Events dropped because the consumer queue closed mid-publish, per channel."),
	}

	for _, collector := range []prometheus.Collector{c.published, c.delivered, c.acked, c.nacked, c.dropped} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func newCounter(backend, name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "eventflow",
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"backend": backend},
	}, []string{"channel"})
}

func (c *Collector) Published(channel string) {
	if c == nil {
		return
	}
	c.published.WithLabelValues(channel).Inc()
}

func (c *Collector) Delivered(channel string) {
	if c == nil {
		return
	}
	c.delivered.WithLabelValues(channel).Inc()
}

func (c *Collector) Acked(channel string) {
	if c == nil {
		return
	}
	c.acked.WithLabelValues(channel).Inc()
}

func (c *Collector) Nacked(channel string) {
	if c == nil {
		return
	}
	c.nacked.WithLabelValues(channel).Inc()
}

func (c *Collector) Dropped(channel string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(channel).Inc()
}
