// Package metrics exposes the engine's internal counters through
// github.com/prometheus/client_golang, the metrics library the teacher
// corpus declares (go.mod) for its own measurement surfaces. Per spec.md
// §1, the sending/receiving application's own logging/measurement
// pipeline is an out-of-scope external collaborator: this package only
// updates a Collector's counters/gauges, it never stands up an HTTP
// exporter or push client itself.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds the engine's Prometheus instruments. Callers register
// it with their own prometheus.Registerer if they want it scraped.
type Collector struct {
	ProductsSent     prometheus.Counter
	ProductsReceived prometheus.Counter
	ProductsMissed   prometheus.Counter
	BytesRetransmitted prometheus.Counter
	RetentionEntries   prometheus.Gauge
	DelayQueueDepth    prometheus.Gauge
}

// NewCollector builds a Collector with a common namespace/subsystem so
// its instruments don't collide with an embedding application's own
// metrics.
func NewCollector(namespace, subsystem string) *Collector {
	return &Collector{
		ProductsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "products_sent_total",
			Help: "Products emitted by the sender engine.",
		}),
		ProductsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "products_received_total",
			Help: "Products fully reconstructed by the receiver engine.",
		}),
		ProductsMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "products_missed_total",
			Help: "Products reported to the application via OnMissedProd.",
		}),
		BytesRetransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "bytes_retransmitted_total",
			Help: "Payload bytes sent over the retransmission stream.",
		}),
		RetentionEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "retention_entries",
			Help: "Live sender-side retention map entries.",
		}),
		DelayQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "delay_queue_depth",
			Help: "Pending entries in the reveal-time delay queue.",
		}),
	}
}

// Collectors returns every instrument, for bulk registration with a
// prometheus.Registerer.
func (c *Collector) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ProductsSent, c.ProductsReceived, c.ProductsMissed,
		c.BytesRetransmitted, c.RetentionEntries, c.DelayQueueDepth,
	}
}
