package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StreamCollector exposes metrics for the contact fan-out hub and the
// position report ingestor.
type StreamCollector struct {
	gatherer prometheus.Gatherer

	Published   *prometheus.CounterVec
	Ingested    *prometheus.CounterVec
	Subscribers prometheus.Gauge
}

// NewStreamCollector registers stream metrics against reg.
func NewStreamCollector(reg prometheus.Registerer) (*StreamCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	published, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ais_stream_published_total",
		Help: "Contact events published, labeled by sink (local or redis) and result.",
	}, []string{"sink", "result"}), "ais_stream_published_total")
	if err != nil {
		return nil, err
	}

	ingested, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ais_stream_ingested_total",
		Help: "Position reports consumed from the broker, labeled by result.",
	}, []string{"result"}), "ais_stream_ingested_total")
	if err != nil {
		return nil, err
	}

	subscribers, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ais_stream_subscribers",
		Help: "Number of local contact stream subscribers.",
	}), "ais_stream_subscribers")
	if err != nil {
		return nil, err
	}

	return &StreamCollector{
		gatherer:    gatherer,
		Published:   published,
		Ingested:    ingested,
		Subscribers: subscribers,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *StreamCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// IncPublished counts one publish attempt to sink.
func (c *StreamCollector) IncPublished(sink string, ok bool) {
	if c == nil || c.Published == nil {
		return
	}
	c.Published.WithLabelValues(sink, result(ok)).Inc()
}

// IncIngested counts one consumed report.
func (c *StreamCollector) IncIngested(ok bool) {
	if c == nil || c.Ingested == nil {
		return
	}
	c.Ingested.WithLabelValues(result(ok)).Inc()
}

// SetSubscribers updates the subscriber gauge.
func (c *StreamCollector) SetSubscribers(n int) {
	if c == nil || c.Subscribers == nil {
		return
	}
	c.Subscribers.Set(float64(n))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
