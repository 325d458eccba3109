package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics contains the metrics of the notification bus.
type EventMetrics struct {
	Published  *prometheus.CounterVec
	Suppressed prometheus.Counter
	Dropped    prometheus.Counter
	Failures   *prometheus.CounterVec
	registry   *prometheus.Registry
}

// NewEventMetrics creates and registers the notification bus metrics.
func NewEventMetrics(registry *prometheus.Registry) (*EventMetrics, error) {
	m := &EventMetrics{registry: registry}
	m.Published = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiopolicy_events_published_total",
			Help: "Notifications accepted by the event bus, by kind",
		},
		[]string{"kind"},
	)
	m.Suppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audiopolicy_events_suppressed_total",
		Help: "Duplicate notifications dropped inside the deduplication window",
	})
	m.Dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audiopolicy_events_dropped_total",
		Help: "Notifications dropped because the bus buffer was full",
	})
	m.Failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiopolicy_event_consumer_failures_total",
			Help: "Consumer errors and panics, by consumer",
		},
		[]string{"consumer"},
	)
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register event metrics: %w", err)
	}
	return m, nil
}

// EventPublished counts an accepted notification.
func (m *EventMetrics) EventPublished(kind string) { m.Published.WithLabelValues(kind).Inc() }

// EventSuppressed counts a deduplicated notification.
func (m *EventMetrics) EventSuppressed() { m.Suppressed.Inc() }

// EventDropped counts a notification lost to a full buffer.
func (m *EventMetrics) EventDropped() { m.Dropped.Inc() }

// ConsumerFailed counts a consumer error.
func (m *EventMetrics) ConsumerFailed(consumer string) { m.Failures.WithLabelValues(consumer).Inc() }

// Collect implements the prometheus.Collector interface.
func (m *EventMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Published.Collect(ch)
	ch <- m.Suppressed
	ch <- m.Dropped
	m.Failures.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *EventMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Published.Describe(ch)
	ch <- m.Suppressed.Desc()
	ch <- m.Dropped.Desc()
	m.Failures.Describe(ch)
}
