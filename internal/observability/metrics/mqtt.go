package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reasons a routing notification did not reach the broker.
const (
	DeliveryNotConnected = "not_connected"
	DeliveryTimeout      = "timeout"
	DeliveryRejected     = "rejected"
)

// Broker connection stages that can fail.
const (
	StageResolve = "resolve"
	StageConnect = "connect"
	StageLost    = "lost"
)

// MQTTMetrics tracks delivery of routing notifications to the broker. Every
// per notification series is labeled with the notification kind.
type MQTTMetrics struct {
	Connected       prometheus.Gauge
	Delivered       *prometheus.CounterVec
	Undelivered     *prometheus.CounterVec
	PayloadBytes    *prometheus.HistogramVec
	DeliverySeconds *prometheus.HistogramVec
	ConnectFailures *prometheus.CounterVec
	Reconnects      prometheus.Counter
	registry        *prometheus.Registry
}

// NewMQTTMetrics creates and registers the broker delivery metrics.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{registry: registry}
	m.Connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audiopolicy_mqtt_connected",
		Help: "1 while the notification publisher holds a broker connection",
	})
	m.Delivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiopolicy_mqtt_notifications_delivered_total",
			Help: "Routing notifications acknowledged by the broker, by kind",
		},
		[]string{"kind"},
	)
	m.Undelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiopolicy_mqtt_notifications_undelivered_total",
			Help: "Routing notifications lost on the way to the broker, by kind and reason",
		},
		[]string{"kind", "reason"},
	)
	m.PayloadBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audiopolicy_mqtt_notification_payload_bytes",
			Help:    "Encoded size of delivered routing notifications, by kind",
			Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount10),
		},
		[]string{"kind"},
	)
	m.DeliverySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audiopolicy_mqtt_notification_delivery_seconds",
			Help:    "Time until the broker acknowledged a notification, by kind",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
		},
		[]string{"kind"},
	)
	m.ConnectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiopolicy_mqtt_connect_failures_total",
			Help: "Broker connection failures, by stage",
		},
		[]string{"stage"},
	)
	m.Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audiopolicy_mqtt_reconnects_total",
		Help: "Automatic reconnection attempts after a lost broker connection",
	})

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// SetConnected records the broker connection state.
func (m *MQTTMetrics) SetConnected(connected bool) {
	if connected {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
}

// NotificationDelivered records an acknowledged notification of kind.
func (m *MQTTMetrics) NotificationDelivered(kind string, payloadBytes int, elapsed time.Duration) {
	m.Delivered.WithLabelValues(kind).Inc()
	m.PayloadBytes.WithLabelValues(kind).Observe(float64(payloadBytes))
	m.DeliverySeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// NotificationUndelivered records a notification of kind lost for reason.
func (m *MQTTMetrics) NotificationUndelivered(kind, reason string) {
	m.Undelivered.WithLabelValues(kind, reason).Inc()
}

// ConnectFailed records a broker connection failure at stage.
func (m *MQTTMetrics) ConnectFailed(stage string) {
	m.ConnectFailures.WithLabelValues(stage).Inc()
}

// Reconnecting records an automatic reconnection attempt.
func (m *MQTTMetrics) Reconnecting() { m.Reconnects.Inc() }

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Connected.Collect(ch)
	m.Delivered.Collect(ch)
	m.Undelivered.Collect(ch)
	m.PayloadBytes.Collect(ch)
	m.DeliverySeconds.Collect(ch)
	m.ConnectFailures.Collect(ch)
	m.Reconnects.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Connected.Describe(ch)
	m.Delivered.Describe(ch)
	m.Undelivered.Describe(ch)
	m.PayloadBytes.Describe(ch)
	m.DeliverySeconds.Describe(ch)
	m.ConnectFailures.Describe(ch)
	m.Reconnects.Describe(ch)
}
