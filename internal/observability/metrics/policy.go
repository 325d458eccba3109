// Package metrics provides custom Prometheus metrics for the audio policy service.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PolicyMetrics contains the Prometheus metrics of the routing policy. It
// satisfies the recorder interface the policy manager reports to.
type PolicyMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	OutputsOpen       prometheus.Gauge
	InputsOpen        prometheus.Gauge
	PatchesInstalled  prometheus.Gauge
	CaptureRejections *prometheus.CounterVec
	MuteWaitSeconds   prometheus.Histogram
	registry          *prometheus.Registry
}

// NewPolicyMetrics creates and registers the policy metrics.
func NewPolicyMetrics(registry *prometheus.Registry) (*PolicyMetrics, error) {
	m := &PolicyMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register policy metrics: %w", err)
	}
	return m, nil
}

func (m *PolicyMetrics) initMetrics() {
	m.OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiopolicy_operations_total",
			Help: "Total number of policy operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	m.OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audiopolicy_operation_duration_seconds",
			Help:    "Duration of policy operations in seconds, including mute waits",
			Buckets: prometheus.ExponentialBuckets(BucketStart10us, BucketFactor4, BucketCount12),
		},
		[]string{"operation"},
	)

	m.OutputsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audiopolicy_outputs_open",
		Help: "Number of open output endpoints",
	})

	m.InputsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audiopolicy_inputs_open",
		Help: "Number of open input endpoints",
	})

	m.PatchesInstalled = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audiopolicy_patches_installed",
		Help: "Number of audio patches the policy tracks",
	})

	m.CaptureRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiopolicy_capture_rejections_total",
			Help: "Capture starts refused by the concurrency arbiter, by conflict kind",
		},
		[]string{"kind"},
	)

	m.MuteWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "audiopolicy_mute_wait_seconds",
		Help:    "Time callers were blocked waiting for a mute to take effect",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
	})
}

// ObserveOperation records the outcome and duration of one policy operation.
func (m *PolicyMetrics) ObserveOperation(op string, err error, duration time.Duration) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.OperationsTotal.WithLabelValues(op, status).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// SetEndpoints updates the open endpoint gauges.
func (m *PolicyMetrics) SetEndpoints(outputs, inputs int) {
	m.OutputsOpen.Set(float64(outputs))
	m.InputsOpen.Set(float64(inputs))
}

// SetPatches updates the installed patch gauge.
func (m *PolicyMetrics) SetPatches(count int) {
	m.PatchesInstalled.Set(float64(count))
}

// CaptureRejected counts a refused capture start.
func (m *PolicyMetrics) CaptureRejected(kind string) {
	m.CaptureRejections.WithLabelValues(kind).Inc()
}

// MuteWait records a blocking mute wait.
func (m *PolicyMetrics) MuteWait(duration time.Duration) {
	m.MuteWaitSeconds.Observe(duration.Seconds())
}

// Collect implements the prometheus.Collector interface.
func (m *PolicyMetrics) Collect(ch chan<- prometheus.Metric) {
	m.OperationsTotal.Collect(ch)
	m.OperationDuration.Collect(ch)
	ch <- m.OutputsOpen
	ch <- m.InputsOpen
	ch <- m.PatchesInstalled
	m.CaptureRejections.Collect(ch)
	ch <- m.MuteWaitSeconds
}

// Describe implements the prometheus.Collector interface.
func (m *PolicyMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.OperationsTotal.Describe(ch)
	m.OperationDuration.Describe(ch)
	ch <- m.OutputsOpen.Desc()
	ch <- m.InputsOpen.Desc()
	ch <- m.PatchesInstalled.Desc()
	m.CaptureRejections.Describe(ch)
	ch <- m.MuteWaitSeconds.Desc()
}
