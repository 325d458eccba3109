// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Operation outcome labels.
const (
	// StatusSuccess labels an operation that returned no error.
	StatusSuccess = "success"
	// StatusError labels an operation that returned an error.
	StatusError = "error"
)

// Histogram bucket constants.
const (
	// BucketStart10us is the starting bucket for policy operation latencies.
	// Most operations finish in microseconds, device switches with mute
	// waits take up to seconds.
	BucketStart10us = 0.00001
	// BucketStart1ms is the starting bucket for mute wait and publish histograms.
	BucketStart1ms = 0.001
	// BucketStart64B is the starting bucket for 64 byte histograms.
	BucketStart64B = 64.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketFactor4 covers six decades in a dozen buckets.
	BucketFactor4 = 4

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
)

// ShutdownTimeout bounds draining the notification bus on shutdown.
const ShutdownTimeout = 5 * time.Second
