package policy

import (
	"strings"

	"github.com/tphakala/audiopolicy/internal/errors"
)

// Component identifier for policy errors
const ComponentPolicy = "policy"

var (
	// ErrNotInitialized is returned by every operation before Initialize succeeded
	ErrNotInitialized = errors.New(nil).
				Component(ComponentPolicy).
				Category(errors.CategoryNotInitialized).
				Context("resource", "policy").
				Build()

	// ErrAlreadyInitialized is returned by a second Initialize
	ErrAlreadyInitialized = errors.New(nil).
				Component(ComponentPolicy).
				Category(errors.CategoryState).
				Context("resource", "policy_init").
				Build()

	// ErrDefaultDeviceUnreachable is fatal: no output reaches the default device
	ErrDefaultDeviceUnreachable = errors.New(nil).
					Component(ComponentPolicy).
					Category(errors.CategoryNotInitialized).
					Context("resource", "default_output_device").
					Build()

	// ErrNoPrimaryOutput is fatal: no output was opened from a primary profile
	ErrNoPrimaryOutput = errors.New(nil).
				Component(ComponentPolicy).
				Category(errors.CategoryNotInitialized).
				Context("resource", "primary_output").
				Build()

	// ErrInvalidArgument is returned for malformed requests
	ErrInvalidArgument = errors.New(nil).
				Component(ComponentPolicy).
				Category(errors.CategoryValidation).
				Context("resource", "argument").
				Build()

	// ErrInvalidDevice is returned for values that are not a single device type
	ErrInvalidDevice = errors.New(nil).
				Component(ComponentPolicy).
				Category(errors.CategoryValidation).
				Context("resource", "device_type").
				Build()

	// ErrDeviceState is returned when a device already is in the requested state
	ErrDeviceState = errors.New(nil).
			Component(ComponentPolicy).
			Category(errors.CategoryState).
			Context("resource", "device_state").
			Build()

	// ErrDeviceUnsupported is returned when no loaded module declares a device type
	ErrDeviceUnsupported = errors.New(nil).
				Component(ComponentPolicy).
				Category(errors.CategoryNotFound).
				Context("resource", "device_module").
				Build()

	// ErrDeviceUnreachable is returned when no endpoint can be opened for a new device
	ErrDeviceUnreachable = errors.New(nil).
				Component(ComponentPolicy).
				Category(errors.CategoryState).
				Context("resource", "device_endpoint").
				Build()

	// ErrUnknownClient is returned for port ids no endpoint knows
	ErrUnknownClient = errors.New(nil).
				Component(ComponentPolicy).
				Category(errors.CategoryNotFound).
				Context("resource", "client_port").
				Build()

	// ErrUnknownPort is returned for unknown device or mix ports
	ErrUnknownPort = errors.New(nil).
			Component(ComponentPolicy).
			Category(errors.CategoryNotFound).
			Context("resource", "audio_port").
			Build()

	// ErrUnknownPatch is returned for patch handles the policy never installed
	ErrUnknownPatch = errors.New(nil).
			Component(ComponentPolicy).
			Category(errors.CategoryNotFound).
			Context("resource", "audio_patch").
			Build()

	// ErrPatchOwnership is returned when a uid updates or releases another uid's patch
	ErrPatchOwnership = errors.New(nil).
				Component(ComponentPolicy).
				Category(errors.CategoryOwnership).
				Context("resource", "audio_patch").
				Build()

	// ErrInvalidOperation is returned for requests the current state forbids
	ErrInvalidOperation = errors.New(nil).
				Component(ComponentPolicy).
				Category(errors.CategoryState).
				Context("resource", "operation").
				Build()

	// ErrNoOutput is returned when no output endpoint can serve a request
	ErrNoOutput = errors.New(nil).
			Component(ComponentPolicy).
			Category(errors.CategoryRouting).
			Context("resource", "output").
			Build()

	// ErrNoInput is returned when no input endpoint can serve a request
	ErrNoInput = errors.New(nil).
			Component(ComponentPolicy).
			Category(errors.CategoryRouting).
			Context("resource", "input").
			Build()

	// ErrMSDPatchExists is returned when a second multi stream decoder patch would be created
	ErrMSDPatchExists = errors.New(nil).
				Component(ComponentPolicy).
				Category(errors.CategoryConflict).
				Context("resource", "msd_patch").
				Build()

	// ErrUnknownSource is returned for unknown audio source handles
	ErrUnknownSource = errors.New(nil).
				Component(ComponentPolicy).
				Category(errors.CategoryNotFound).
				Context("resource", "audio_source").
				Build()

	// ErrCallCapture rejects capture while a call uses the input's module
	ErrCallCapture = errors.New(nil).
			Component(ComponentPolicy).
			Category(errors.CategoryConcurrency).
			Context("resource", "capture_call").
			Build()

	// ErrCaptureConflict rejects capture concurrent with another active capture
	ErrCaptureConflict = errors.New(nil).
				Component(ComponentPolicy).
				Category(errors.CategoryConcurrency).
				Context("resource", "capture").
				Build()

	// ErrHotwordConflict rejects a hotword capture preempted by an active one
	ErrHotwordConflict = errors.New(nil).
				Component(ComponentPolicy).
				Category(errors.CategoryConcurrency).
				Context("resource", "capture_hotword").
				Build()
)

// Concurrency reports how a capture start interacted with other captures.
type Concurrency uint32

const (
	ConcurrencyNone    Concurrency = 0
	ConcurrencyCall    Concurrency = 0x1
	ConcurrencyCapture Concurrency = 0x2
	ConcurrencyHotword Concurrency = 0x4
	ConcurrencyPreempt Concurrency = 0x8
)

func (c Concurrency) String() string {
	if c == ConcurrencyNone {
		return "none"
	}
	var parts []string
	for _, k := range []struct {
		bit  Concurrency
		name string
	}{
		{ConcurrencyCall, "call"},
		{ConcurrencyCapture, "capture"},
		{ConcurrencyHotword, "hotword"},
		{ConcurrencyPreempt, "preempt"},
	} {
		if c&k.bit != 0 {
			parts = append(parts, k.name)
		}
	}
	return strings.Join(parts, "|")
}

// concurrencyError wraps a capture rejection sentinel with its kind.
func concurrencyError(sentinel error, kind Concurrency, portID any) error {
	return errors.New(sentinel).
		Component(ComponentPolicy).
		Context("concurrency", kind.String()).
		Context("port_id", portID).
		Build()
}
