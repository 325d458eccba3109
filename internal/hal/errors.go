package hal

import (
	"github.com/tphakala/audiopolicy/internal/errors"
)

// Component identifier for hardware client errors
const ComponentHAL = "hal"

var (
	// ErrModuleNotFound is returned when a module cannot be loaded
	ErrModuleNotFound = errors.New(nil).
				Component(ComponentHAL).
				Category(errors.CategoryHAL).
				Context("resource", "hw_module").
				Build()

	// ErrOpenFailed is returned when the hardware refuses to open a stream
	ErrOpenFailed = errors.New(nil).
			Component(ComponentHAL).
			Category(errors.CategoryHAL).
			Context("resource", "io_stream").
			Build()

	// ErrUnknownHandle is returned for streams or patches the hardware does not know
	ErrUnknownHandle = errors.New(nil).
				Component(ComponentHAL).
				Category(errors.CategoryHAL).
				Context("resource", "io_handle").
				Build()

	// ErrPatchFailed is returned when the hardware refuses a patch
	ErrPatchFailed = errors.New(nil).
			Component(ComponentHAL).
			Category(errors.CategoryHAL).
			Context("resource", "audio_patch").
			Build()
)
