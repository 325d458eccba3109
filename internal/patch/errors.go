package patch

import (
	"github.com/tphakala/audiopolicy/internal/errors"
)

// Component identifier for patch errors
const ComponentPatch = "patch"

var (
	// ErrInvalidPatch is returned for patches with unsupported port counts
	ErrInvalidPatch = errors.New(nil).
			Component(ComponentPatch).
			Category(errors.CategoryValidation).
			Context("resource", "audio_patch").
			Build()

	// ErrPatchNotFound is returned for unknown patch handles
	ErrPatchNotFound = errors.New(nil).
				Component(ComponentPatch).
				Category(errors.CategoryNotFound).
				Context("resource", "audio_patch").
				Build()
)
