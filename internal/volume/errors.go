package volume

import (
	"github.com/tphakala/audiopolicy/internal/errors"
)

// Component identifier for volume errors
const ComponentVolume = "volume"

// ErrInvalidRange is returned for empty or negative index ranges
var ErrInvalidRange = errors.New(nil).
	Component(ComponentVolume).
	Category(errors.CategoryValidation).
	Context("resource", "volume_index_range").
	Build()
