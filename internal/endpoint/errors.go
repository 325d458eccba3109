package endpoint

import (
	"github.com/tphakala/audiopolicy/internal/errors"
)

// Component identifier for endpoint errors
const ComponentEndpoint = "endpoint"

var (
	// ErrTooManyActive is returned when a profile already runs its maximum
	// number of active streams
	ErrTooManyActive = errors.New(nil).
		Component(ComponentEndpoint).
		Category(errors.CategoryLimit).
		Context("resource", "active_io").
		Build()
)
