package engine

import (
	"github.com/tphakala/audiopolicy/internal/errors"
)

// Component identifier for engine errors
const ComponentEngine = "engine"

var (
	// ErrInvalidForceUse is returned for unknown categories or values a category rejects
	ErrInvalidForceUse = errors.New(nil).
				Component(ComponentEngine).
				Category(errors.CategoryValidation).
				Context("resource", "force_use").
				Build()

	// ErrInvalidPhoneState is returned for out of range telephony modes
	ErrInvalidPhoneState = errors.New(nil).
				Component(ComponentEngine).
				Category(errors.CategoryValidation).
				Context("resource", "phone_state").
				Build()
)
