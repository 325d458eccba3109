package mix

import (
	"github.com/tphakala/audiopolicy/internal/errors"
)

// Component identifier for policy mix errors
const ComponentMix = "mix"

var (
	// ErrMixAlreadyRegistered is returned when an address already has a mix
	ErrMixAlreadyRegistered = errors.New(nil).
				Component(ComponentMix).
				Category(errors.CategoryConflict).
				Context("resource", "policy_mix").
				Build()

	// ErrMixNotFound is returned when no mix is registered at an address
	ErrMixNotFound = errors.New(nil).
			Component(ComponentMix).
			Category(errors.CategoryNotFound).
			Context("resource", "policy_mix").
			Build()

	// ErrInvalidCriteria is returned for mixes mixing match and exclude rules
	ErrInvalidCriteria = errors.New(nil).
				Component(ComponentMix).
				Category(errors.CategoryValidation).
				Context("resource", "policy_mix_criteria").
				Build()
)
