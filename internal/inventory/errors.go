package inventory

import (
	"github.com/tphakala/audiopolicy/internal/errors"
)

// Component identifier for inventory errors
const ComponentInventory = "inventory"

var (
	// ErrNoModules is returned when the platform declares no hardware module
	ErrNoModules = errors.New(nil).
			Component(ComponentInventory).
			Category(errors.CategoryNotInitialized).
			Context("resource", "hw_module").
			Build()

	// ErrNoDefaultOutputDevice is returned when the platform has no default output device
	ErrNoDefaultOutputDevice = errors.New(nil).
					Component(ComponentInventory).
					Category(errors.CategoryNotInitialized).
					Context("resource", "default_output_device").
					Build()

	// ErrDuplicateModule is returned when two modules share a name
	ErrDuplicateModule = errors.New(nil).
				Component(ComponentInventory).
				Category(errors.CategoryConfiguration).
				Context("resource", "hw_module_name").
				Build()
)
