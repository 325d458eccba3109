// Package inventory holds the static and runtime description of the audio
// hardware: modules, their mix port profiles and the device descriptors that
// are declared, attached or connected.
package inventory

import (
	"fmt"
	"slices"

	"github.com/tphakala/audiopolicy/internal/audio"
)

// DeviceDescriptor describes one device port. Identity is type plus address.
type DeviceDescriptor struct {
	ID             audio.PortHandle
	Type           audio.DeviceType
	Address        string
	Name           string
	Module         audio.ModuleHandle // ModuleHandleNone while detached
	Profiles       Profiles
	EncodedFormats []audio.Format
	ActiveConfig   audio.PortConfig
}

// NewDeviceDescriptor returns a detached descriptor with no id.
func NewDeviceDescriptor(t audio.DeviceType, address, name string) *DeviceDescriptor {
	return &DeviceDescriptor{Type: t, Address: address, Name: name}
}

// Equals compares device identity.
func (d *DeviceDescriptor) Equals(other *DeviceDescriptor) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.Type == other.Type && d.Address == other.Address
}

// IsAttached reports whether the device belongs to a loaded module.
func (d *DeviceDescriptor) IsAttached() bool {
	return d.Module != audio.ModuleHandleNone
}

// SupportsFormat reports whether the device can carry an encoded format.
// Devices that declare no encoded formats accept anything.
func (d *DeviceDescriptor) SupportsFormat(format audio.Format) bool {
	if format.IsLinearPCM() || len(d.EncodedFormats) == 0 {
		return true
	}
	return slices.Contains(d.EncodedFormats, format)
}

// PortConfig returns the patch port configuration of the device.
func (d *DeviceDescriptor) PortConfig() audio.PortConfig {
	role := audio.PortRoleSink
	if d.Type&audio.DeviceBitIn != 0 {
		role = audio.PortRoleSource
	}
	cfg := d.ActiveConfig
	cfg.ID = d.ID
	cfg.Role = role
	cfg.Type = audio.PortTypeDevice
	cfg.Device = audio.DeviceExt{Module: d.Module, Type: d.Type, Address: d.Address}
	return cfg
}

// Port returns the externally visible description of the device.
func (d *DeviceDescriptor) Port() audio.Port {
	cfg := d.PortConfig()
	port := audio.Port{
		ID:           d.ID,
		Role:         cfg.Role,
		Type:         audio.PortTypeDevice,
		Name:         d.Name,
		ActiveConfig: cfg,
		Device:       cfg.Device,
	}
	for _, p := range d.Profiles {
		port.SampleRates = append(port.SampleRates, p.SampleRates...)
		port.ChannelMasks = append(port.ChannelMasks, p.ChannelMasks...)
		if p.Format.IsValid() {
			port.Formats = append(port.Formats, p.Format)
		}
	}
	return port
}

func (d *DeviceDescriptor) String() string {
	if d.Address == "" {
		return fmt.Sprintf("%s(id=%d)", d.Type, d.ID)
	}
	return fmt.Sprintf("%s@%s(id=%d)", d.Type, d.Address, d.ID)
}

// DeviceVector is an ordered set of device descriptors.
type DeviceVector []*DeviceDescriptor

// Add appends the device unless an equal one is already present and returns
// the resulting vector.
func (v DeviceVector) Add(d *DeviceDescriptor) DeviceVector {
	if v.IndexOf(d) >= 0 {
		return v
	}
	return append(v, d)
}

// Remove drops the device equal to d.
func (v DeviceVector) Remove(d *DeviceDescriptor) (DeviceVector, bool) {
	i := v.IndexOf(d)
	if i < 0 {
		return v, false
	}
	return slices.Delete(v, i, i+1), true
}

// IndexOf returns the index of the device equal to d or -1.
func (v DeviceVector) IndexOf(d *DeviceDescriptor) int {
	return slices.IndexFunc(v, d.Equals)
}

// Contains reports whether a device equal to d is present.
func (v DeviceVector) Contains(d *DeviceDescriptor) bool {
	return v.IndexOf(d) >= 0
}

// Types returns the union of the device types of the vector.
func (v DeviceVector) Types() audio.DeviceType {
	var t audio.DeviceType
	for _, d := range v {
		t |= d.Type
	}
	return t
}

// GetDevice returns the device of the given type. An empty address matches
// any instance, an exact address match is preferred.
func (v DeviceVector) GetDevice(t audio.DeviceType, address string) *DeviceDescriptor {
	var found *DeviceDescriptor
	for _, d := range v {
		if d.Type != t {
			continue
		}
		if address == "" || d.Address == address {
			found = d
			if d.Address == address {
				break
			}
		}
	}
	return found
}

// GetDeviceFromID returns the device with the given port id.
func (v DeviceVector) GetDeviceFromID(id audio.PortHandle) *DeviceDescriptor {
	if id == audio.PortHandleNone {
		return nil
	}
	for _, d := range v {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// GetDevicesFromTypeMask returns every device whose type is in mask.
func (v DeviceVector) GetDevicesFromTypeMask(mask audio.DeviceType) DeviceVector {
	var out DeviceVector
	for _, d := range v {
		if mask.Intersects(d.Type) {
			out = append(out, d)
		}
	}
	return out
}

// GetDevicesFromModule returns the devices attached to module.
func (v DeviceVector) GetDevicesFromModule(module audio.ModuleHandle) DeviceVector {
	var out DeviceVector
	for _, d := range v {
		if d.Module == module {
			out = append(out, d)
		}
	}
	return out
}

// ContainsAtLeastOne reports whether any device of other is in v.
func (v DeviceVector) ContainsAtLeastOne(other DeviceVector) bool {
	return slices.ContainsFunc(other, v.Contains)
}

// Filter returns the devices that are also present in other.
func (v DeviceVector) Filter(other DeviceVector) DeviceVector {
	var out DeviceVector
	for _, d := range v {
		if other.Contains(d) {
			out = append(out, d)
		}
	}
	return out
}
