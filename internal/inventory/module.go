package inventory

import (
	"slices"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/errors"
)

// Well known module names.
const (
	ModuleNamePrimary      = "primary"
	ModuleNameA2DP         = "a2dp"
	ModuleNameUSB          = "usb"
	ModuleNameRemoteSubmix = "r_submix"
	ModuleNameMSD          = "msd"
)

// HwModule is one hardware module: the mix ports it exposes and the device
// ports it declares.
type HwModule struct {
	Name            string
	Handle          audio.ModuleHandle // assigned when the module is loaded
	OutputProfiles  []*IOProfile
	InputProfiles   []*IOProfile
	DeclaredDevices DeviceVector
	// DevicePatches is set when the module can connect two of its devices
	// without a software bridge.
	DevicePatches bool
}

// NewHwModule returns an unloaded module.
func NewHwModule(name string) *HwModule {
	return &HwModule{Name: name}
}

// IsLoaded reports whether the hardware client opened the module.
func (m *HwModule) IsLoaded() bool {
	return m.Handle != audio.ModuleHandleNone
}

// AddOutputProfile registers a playback mix port.
func (m *HwModule) AddOutputProfile(p *IOProfile) {
	p.Module = m
	m.OutputProfiles = append(m.OutputProfiles, p)
}

// AddInputProfile registers a capture mix port.
func (m *HwModule) AddInputProfile(p *IOProfile) {
	p.Module = m
	m.InputProfiles = append(m.InputProfiles, p)
}

// RemoveOutputProfile drops the playback mix port with the given name.
func (m *HwModule) RemoveOutputProfile(name string) bool {
	before := len(m.OutputProfiles)
	m.OutputProfiles = slices.DeleteFunc(m.OutputProfiles, func(p *IOProfile) bool { return p.Name == name })
	return len(m.OutputProfiles) != before
}

// RemoveInputProfile drops the capture mix port with the given name.
func (m *HwModule) RemoveInputProfile(name string) bool {
	before := len(m.InputProfiles)
	m.InputProfiles = slices.DeleteFunc(m.InputProfiles, func(p *IOProfile) bool { return p.Name == name })
	return len(m.InputProfiles) != before
}

// DeclareDevice adds a device port to the module.
func (m *HwModule) DeclareDevice(d *DeviceDescriptor) *DeviceDescriptor {
	m.DeclaredDevices = m.DeclaredDevices.Add(d)
	return d
}

// SetHandle attaches the module and every declared device to a loaded handle.
func (m *HwModule) SetHandle(h audio.ModuleHandle) {
	m.Handle = h
	for _, d := range m.DeclaredDevices {
		d.Module = h
	}
}

// profilesFor returns the playback or capture profiles depending on the
// direction of the device type.
func (m *HwModule) profilesFor(t audio.DeviceType) []*IOProfile {
	if t&audio.DeviceBitIn != 0 {
		return m.InputProfiles
	}
	return m.OutputProfiles
}

// SupportsDeviceType reports whether a mix port of the module reaches t.
func (m *HwModule) SupportsDeviceType(t audio.DeviceType) bool {
	for _, p := range m.profilesFor(t) {
		if p.SupportsDeviceTypes(t) {
			return true
		}
	}
	return false
}

// Modules is the list of hardware modules of the platform.
type Modules []*HwModule

// GetModuleFromName returns the module with the given name.
func (ms Modules) GetModuleFromName(name string) *HwModule {
	for _, m := range ms {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// GetModuleFromHandle returns the loaded module with the given handle.
func (ms Modules) GetModuleFromHandle(h audio.ModuleHandle) *HwModule {
	if h == audio.ModuleHandleNone {
		return nil
	}
	for _, m := range ms {
		if m.Handle == h {
			return m
		}
	}
	return nil
}

// GetModuleForDeviceType returns the first loaded module able to route t.
func (ms Modules) GetModuleForDeviceType(t audio.DeviceType) *HwModule {
	for _, m := range ms {
		if m.IsLoaded() && m.SupportsDeviceType(t) {
			return m
		}
	}
	return nil
}

// GetDeviceDescriptor returns the declared descriptor for a device, or a new
// one attached to the module able to route it. With matchAddress set, only a
// declared device with the same address is returned.
// Declarations bound to another address never match.
func (ms Modules) GetDeviceDescriptor(t audio.DeviceType, address, name string, matchAddress bool) *DeviceDescriptor {
	for _, m := range ms {
		if !m.IsLoaded() {
			continue
		}
		for _, d := range m.DeclaredDevices {
			if d.Type != t {
				continue
			}
			// An unaddressed declaration adopts the address it is connected with.
			if address == "" || d.Address == address || (!matchAddress && d.Address == "") {
				if address != "" {
					d.Address = address
				}
				if name != "" {
					d.Name = name
				}
				return d
			}
		}
	}
	if matchAddress {
		return nil
	}
	d := NewDeviceDescriptor(t, address, name)
	if m := ms.GetModuleForDeviceType(t); m != nil {
		d.Module = m.Handle
	}
	return d
}

// OutputProfiles returns the playback profiles of every loaded module.
func (ms Modules) OutputProfiles() []*IOProfile {
	var out []*IOProfile
	for _, m := range ms {
		if m.IsLoaded() {
			out = append(out, m.OutputProfiles...)
		}
	}
	return out
}

// InputProfiles returns the capture profiles of every loaded module.
func (ms Modules) InputProfiles() []*IOProfile {
	var out []*IOProfile
	for _, m := range ms {
		if m.IsLoaded() {
			out = append(out, m.InputProfiles...)
		}
	}
	return out
}

// Config is the platform description loaded at startup.
type Config struct {
	Modules               Modules
	AttachedOutputDevices DeviceVector
	AttachedInputDevices  DeviceVector
	DefaultOutputDevice   *DeviceDescriptor
	SpeakerDRCEnabled     bool
}

// Validate checks the invariants the policy cannot start without.
func (c *Config) Validate() error {
	if len(c.Modules) == 0 {
		return errors.New(ErrNoModules).
			Component(ComponentInventory).
			Build()
	}
	if c.DefaultOutputDevice == nil {
		return errors.New(ErrNoDefaultOutputDevice).
			Component(ComponentInventory).
			Build()
	}
	seen := make(map[string]bool, len(c.Modules))
	for _, m := range c.Modules {
		if seen[m.Name] {
			return errors.Newf("duplicate module %q: %w", m.Name, ErrDuplicateModule).
				Component(ComponentInventory).
				Context("module", m.Name).
				Build()
		}
		seen[m.Name] = true
	}
	return nil
}
