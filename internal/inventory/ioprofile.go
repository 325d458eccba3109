package inventory

import (
	"github.com/tphakala/audiopolicy/internal/audio"
)

// Output flags that must be identical between a request and a profile.
const mustMatchOutputFlags = audio.OutputFlagDirect | audio.OutputFlagHwAvSync | audio.OutputFlagMmapNoIRQ

// IOProfile is a mix port of a module: the template from which output or
// input streams are opened.
type IOProfile struct {
	ID               audio.PortHandle
	Name             string
	Role             audio.PortRole // source for outputs, sink for inputs
	Flags            uint32
	Profiles         Profiles
	SupportedDevices DeviceVector

	// Zero means unlimited.
	MaxOpenCount   uint32
	MaxActiveCount uint32
	CurOpenCount   uint32
	CurActiveCount uint32

	Module *HwModule
}

// NewOutputProfile returns a playback mix port that may be opened once.
func NewOutputProfile(name string, flags audio.OutputFlags) *IOProfile {
	return &IOProfile{
		Name:           name,
		Role:           audio.PortRoleSource,
		Flags:          uint32(flags),
		MaxOpenCount:   1,
		MaxActiveCount: 1,
	}
}

// NewInputProfile returns a capture mix port that may be opened once.
func NewInputProfile(name string, flags audio.InputFlags) *IOProfile {
	return &IOProfile{
		Name:           name,
		Role:           audio.PortRoleSink,
		Flags:          uint32(flags),
		MaxOpenCount:   1,
		MaxActiveCount: 1,
	}
}

// IsOutput reports whether the profile opens playback streams.
func (p *IOProfile) IsOutput() bool { return p.Role == audio.PortRoleSource }

// OutputFlags returns the flags of a playback profile.
func (p *IOProfile) OutputFlags() audio.OutputFlags { return audio.OutputFlags(p.Flags) }

// InputFlags returns the flags of a capture profile.
func (p *IOProfile) InputFlags() audio.InputFlags { return audio.InputFlags(p.Flags) }

// ModuleHandle returns the handle of the owning module.
func (p *IOProfile) ModuleHandle() audio.ModuleHandle {
	if p.Module == nil {
		return audio.ModuleHandleNone
	}
	return p.Module.Handle
}

// SupportsDeviceTypes reports whether every type of mask is routable.
func (p *IOProfile) SupportsDeviceTypes(mask audio.DeviceType) bool {
	return mask != audio.DeviceNone && p.SupportedDevices.Types()&mask == mask
}

// SupportsDevice reports whether a specific device instance is routable.
func (p *IOProfile) SupportsDevice(t audio.DeviceType, address string) bool {
	if t.DistinguishesOnAddress() {
		return p.SupportedDevices.GetDevice(t, address) != nil
	}
	return p.SupportsDeviceTypes(t)
}

// CanOpenNewIO reports whether another stream may be opened from the profile.
func (p *IOProfile) CanOpenNewIO() bool {
	return p.MaxOpenCount == 0 || p.CurOpenCount < p.MaxOpenCount
}

// CanStartNewIO reports whether another stream of the profile may become active.
func (p *IOProfile) CanStartNewIO() bool {
	return p.MaxActiveCount == 0 || p.CurActiveCount < p.MaxActiveCount
}

// IsCompatible checks a request against the profile and returns the
// configuration that would be opened. Playback requires an exact profile
// match, capture accepts the closest compatible configuration unless the
// request is for an mmap stream. For capture only the fast flag may differ,
// and not even that when exactInputFlags is set.
func (p *IOProfile) IsCompatible(device audio.DeviceType, address string, cfg audio.Config, flags uint32, exactInputFlags bool) (audio.Config, bool) {
	if device != audio.DeviceNone {
		if device.Count() > 1 {
			if !p.SupportsDeviceTypes(device) {
				return audio.Config{}, false
			}
		} else if p.SupportedDevices.GetDevice(device, address) == nil {
			return audio.Config{}, false
		}
	}

	if !cfg.Format.IsValid() || cfg.ChannelMask == audio.ChannelInvalid {
		return audio.Config{}, false
	}

	updated := cfg
	if p.IsOutput() {
		if cfg.SampleRate == 0 || !p.Profiles.CheckExact(cfg.SampleRate, cfg.ChannelMask, cfg.Format) {
			return audio.Config{}, false
		}
		have, want := audio.OutputFlags(p.Flags), audio.OutputFlags(flags)
		if (have^want)&mustMatchOutputFlags != 0 || have&want != want {
			return audio.Config{}, false
		}
		return updated, true
	}

	if audio.InputFlags(flags)&audio.InputFlagMmapNoIRQ != 0 {
		if !p.Profiles.CheckExact(cfg.SampleRate, cfg.ChannelMask, cfg.Format) {
			return audio.Config{}, false
		}
	} else {
		var ok bool
		if updated, ok = p.Profiles.CheckCompatible(cfg, true); !ok {
			return audio.Config{}, false
		}
	}

	allowed := ^audio.InputFlagFast
	if exactInputFlags {
		allowed = ^audio.InputFlagNone
	}
	if (audio.InputFlags(p.Flags)^audio.InputFlags(flags))&allowed != 0 {
		return audio.Config{}, false
	}
	return updated, true
}

// Port returns the externally visible description of the mix port.
func (p *IOProfile) Port() audio.Port {
	port := audio.Port{
		ID:   p.ID,
		Role: p.Role,
		Type: audio.PortTypeMix,
		Name: p.Name,
		Mix:  audio.MixExt{Module: p.ModuleHandle()},
	}
	for _, prof := range p.Profiles {
		port.SampleRates = append(port.SampleRates, prof.SampleRates...)
		port.ChannelMasks = append(port.ChannelMasks, prof.ChannelMasks...)
		if prof.Format.IsValid() {
			port.Formats = append(port.Formats, prof.Format)
		}
	}
	return port
}
