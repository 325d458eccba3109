package audio

// Handles are small integers assigned by the policy or the hardware client.
type (
	// IOHandle identifies an opened output or input stream.
	IOHandle int32
	// PortHandle identifies a device port or a client of an endpoint.
	PortHandle int32
	// PatchHandle identifies a connection between ports.
	PatchHandle int32
	// ModuleHandle identifies a loaded hardware module.
	ModuleHandle int32
	// Session groups streams sharing effects.
	Session int32
	// UID identifies the application owning a client or patch.
	UID uint32
)

const (
	IOHandleNone     IOHandle     = 0
	PortHandleNone   PortHandle   = 0
	PatchHandleNone  PatchHandle  = 0
	ModuleHandleNone ModuleHandle = 0
	SessionNone      Session      = 0
	// SessionOutputMix addresses effects attached to the global output mix.
	SessionOutputMix Session = 0
)

// PatchPortsMax bounds the number of sources and sinks of one patch.
const PatchPortsMax = 16

// PortRole is the direction of a port within a patch.
type PortRole int

const (
	PortRoleNone PortRole = iota
	PortRoleSource
	PortRoleSink
)

// PortType tells device ports from mix (endpoint) ports.
type PortType int

const (
	PortTypeNone PortType = iota
	PortTypeDevice
	PortTypeMix
	PortTypeSession
)

func (t PortType) String() string {
	switch t {
	case PortTypeDevice:
		return "device"
	case PortTypeMix:
		return "mix"
	case PortTypeSession:
		return "session"
	}
	return "none"
}

// GainConfig is a gain stage setting applied to a port.
type GainConfig struct {
	Index       int
	Mode        uint32
	ChannelMask ChannelMask
	Values      []int
	RampMs      uint32
}

// DeviceExt is the device specific part of a port configuration.
type DeviceExt struct {
	Module  ModuleHandle
	Type    DeviceType
	Address string
}

// MixExt is the endpoint specific part of a port configuration.
type MixExt struct {
	Module ModuleHandle
	Handle IOHandle
	Stream Stream
	Source Source
}

// PortConfig is one end of a patch.
type PortConfig struct {
	ID          PortHandle
	Role        PortRole
	Type        PortType
	SampleRate  uint32
	ChannelMask ChannelMask
	Format      Format
	Gain        *GainConfig
	Device      DeviceExt
	Mix         MixExt
}

// IsDevice reports whether the config describes a device port.
func (c PortConfig) IsDevice() bool { return c.Type == PortTypeDevice }

// IsMix reports whether the config describes an endpoint port.
func (c PortConfig) IsMix() bool { return c.Type == PortTypeMix }

// Equal compares the identity of two port configs, ignoring stream parameters.
func (c PortConfig) Equal(o PortConfig) bool {
	if c.Type != o.Type || c.Role != o.Role {
		return false
	}
	switch c.Type {
	case PortTypeDevice:
		return c.Device.Type == o.Device.Type && c.Device.Address == o.Device.Address
	case PortTypeMix:
		return c.Mix.Handle == o.Mix.Handle
	}
	return c.ID == o.ID
}

// Patch is a set of source ports connected to a set of sink ports.
type Patch struct {
	Sources []PortConfig
	Sinks   []PortConfig
}

// Clone returns a deep copy of the patch port lists.
func (p Patch) Clone() Patch {
	out := Patch{
		Sources: make([]PortConfig, len(p.Sources)),
		Sinks:   make([]PortConfig, len(p.Sinks)),
	}
	copy(out.Sources, p.Sources)
	copy(out.Sinks, p.Sinks)
	return out
}

// SameRouting reports whether both patches connect the same ports.
func (p Patch) SameRouting(o Patch) bool {
	if len(p.Sources) != len(o.Sources) || len(p.Sinks) != len(o.Sinks) {
		return false
	}
	for i := range p.Sources {
		if !p.Sources[i].Equal(o.Sources[i]) {
			return false
		}
	}
	for i := range p.Sinks {
		if !p.Sinks[i].Equal(o.Sinks[i]) {
			return false
		}
	}
	return true
}

// Port is the externally visible description of a device or mix port.
type Port struct {
	ID           PortHandle
	Role         PortRole
	Type         PortType
	Name         string
	SampleRates  []uint32
	ChannelMasks []ChannelMask
	Formats      []Format
	ActiveConfig PortConfig
	Device       DeviceExt
	Mix          MixExt
}
