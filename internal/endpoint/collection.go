package endpoint

import (
	"time"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/registry"
)

// remoteOutputDevices are outputs rendering somewhere other than the device.
const remoteOutputDevices = audio.DeviceOutRemoteSubmix

// Outputs is the arena of open outputs keyed by I/O handle.
type Outputs struct {
	*registry.Registry[audio.IOHandle, *Output]
}

// NewOutputs returns an empty output arena.
func NewOutputs() *Outputs {
	return &Outputs{Registry: registry.New[audio.IOHandle, *Output]()}
}

// Clone returns a snapshot sharing the descriptors.
func (c *Outputs) Clone() *Outputs {
	return &Outputs{Registry: c.Registry.Clone()}
}

// IsStreamActive reports activity of stream on any output.
func (c *Outputs) IsStreamActive(stream audio.Stream, inPast time.Duration, now time.Time) bool {
	_, ok := c.Find(func(o *Output) bool { return o.IsStreamActive(stream, inPast, now) })
	return ok
}

// IsStreamActiveLocally reports activity of stream on an output rendered by
// the device itself.
func (c *Outputs) IsStreamActiveLocally(stream audio.Stream, inPast time.Duration, now time.Time) bool {
	_, ok := c.Find(func(o *Output) bool {
		return o.IsStreamActive(stream, inPast, now) && o.Device()&remoteOutputDevices == 0
	})
	return ok
}

// IsStreamActiveRemotely reports activity of stream on a remote submix
// output that does not serve a policy mix.
func (c *Outputs) IsStreamActiveRemotely(stream audio.Stream, inPast time.Duration, now time.Time) bool {
	_, ok := c.Find(func(o *Output) bool {
		return o.Device()&remoteOutputDevices != 0 && o.IsStreamActive(stream, inPast, now) && o.PolicyMix == nil
	})
	return ok
}

// IsAnyOutputActive reports whether any stream other than ignore is active.
func (c *Outputs) IsAnyOutputActive(ignore audio.Stream) bool {
	for _, o := range c.Values() {
		for s := audio.Stream(0); s < audio.StreamCount; s++ {
			if s == ignore || s == audio.StreamPatch {
				continue
			}
			if o.StreamActiveCount(s) > 0 {
				return true
			}
		}
	}
	return false
}

// GetOutputForClient returns the output a client is attached to.
func (c *Outputs) GetOutputForClient(port audio.PortHandle) (*Output, bool) {
	return c.Find(func(o *Output) bool {
		_, ok := o.Client(port)
		return ok
	})
}

// GetOutputFromID returns the output with the given mix port id.
func (c *Outputs) GetOutputFromID(id audio.PortHandle) (*Output, bool) {
	return c.Find(func(o *Output) bool { return o.ID == id })
}

// GetPrimaryOutput returns the output opened from the primary profile.
func (c *Outputs) GetPrimaryOutput() (*Output, bool) {
	return c.Find(func(o *Output) bool {
		return !o.IsDuplicated() && o.Flags&audio.OutputFlagPrimary != 0
	})
}

// GetA2DPOutput returns a non duplicated output currently routed to A2DP.
func (c *Outputs) GetA2DPOutput() (*Output, bool) {
	return c.Find(func(o *Output) bool {
		return !o.IsDuplicated() && o.Device().IsA2DP()
	})
}

// GetOutputsForDevice returns the outputs able to reach every type of device.
func (c *Outputs) GetOutputsForDevice(device audio.DeviceType) []*Output {
	var out []*Output
	for _, o := range c.Values() {
		if device&o.SupportedDevices() == device {
			out = append(out, o)
		}
	}
	return out
}

// HasDirectOutput reports whether a direct output is open.
func (c *Outputs) HasDirectOutput() bool {
	_, ok := c.Find(func(o *Output) bool { return o.IsDirect() })
	return ok
}

// Inputs is the arena of open inputs keyed by I/O handle.
type Inputs struct {
	*registry.Registry[audio.IOHandle, *Input]
}

// NewInputs returns an empty input arena.
func NewInputs() *Inputs {
	return &Inputs{Registry: registry.New[audio.IOHandle, *Input]()}
}

// GetInputForClient returns the input a client is attached to.
func (is *Inputs) GetInputForClient(port audio.PortHandle) (*Input, bool) {
	return is.Find(func(in *Input) bool {
		_, ok := in.Client(port)
		return ok
	})
}

// GetInputFromID returns the input with the given mix port id.
func (is *Inputs) GetInputFromID(id audio.PortHandle) (*Input, bool) {
	return is.Find(func(in *Input) bool { return in.ID == id })
}

// ActiveInputs returns the inputs with a started client. Inputs capturing a
// virtual device are skipped unless includeVirtual is set.
func (is *Inputs) ActiveInputs(includeVirtual bool) []*Input {
	var out []*Input
	for _, in := range is.Values() {
		if !in.IsActive() {
			continue
		}
		if !includeVirtual && in.Device.IsVirtualInput() {
			continue
		}
		out = append(out, in)
	}
	return out
}

// ActiveInputsCountOnDevices counts active inputs capturing from devices.
func (is *Inputs) ActiveInputsCountOnDevices(devices audio.DeviceType) int {
	n := 0
	for _, in := range is.ActiveInputs(true) {
		if in.Device&devices&^audio.DeviceBitIn != 0 {
			n++
		}
	}
	return n
}

// IsSourceActive reports whether any input captures source.
func (is *Inputs) IsSourceActive(source audio.Source) bool {
	_, ok := is.Find(func(in *Input) bool { return in.IsSourceActive(source) })
	return ok
}
