package endpoint

import (
	"time"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/inventory"
	"github.com/tphakala/audiopolicy/internal/mix"
	"github.com/tphakala/audiopolicy/internal/registry"
)

// volumeUnset is the initial per-stream volume, never produced by the curves.
const volumeUnset = -1.0

// Output is a playback endpoint. Duplicated outputs have no profile and
// forward activity to their two legs.
type Output struct {
	ID      audio.PortHandle
	Flags   audio.OutputFlags
	Config  audio.Config
	Address string

	// StrategyMutedByDevice records the strategies muted by the last device
	// change of this output.
	StrategyMutedByDevice [audio.NumStrategies]bool
	// MuteCount is the per stream mute reference count.
	MuteCount [audio.StreamCount]int

	// DirectOpenCount counts clients sharing a direct output.
	DirectOpenCount int
	DirectSession   audio.Session

	PolicyMix *mix.Mix

	handle  audio.IOHandle
	kind    Kind
	profile *inventory.IOProfile
	patch   audio.PatchHandle
	device  audio.DeviceType
	latency uint32

	activeCount  [audio.StreamCount]int
	stopTime     [audio.StreamCount]time.Time
	curVolume    [audio.StreamCount]float64
	globalActive int

	output1, output2 *Output

	clients *registry.Registry[audio.PortHandle, *TrackClient]
}

// NewOutput describes an output opened on profile.
func NewOutput(handle audio.IOHandle, profile *inventory.IOProfile, cfg audio.Config, flags audio.OutputFlags, device audio.DeviceType, latencyMs uint32) *Output {
	kind := KindMixed
	switch {
	case flags&audio.OutputFlagMmapNoIRQ != 0:
		kind = KindMmap
	case flags&audio.OutputFlagDirect != 0:
		kind = KindDirect
	}
	o := &Output{
		Flags:   flags,
		Config:  cfg,
		handle:  handle,
		kind:    kind,
		profile: profile,
		device:  device,
		latency: latencyMs,
		clients: registry.New[audio.PortHandle, *TrackClient](),
	}
	for i := range o.curVolume {
		o.curVolume[i] = volumeUnset
	}
	return o
}

// NewDuplicatedOutput describes an output mixing into both out1 and out2.
func NewDuplicatedOutput(handle audio.IOHandle, out1, out2 *Output) *Output {
	o := NewOutput(handle, nil, out2.Config, audio.OutputFlagNone, audio.DeviceNone, 0)
	o.kind = KindDuplicated
	o.output1 = out1
	o.output2 = out2
	return o
}

func (o *Output) sealed() {}

// Handle returns the I/O handle assigned by the hardware client.
func (o *Output) Handle() audio.IOHandle { return o.handle }

// Kind returns the output variant.
func (o *Output) Kind() Kind { return o.kind }

// IsDuplicated reports a duplicating output.
func (o *Output) IsDuplicated() bool { return o.kind == KindDuplicated }

// IsDirect reports an output that bypasses the software mixer.
func (o *Output) IsDirect() bool { return o.Flags&audio.OutputFlagDirect != 0 }

// IsMmap reports a memory mapped output.
func (o *Output) IsMmap() bool { return o.kind == KindMmap }

// Profile returns the profile the output was opened from, nil if duplicated.
func (o *Output) Profile() *inventory.IOProfile { return o.profile }

// ModuleHandle returns the hardware module of the output.
func (o *Output) ModuleHandle() audio.ModuleHandle {
	if o.profile == nil {
		return audio.ModuleHandleNone
	}
	return o.profile.ModuleHandle()
}

// PatchHandle returns the policy patch currently routing the output.
func (o *Output) PatchHandle() audio.PatchHandle { return o.patch }

// SetPatchHandle records the policy patch routing the output.
func (o *Output) SetPatchHandle(h audio.PatchHandle) { o.patch = h }

// SubOutputs returns the legs of a duplicated output.
func (o *Output) SubOutputs() (*Output, *Output) { return o.output1, o.output2 }

// Device returns the devices the output is routed to.
func (o *Output) Device() audio.DeviceType {
	if o.IsDuplicated() {
		return o.output1.Device() | o.output2.Device()
	}
	return o.device
}

// SetDevice records the devices the output is routed to.
func (o *Output) SetDevice(d audio.DeviceType) { o.device = d }

// Latency returns the output latency in milliseconds.
func (o *Output) Latency() uint32 {
	if o.IsDuplicated() {
		return max(o.output1.Latency(), o.output2.Latency())
	}
	return o.latency
}

// SupportedDevices returns every device type the output can be routed to.
func (o *Output) SupportedDevices() audio.DeviceType {
	if o.IsDuplicated() {
		return o.output1.SupportedDevices() | o.output2.SupportedDevices()
	}
	if o.profile == nil {
		return audio.DeviceNone
	}
	return o.profile.SupportedDevices.Types()
}

// SharesHwModuleWith reports whether both outputs reach a common module.
func (o *Output) SharesHwModuleWith(other *Output) bool {
	switch {
	case o.IsDuplicated():
		return o.output1.SharesHwModuleWith(other) || o.output2.SharesHwModuleWith(other)
	case other.IsDuplicated():
		return o.SharesHwModuleWith(other.output1) || o.SharesHwModuleWith(other.output2)
	}
	return o.ModuleHandle() == other.ModuleHandle()
}

// StreamActiveCount returns the number of active clients of stream.
func (o *Output) StreamActiveCount(stream audio.Stream) int {
	if !stream.IsValid() {
		return 0
	}
	return o.activeCount[stream]
}

// StreamActiveCounts returns a copy of every stream's active count.
func (o *Output) StreamActiveCounts() [audio.StreamCount]int {
	return o.activeCount
}

// ChangeStreamActiveCount adjusts the activity of stream. Counts never go
// below zero. Duplicated outputs forward the change to both legs.
func (o *Output) ChangeStreamActiveCount(stream audio.Stream, delta int) {
	if !stream.IsValid() {
		return
	}
	if o.IsDuplicated() {
		o.output1.ChangeStreamActiveCount(stream, delta)
		o.output2.ChangeStreamActiveCount(stream, delta)
	}
	o.activeCount[stream] = max(o.activeCount[stream]+delta, 0)
}

// IsStreamActive reports activity of stream now or within inPast of now.
func (o *Output) IsStreamActive(stream audio.Stream, inPast time.Duration, now time.Time) bool {
	if !stream.IsValid() {
		return false
	}
	if o.activeCount[stream] != 0 {
		return true
	}
	if inPast == 0 || o.stopTime[stream].IsZero() {
		return false
	}
	return now.Sub(o.stopTime[stream]) < inPast
}

// IsActive reports activity of any stream now or within inPast of now.
func (o *Output) IsActive(inPast time.Duration, now time.Time) bool {
	for s := audio.Stream(0); s < audio.StreamCount; s++ {
		if s == audio.StreamPatch {
			continue
		}
		if o.IsStreamActive(s, inPast, now) {
			return true
		}
	}
	return false
}

// SetStopTime records when the last client of stream stopped.
func (o *Output) SetStopTime(stream audio.Stream, t time.Time) {
	if stream.IsValid() {
		o.stopTime[stream] = t
	}
}

// CurVolume returns the last volume applied to stream, in dB.
func (o *Output) CurVolume(stream audio.Stream) float64 {
	if !stream.IsValid() {
		return volumeUnset
	}
	return o.curVolume[stream]
}

// SetCurVolume records volumeDb for stream and reports whether it must be
// sent to the hardware client.
func (o *Output) SetCurVolume(stream audio.Stream, volumeDb float64, force bool) bool {
	if !stream.IsValid() {
		return false
	}
	if volumeDb == o.curVolume[stream] && !force {
		return false
	}
	o.curVolume[stream] = volumeDb
	return true
}

// Start accounts a first starting client against the profile active limit.
// It must be called before the client is marked active.
func (o *Output) Start(now time.Time) error {
	if o.IsDuplicated() {
		if err := o.output1.Start(now); err != nil {
			return err
		}
		if err := o.output2.Start(now); err != nil {
			return err
		}
	}
	if o.profile == nil || o.IsActive(0, now) {
		return nil
	}
	if !o.profile.CanStartNewIO() {
		return errors.New(ErrTooManyActive).
			Component(ComponentEndpoint).
			Context("profile", o.profile.Name).
			Context("max_active", o.profile.MaxActiveCount).
			Build()
	}
	o.profile.CurActiveCount++
	return nil
}

// Stop releases the profile active slot once the output is idle.
func (o *Output) Stop(now time.Time) {
	if o.IsDuplicated() {
		o.output1.Stop(now)
		o.output2.Stop(now)
	}
	if o.profile == nil || o.IsActive(0, now) {
		return
	}
	if o.profile.CurActiveCount > 0 {
		o.profile.CurActiveCount--
	}
}

// ReleaseActiveSlot gives back the profile active slot of an output closed
// while streams are still active. Legs of a duplicated output are released
// when they close themselves.
func (o *Output) ReleaseActiveSlot(now time.Time) {
	if o.profile == nil || !o.IsActive(0, now) {
		return
	}
	if o.profile.CurActiveCount > 0 {
		o.profile.CurActiveCount--
	}
}

// SetClientActive starts or stops a client and reports whether the output
// as a whole toggled between idle and active.
func (o *Output) SetClientActive(c *TrackClient, active bool) bool {
	if !o.clients.Has(c.PortID) || c.active == active {
		return false
	}
	delta := 1
	if !active {
		delta = -1
	}
	old := o.globalActive
	o.globalActive = max(o.globalActive+delta, 0)
	o.ChangeStreamActiveCount(c.Stream, delta)
	c.active = active
	return (old == 0) != (o.globalActive == 0)
}

// GlobalActiveCount returns the number of started clients.
func (o *Output) GlobalActiveCount() int { return o.globalActive }

// AddClient attaches a client to the output.
func (o *Output) AddClient(c *TrackClient) {
	o.clients.Add(c.PortID, c)
}

// RemoveClient detaches a client. An active client is stopped first so
// stream counts stay consistent.
func (o *Output) RemoveClient(port audio.PortHandle) (*TrackClient, bool) {
	c, ok := o.clients.Get(port)
	if !ok {
		return nil, false
	}
	if c.active {
		o.SetClientActive(c, false)
	}
	o.clients.Remove(port)
	return c, true
}

// Client returns the client with the given port id.
func (o *Output) Client(port audio.PortHandle) (*TrackClient, bool) {
	return o.clients.Get(port)
}

// Clients returns every attached client in port order.
func (o *Output) Clients() []*TrackClient {
	return o.clients.Values()
}

// ClientCount returns the number of attached clients.
func (o *Output) ClientCount() int {
	return o.clients.Len()
}

// ActiveClients returns the started clients in port order.
func (o *Output) ActiveClients() []*TrackClient {
	var out []*TrackClient
	for _, c := range o.clients.Values() {
		if c.active {
			out = append(out, c)
		}
	}
	return out
}

// Port describes the output as a mix port.
func (o *Output) Port() audio.Port {
	p := audio.Port{
		ID:   o.ID,
		Role: audio.PortRoleSource,
		Type: audio.PortTypeMix,
		Mix:  audio.MixExt{Module: o.ModuleHandle(), Handle: o.handle},
	}
	if o.profile != nil {
		p.Name = o.profile.Name
		p.Formats = o.profile.Profiles.Formats()
	}
	p.ActiveConfig = o.PortConfig()
	return p
}

// PortConfig describes the output as the source of a patch.
func (o *Output) PortConfig() audio.PortConfig {
	return audio.PortConfig{
		ID:          o.ID,
		Role:        audio.PortRoleSource,
		Type:        audio.PortTypeMix,
		SampleRate:  o.Config.SampleRate,
		ChannelMask: o.Config.ChannelMask,
		Format:      o.Config.Format,
		Mix:         audio.MixExt{Module: o.ModuleHandle(), Handle: o.handle, Stream: audio.StreamDefault},
	}
}
