package endpoint

import (
	"slices"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/inventory"
	"github.com/tphakala/audiopolicy/internal/mix"
	"github.com/tphakala/audiopolicy/internal/registry"
)

// Input is a capture endpoint.
type Input struct {
	ID             audio.PortHandle
	Flags          audio.InputFlags
	Config         audio.Config
	Device         audio.DeviceType
	Address        string
	IsSoundTrigger bool
	PolicyMix      *mix.Mix

	handle       audio.IOHandle
	profile      *inventory.IOProfile
	patch        audio.PatchHandle
	globalActive int
	preempted    []audio.Session

	clients *registry.Registry[audio.PortHandle, *RecordClient]
}

// NewInput describes an input opened on profile.
func NewInput(handle audio.IOHandle, profile *inventory.IOProfile, cfg audio.Config, flags audio.InputFlags, device audio.DeviceType, address string) *Input {
	return &Input{
		Flags:   flags,
		Config:  cfg,
		Device:  device,
		Address: address,
		handle:  handle,
		profile: profile,
		clients: registry.New[audio.PortHandle, *RecordClient](),
	}
}

func (in *Input) sealed() {}

// Handle returns the I/O handle assigned by the hardware client.
func (in *Input) Handle() audio.IOHandle { return in.handle }

// Kind returns KindInput, or KindMmap for memory mapped capture.
func (in *Input) Kind() Kind {
	if in.IsMmap() {
		return KindMmap
	}
	return KindInput
}

// IsDuplicated is always false for inputs.
func (in *Input) IsDuplicated() bool { return false }

// IsDirect is always false for inputs.
func (in *Input) IsDirect() bool { return false }

// IsMmap reports a memory mapped input.
func (in *Input) IsMmap() bool { return in.Flags&audio.InputFlagMmapNoIRQ != 0 }

// Profile returns the profile the input was opened from.
func (in *Input) Profile() *inventory.IOProfile { return in.profile }

// ModuleHandle returns the hardware module of the input.
func (in *Input) ModuleHandle() audio.ModuleHandle {
	if in.profile == nil {
		return audio.ModuleHandleNone
	}
	return in.profile.ModuleHandle()
}

// PatchHandle returns the policy patch currently routing the input.
func (in *Input) PatchHandle() audio.PatchHandle { return in.patch }

// SetPatchHandle records the policy patch routing the input.
func (in *Input) SetPatchHandle(h audio.PatchHandle) { in.patch = h }

// IsActive reports whether any client is started.
func (in *Input) IsActive() bool { return in.globalActive > 0 }

// ActiveCount returns the number of started clients.
func (in *Input) ActiveCount() int { return in.globalActive }

// Start accounts the first started client against the profile active
// limit. It is called after the client was marked active.
func (in *Input) Start() error {
	if in.globalActive != 1 || in.profile == nil {
		return nil
	}
	if !in.profile.CanStartNewIO() {
		return errors.New(ErrTooManyActive).
			Component(ComponentEndpoint).
			Context("profile", in.profile.Name).
			Context("max_active", in.profile.MaxActiveCount).
			Build()
	}
	in.profile.CurActiveCount++
	return nil
}

// Stop releases the profile active slot once the input is idle.
func (in *Input) Stop() {
	if in.IsActive() || in.profile == nil {
		return
	}
	if in.profile.CurActiveCount > 0 {
		in.profile.CurActiveCount--
	}
}

// ReleaseActiveSlot gives back the profile active slot of an input closed
// while clients are still started.
func (in *Input) ReleaseActiveSlot() {
	if !in.IsActive() || in.profile == nil {
		return
	}
	if in.profile.CurActiveCount > 0 {
		in.profile.CurActiveCount--
	}
}

// SetClientActive starts or stops a client and reports whether the input as
// a whole toggled between idle and active.
func (in *Input) SetClientActive(c *RecordClient, active bool) bool {
	if !in.clients.Has(c.PortID) || c.active == active {
		return false
	}
	old := in.globalActive
	if active {
		in.globalActive++
	} else {
		in.globalActive = max(in.globalActive-1, 0)
	}
	c.active = active
	return (old == 0) != (in.globalActive == 0)
}

// AddClient attaches a client to the input.
func (in *Input) AddClient(c *RecordClient) {
	in.clients.Add(c.PortID, c)
}

// RemoveClient detaches a client.
func (in *Input) RemoveClient(port audio.PortHandle) (*RecordClient, bool) {
	c, ok := in.clients.Get(port)
	if !ok {
		return nil, false
	}
	if c.active {
		in.SetClientActive(c, false)
	}
	in.clients.Remove(port)
	return c, true
}

// Client returns the client with the given port id.
func (in *Input) Client(port audio.PortHandle) (*RecordClient, bool) {
	return in.clients.Get(port)
}

// ClientCount returns the number of attached clients.
func (in *Input) ClientCount() int { return in.clients.Len() }

// Clients returns the clients in port order, optionally only started ones
// capturing source. SourceDefault matches every source.
func (in *Input) Clients(activeOnly bool, source audio.Source) []*RecordClient {
	var out []*RecordClient
	for _, c := range in.clients.Values() {
		if activeOnly && !c.active {
			continue
		}
		if source != audio.SourceDefault && c.Source() != source {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ClientsForSession returns the clients of one audio session.
func (in *Input) ClientsForSession(session audio.Session) []*RecordClient {
	var out []*RecordClient
	for _, c := range in.clients.Values() {
		if c.Session == session {
			out = append(out, c)
		}
	}
	return out
}

// HighestPrioritySource returns the source of the client with the highest
// capture priority.
func (in *Input) HighestPrioritySource(activeOnly bool) audio.Source {
	source := audio.SourceDefault
	best := -1
	for _, c := range in.clients.Values() {
		if activeOnly && !c.active {
			continue
		}
		if p := c.Source().Priority(); p > best {
			best = p
			source = c.Source()
		}
	}
	return source
}

// IsSourceActive reports whether a started client captures source. An
// active sound trigger hotword client counts as voice recognition.
func (in *Input) IsSourceActive(source audio.Source) bool {
	for _, c := range in.clients.Values() {
		if !c.active {
			continue
		}
		if c.Source() == source {
			return true
		}
		if source == audio.SourceVoiceRecognition && c.Source() == audio.SourceHotword && c.IsSoundTrigger {
			return true
		}
	}
	return false
}

// PreemptedSessions returns the hotword sessions this input preempted.
func (in *Input) PreemptedSessions() []audio.Session {
	return slices.Clone(in.preempted)
}

// HasPreemptedSession reports whether session was preempted by this input.
func (in *Input) HasPreemptedSession(session audio.Session) bool {
	return slices.Contains(in.preempted, session)
}

// SetPreemptedSessions replaces the preempted session set.
func (in *Input) SetPreemptedSessions(sessions []audio.Session) {
	s := slices.Clone(sessions)
	slices.Sort(s)
	in.preempted = slices.Compact(s)
}

// ClearPreemptedSessions forgets every preempted session.
func (in *Input) ClearPreemptedSessions() {
	in.preempted = nil
}

// Port describes the input as a mix port.
func (in *Input) Port() audio.Port {
	p := audio.Port{
		ID:   in.ID,
		Role: audio.PortRoleSink,
		Type: audio.PortTypeMix,
		Mix:  audio.MixExt{Module: in.ModuleHandle(), Handle: in.handle},
	}
	if in.profile != nil {
		p.Name = in.profile.Name
		p.Formats = in.profile.Profiles.Formats()
	}
	p.ActiveConfig = in.PortConfig()
	return p
}

// PortConfig describes the input as the sink of a patch.
func (in *Input) PortConfig() audio.PortConfig {
	return audio.PortConfig{
		ID:          in.ID,
		Role:        audio.PortRoleSink,
		Type:        audio.PortTypeMix,
		SampleRate:  in.Config.SampleRate,
		ChannelMask: in.Config.ChannelMask,
		Format:      in.Config.Format,
		Mix: audio.MixExt{
			Module: in.ModuleHandle(),
			Handle: in.handle,
			Source: in.HighestPrioritySource(false),
		},
	}
}
