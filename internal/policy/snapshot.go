package policy

import (
	"github.com/tphakala/audiopolicy/internal/audio"
)

// DeviceState is one available device as shown by a snapshot.
type DeviceState struct {
	ID      audio.PortHandle `json:"id"`
	Type    string           `json:"type"`
	Address string           `json:"address,omitempty"`
	Name    string           `json:"name,omitempty"`
}

// OutputState is one open output as shown by a snapshot.
type OutputState struct {
	Handle     audio.IOHandle    `json:"handle"`
	Kind       string            `json:"kind"`
	Profile    string            `json:"profile,omitempty"`
	Device     string            `json:"device"`
	Flags      audio.OutputFlags `json:"flags"`
	Config     audio.Config      `json:"config"`
	Patch      audio.PatchHandle `json:"patch"`
	Clients    int               `json:"clients"`
	Active     int               `json:"active"`
	Duplicated bool              `json:"duplicated,omitempty"`
}

// InputState is one open input as shown by a snapshot.
type InputState struct {
	Handle  audio.IOHandle   `json:"handle"`
	Profile string           `json:"profile,omitempty"`
	Device  string           `json:"device"`
	Address string           `json:"address,omitempty"`
	Flags   audio.InputFlags `json:"flags"`
	Source  string           `json:"source"`
	Clients int              `json:"clients"`
	Active  int              `json:"active"`
}

// Snapshot is a consistent copy of the routing state.
type Snapshot struct {
	PhoneState       string            `json:"phone_state"`
	PortGeneration   uint32            `json:"port_generation"`
	OutputDevices    []DeviceState     `json:"output_devices"`
	InputDevices     []DeviceState     `json:"input_devices"`
	Outputs          []OutputState     `json:"outputs"`
	Inputs           []InputState      `json:"inputs"`
	Patches          []audio.Patch     `json:"patches"`
	StrategyDevices  map[string]string `json:"strategy_devices"`
	AudioSources     int               `json:"audio_sources"`
	PolicyMixes      int               `json:"policy_mixes"`
	MasterMono       bool              `json:"master_mono"`
	A2DPSuspended    bool              `json:"a2dp_suspended"`
	MusicEffectsOnIO audio.IOHandle    `json:"music_effects_output"`
}

// Snapshot copies the current routing state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		PhoneState:       m.engine.PhoneState().String(),
		PortGeneration:   m.portGeneration,
		Patches:          m.patches.Patches(),
		StrategyDevices:  make(map[string]string, audio.NumStrategies),
		AudioSources:     m.sources.Len(),
		PolicyMixes:      m.mixes.Len(),
		MasterMono:       m.masterMono,
		A2DPSuspended:    m.a2dpSuspended,
		MusicEffectsOnIO: m.musicEffectOutput,
	}
	for _, d := range m.availableOutputs {
		s.OutputDevices = append(s.OutputDevices, DeviceState{ID: d.ID, Type: d.Type.String(), Address: d.Address, Name: d.Name})
	}
	for _, d := range m.availableInputs {
		s.InputDevices = append(s.InputDevices, DeviceState{ID: d.ID, Type: d.Type.String(), Address: d.Address, Name: d.Name})
	}
	for _, out := range m.outputs.Values() {
		os := OutputState{
			Handle:     out.Handle(),
			Kind:       out.Kind().String(),
			Device:     out.Device().String(),
			Flags:      out.Flags,
			Config:     out.Config,
			Patch:      out.PatchHandle(),
			Clients:    out.ClientCount(),
			Active:     out.GlobalActiveCount(),
			Duplicated: out.IsDuplicated(),
		}
		if p := out.Profile(); p != nil {
			os.Profile = p.Name
		}
		s.Outputs = append(s.Outputs, os)
	}
	for _, in := range m.inputs.Values() {
		is := InputState{
			Handle:  in.Handle(),
			Device:  in.Device.String(),
			Address: in.Address,
			Flags:   in.Flags,
			Source:  in.HighestPrioritySource(false).String(),
			Clients: in.ClientCount(),
			Active:  in.ActiveCount(),
		}
		if p := in.Profile(); p != nil {
			is.Profile = p.Name
		}
		s.Inputs = append(s.Inputs, is)
	}
	for strategy := audio.Strategy(0); strategy < audio.NumStrategies; strategy++ {
		s.StrategyDevices[strategy.String()] = m.deviceForStrategy(strategy, true).String()
	}
	return s
}
