package policy

import (
	"slices"

	"github.com/tphakala/audiopolicy/internal/audio"
)

// ListAudioPorts returns the available device ports and the mix ports of the
// open endpoints, filtered by role and type. PortRoleNone and PortTypeNone
// match everything. Stub devices and duplicated outputs are never listed.
func (m *Manager) ListAudioPorts(role audio.PortRole, typ audio.PortType) ([]audio.Port, uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ports []audio.Port
	sinks := role == audio.PortRoleNone || role == audio.PortRoleSink
	sources := role == audio.PortRoleNone || role == audio.PortRoleSource
	if typ == audio.PortTypeNone || typ == audio.PortTypeDevice {
		if sinks {
			for _, d := range m.availableOutputs {
				if d.Type != audio.DeviceOutStub {
					ports = append(ports, d.Port())
				}
			}
		}
		if sources {
			for _, d := range m.availableInputs {
				if d.Type != audio.DeviceInStub {
					ports = append(ports, d.Port())
				}
			}
		}
	}
	if typ == audio.PortTypeNone || typ == audio.PortTypeMix {
		if sinks {
			for _, in := range m.inputs.Values() {
				ports = append(ports, in.Port())
			}
		}
		if sources {
			for _, out := range m.outputs.Values() {
				if !out.IsDuplicated() {
					ports = append(ports, out.Port())
				}
			}
		}
	}
	return ports, m.portGeneration
}

// GetAudioPort returns the port with the given id, looking at devices first.
func (m *Manager) GetAudioPort(id audio.PortHandle) (audio.Port, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == audio.PortHandleNone {
		return audio.Port{}, invalidArgument("get_audio_port", "port_id", int32(id))
	}
	if d := m.availableOutputs.GetDeviceFromID(id); d != nil {
		return d.Port(), nil
	}
	if d := m.availableInputs.GetDeviceFromID(id); d != nil {
		return d.Port(), nil
	}
	if out, ok := m.outputs.GetOutputFromID(id); ok {
		return out.Port(), nil
	}
	if in, ok := m.inputs.GetInputFromID(id); ok {
		return in.Port(), nil
	}
	return audio.Port{}, unknownPort(id)
}

// PortGeneration returns the port list generation.
func (m *Manager) PortGeneration() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.portGeneration
}

// ReleaseResourcesForUID stops the audio sources, releases the patches and
// drops the explicit routes owned by uid. It is called when a client dies.
func (m *Manager) ReleaseResourcesForUID(uid audio.UID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return
	}
	m.clearAudioSources(uid)
	m.clearAudioPatches(uid)
	m.clearSessionRoutes(uid)
	m.logger.Info("resources released", "uid", uid)
}

// clearSessionRoutes forgets the preferred devices of uid's clients. Outputs
// of the affected strategies are re-routed, inputs capturing the affected
// sources are closed.
func (m *Manager) clearSessionRoutes(uid audio.UID) {
	var strategies []audio.Strategy
	for _, out := range m.outputs.Values() {
		for _, c := range out.Clients() {
			if c.UID == uid && c.HasPreferredDevice(false) {
				c.PreferredDevice = audio.PortHandleNone
				if !slices.Contains(strategies, c.Strategy) {
					strategies = append(strategies, c.Strategy)
				}
			}
		}
	}
	slices.Sort(strategies)
	for _, s := range strategies {
		m.checkStrategyRoute(s, audio.IOHandleNone)
	}

	var sources []audio.Source
	for _, in := range m.inputs.Values() {
		for _, c := range in.Clients(false, audio.SourceDefault) {
			if c.UID == uid && c.HasPreferredDevice(false) {
				c.PreferredDevice = audio.PortHandleNone
				sources = append(sources, c.Source())
			}
		}
	}
	if len(sources) == 0 {
		return
	}
	var toClose []audio.IOHandle
	for _, in := range m.inputs.Values() {
		if slices.Contains(sources, in.HighestPrioritySource(false)) {
			toClose = append(toClose, in.Handle())
		}
	}
	for _, h := range toClose {
		m.logger.Debug("closing input after route reset", "input", int32(h), "uid", uid)
		m.closeInput(h)
	}
}
