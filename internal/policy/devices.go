package policy

import (
	"slices"
	"strconv"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/endpoint"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/hal"
	"github.com/tphakala/audiopolicy/internal/inventory"
)

// SetDeviceConnectionState connects or disconnects one device. Connecting
// opens the endpoints needed to reach the device and fails when none can be
// opened. Disconnecting closes the endpoints that can no longer reach any
// device and releases the patches and audio sources using it. Every output
// is re-routed afterwards.
func (m *Manager) SetDeviceConnectionState(device audio.DeviceType, state audio.DeviceState, address, name string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("set_device_connection_state", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}
	err = m.setDeviceConnectionState(device, state, address, name)
	m.nextPortGeneration()
	if err == nil {
		m.portListChanged()
		m.notifier.DeviceStateChanged(device, address, state)
	}
	return err
}

func (m *Manager) setDeviceConnectionState(device audio.DeviceType, state audio.DeviceState, address, name string) error {
	if !device.IsOutput() && !device.IsInput() {
		return errors.New(ErrInvalidDevice).
			Component(ComponentPolicy).
			Context("device", strconv.FormatUint(uint64(device), 16)).
			Build()
	}
	if state != audio.DeviceStateAvailable && state != audio.DeviceStateUnavailable {
		return invalidArgument("set_device_connection_state", "state", int(state))
	}

	desc := m.modules.GetDeviceDescriptor(device, address, name, false)
	if desc.ID == audio.PortHandleNone {
		desc.ID = m.ids.Next()
	}
	m.logger.Info("device connection state change",
		"device", device.String(),
		"address", address,
		"state", state.String())

	if device.IsOutput() {
		return m.setOutputDeviceConnectionState(desc, state)
	}
	return m.setInputDeviceConnectionState(desc, state)
}

// deviceStateError reports a device already in the requested state.
func deviceStateError(desc *inventory.DeviceDescriptor, state audio.DeviceState) error {
	return errors.New(ErrDeviceState).
		Component(ComponentPolicy).
		Context("device", desc.Type.String()).
		Context("address", desc.Address).
		Context("state", state.String()).
		Build()
}

func (m *Manager) setOutputDeviceConnectionState(desc *inventory.DeviceDescriptor, state audio.DeviceState) error {
	// checkOutputForAllStrategies compares against the outputs open before
	// this change.
	m.previousOutputs = m.outputs.Clone()
	connected := m.availableOutputs.IndexOf(desc) >= 0

	var outputs []audio.IOHandle
	if state == audio.DeviceStateAvailable {
		if connected {
			return deviceStateError(desc, state)
		}
		module := m.modules.GetModuleForDeviceType(desc.Type)
		if module == nil {
			return errors.New(ErrDeviceUnsupported).
				Component(ComponentPolicy).
				Context("device", desc.Type.String()).
				Build()
		}
		desc.Module = module.Handle
		m.availableOutputs = m.availableOutputs.Add(desc)

		// The hardware learns about the device before outputs are opened so
		// it can report dynamic capabilities.
		m.broadcastDeviceConnectionState(desc, state)
		opened, err := m.checkOutputsForDevice(desc, state)
		if err != nil {
			m.availableOutputs, _ = m.availableOutputs.Remove(desc)
			m.broadcastDeviceConnectionState(desc, audio.DeviceStateUnavailable)
			return err
		}
		outputs = opened
	} else {
		if !connected {
			return deviceStateError(desc, state)
		}
		m.broadcastDeviceConnectionState(desc, state)
		m.availableOutputs, _ = m.availableOutputs.Remove(desc)
		outputs, _ = m.checkOutputsForDevice(desc, state)
	}
	if err := m.engine.SetDeviceConnectionState(desc, state); err != nil {
		m.logger.Warn("engine rejected device state", "device", desc.String(), "error", err)
	}

	m.checkForDeviceAndOutputChanges(func() bool {
		if len(outputs) == 0 {
			return false
		}
		// Outputs close only after every strategy moved away from them.
		// Direct outputs opened to read capabilities close as well.
		for _, h := range outputs {
			out, ok := m.outputs.Get(h)
			if !ok {
				continue
			}
			if state == audio.DeviceStateUnavailable || (out.IsDirect() && out.DirectOpenCount == 0) {
				m.closeOutput(h)
			}
		}
		return true
	})

	inCall := m.engine.PhoneState() == audio.ModeInCall
	if inCall && m.primary != nil {
		m.updateCallRouting(m.newOutputDevice(m.primary, false), 0)
	}
	msdDevices := m.msdOutDeviceTypes()
	for _, out := range m.outputs.Values() {
		if inCall && out == m.primary {
			continue
		}
		// Forcing a duplicated output to none would override the routing of
		// both legs.
		force := (msdDevices == audio.DeviceNone || msdDevices != out.Device()) &&
			!out.IsDuplicated() &&
			(!desc.Type.DistinguishesOnAddress() || state == audio.DeviceStateUnavailable)
		m.setOutputDevice(out, m.newOutputDevice(out, true), force, 0, nil, "", true)
	}

	if state == audio.DeviceStateUnavailable {
		m.cleanUpForDevice(desc)
	}
	return nil
}

func (m *Manager) setInputDeviceConnectionState(desc *inventory.DeviceDescriptor, state audio.DeviceState) error {
	connected := m.availableInputs.IndexOf(desc) >= 0

	if state == audio.DeviceStateAvailable {
		if connected {
			return deviceStateError(desc, state)
		}
		module := m.modules.GetModuleForDeviceType(desc.Type)
		if module == nil {
			return errors.New(ErrDeviceUnsupported).
				Component(ComponentPolicy).
				Context("device", desc.Type.String()).
				Build()
		}
		m.broadcastDeviceConnectionState(desc, state)
		if err := m.checkInputsForDevice(desc, state); err != nil {
			m.broadcastDeviceConnectionState(desc, audio.DeviceStateUnavailable)
			return err
		}
		desc.Module = module.Handle
		m.availableInputs = m.availableInputs.Add(desc)
	} else {
		if !connected {
			return deviceStateError(desc, state)
		}
		m.broadcastDeviceConnectionState(desc, state)
		_ = m.checkInputsForDevice(desc, state)
		m.availableInputs, _ = m.availableInputs.Remove(desc)
	}
	if err := m.engine.SetDeviceConnectionState(desc, state); err != nil {
		m.logger.Warn("engine rejected device state", "device", desc.String(), "error", err)
	}

	m.closeAllInputs()
	// Capture devices take part in output device selection, for example
	// for telephony.
	m.updateDevicesAndOutputs()

	if m.engine.PhoneState() == audio.ModeInCall && m.primary != nil {
		m.updateCallRouting(m.newOutputDevice(m.primary, false), 0)
	}
	if state == audio.DeviceStateUnavailable {
		m.cleanUpForDevice(desc)
	}
	return nil
}

// GetDeviceConnectionState reports whether a device is available.
func (m *Manager) GetDeviceConnectionState(device audio.DeviceType, address string) audio.DeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceConnectionState(device, address)
}

func (m *Manager) deviceConnectionState(device audio.DeviceType, address string) audio.DeviceState {
	var devices inventory.DeviceVector
	switch {
	case device.IsOutput():
		devices = m.availableOutputs
	case device.IsInput():
		devices = m.availableInputs
	default:
		return audio.DeviceStateUnavailable
	}
	if devices.GetDevice(device, address) != nil {
		return audio.DeviceStateAvailable
	}
	return audio.DeviceStateUnavailable
}

// HandleDeviceConfigChange makes the policy read the configuration of a
// connected device again. A2DP codecs are reconfigured in place when the
// hardware supports it, other devices are disconnected and reconnected.
func (m *Manager) HandleDeviceConfigChange(device audio.DeviceType, address, name string) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("handle_device_config_change", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}
	if !device.IsOutput() && !device.IsInput() {
		return errors.New(ErrInvalidDevice).
			Component(ComponentPolicy).
			Context("device", strconv.FormatUint(uint64(device), 16)).
			Build()
	}
	desc := m.modules.GetDeviceDescriptor(device, address, name, false)
	if m.availableOutputs.IndexOf(desc) < 0 {
		return nil
	}

	if device.IsA2DP() {
		reply := hal.ParseParams(m.hal.GetParameters(audio.IOHandleNone, hal.KeyReconfigA2DPSupported))
		if reply[hal.KeyReconfigA2DPSupported] == "1" {
			m.hal.SetParameters(audio.IOHandleNone, hal.Params{}.Set(hal.KeyReconfigA2DP, "true").String(), 0)
			m.logger.Info("a2dp codec reconfiguration requested", "address", address)
			return nil
		}
	}

	for _, state := range []audio.DeviceState{audio.DeviceStateUnavailable, audio.DeviceStateAvailable} {
		err := m.setDeviceConnectionState(device, state, address, name)
		m.nextPortGeneration()
		if err != nil {
			m.logger.Warn("device reconnect failed", "device", device.String(), "state", state.String(), "error", err)
			return err
		}
		m.notifier.DeviceStateChanged(device, address, state)
	}
	m.portListChanged()
	return nil
}

// broadcastDeviceConnectionState tells the hardware a device came or went.
func (m *Manager) broadcastDeviceConnectionState(desc *inventory.DeviceDescriptor, state audio.DeviceState) {
	key := hal.KeyDisconnect
	if state == audio.DeviceStateAvailable {
		key = hal.KeyConnect
	}
	p := hal.Params{}.Set(key, strconv.FormatUint(uint64(desc.Type), 10))
	if desc.Address != "" {
		p.Set(hal.KeyAddress, desc.Address)
	}
	m.hal.SetParameters(audio.IOHandleNone, p.String(), 0)
}

// checkOutputsForDevice opens the outputs needed to reach a connecting
// device, or lists the outputs left without a device by a disconnect. The
// returned handles are candidates for closing once routing moved away.
func (m *Manager) checkOutputsForDevice(desc *inventory.DeviceDescriptor, state audio.DeviceState) ([]audio.IOHandle, error) {
	device := desc.Type
	if device.IsDigital() {
		desc.Profiles = nil
	}

	var outputs []audio.IOHandle
	if state == audio.DeviceStateUnavailable {
		for _, out := range m.outputs.Values() {
			if out.IsDuplicated() {
				continue
			}
			if device.DistinguishesOnAddress() && out.SupportedDevices() == device {
				if out.Profile().SupportedDevices.GetDevice(device, desc.Address) != nil {
					outputs = append(outputs, out.Handle())
				}
			} else if out.SupportedDevices()&m.availableOutputs.Types() == audio.DeviceNone {
				outputs = append(outputs, out.Handle())
			}
		}
		for _, profile := range m.modules.OutputProfiles() {
			if profile.SupportsDeviceTypes(device) {
				profile.Profiles = profile.Profiles.ClearDynamic()
			}
		}
		return outputs, nil
	}

	for _, out := range m.outputs.Values() {
		if out.IsDuplicated() || out.SupportedDevices()&device == audio.DeviceNone {
			continue
		}
		if !device.DistinguishesOnAddress() || out.Profile().SupportedDevices.GetDevice(device, desc.Address) != nil {
			outputs = append(outputs, out.Handle())
		}
	}
	var profiles []*inventory.IOProfile
	for _, profile := range m.modules.OutputProfiles() {
		if profile.SupportsDevice(device, desc.Address) {
			profiles = append(profiles, profile)
		}
	}
	if len(profiles) == 0 && len(outputs) == 0 {
		return nil, m.unreachable(desc, "no output profile")
	}

	usable := len(profiles)
	for _, profile := range profiles {
		if m.outputForProfile(outputs, profile) != nil {
			if device.IsDigital() {
				desc.Profiles = desc.Profiles.Import(profile.Profiles)
			}
			continue
		}
		if !profile.CanOpenNewIO() {
			m.logger.Warn("output profile open limit reached", "profile", profile.Name, "max_open", profile.MaxOpenCount)
			continue
		}
		out, err := m.openOutputForDevice(profile, desc)
		if err != nil {
			m.logger.Warn("could not open output for device", "device", device.String(), "profile", profile.Name, "error", err)
			usable--
			continue
		}
		outputs = append(outputs, out.Handle())
		if device.IsDigital() {
			desc.Profiles = desc.Profiles.Import(profile.Profiles)
		}
		if device.DistinguishesOnAddress() {
			m.setOutputDevice(out, device, true, 0, nil, desc.Address, true)
		}
	}
	if usable == 0 {
		return nil, m.unreachable(desc, "no output could be opened")
	}
	return outputs, nil
}

// outputForProfile returns the non duplicated output of handles opened from
// profile.
func (m *Manager) outputForProfile(handles []audio.IOHandle, profile *inventory.IOProfile) *endpoint.Output {
	for _, h := range handles {
		if out, ok := m.outputs.Get(h); ok && !out.IsDuplicated() && out.Profile() == profile {
			return out
		}
	}
	return nil
}

// openOutputForDevice opens and registers an output of profile for a newly
// connected device. Dynamic profiles are filled from the hardware and the
// output reopened with a concrete configuration. Mixed outputs get a
// duplicated output with the primary output, outputs of a policy mix are
// bound to it.
func (m *Manager) openOutputForDevice(profile *inventory.IOProfile, desc *inventory.DeviceDescriptor) (*endpoint.Output, error) {
	device := desc.Type
	out, err := m.openOutputStream(profile, device, desc.Address, audio.Config{}, audio.OutputFlagNone)
	if err != nil {
		return nil, err
	}
	if desc.Address != "" {
		m.hal.SetParameters(out.Handle(), hal.AddressParams(device, desc.Address), 0)
	}
	m.updateAudioProfiles(device, out.Handle(), profile)
	if !profile.Profiles.HasValid() {
		m.closeOutputStream(out)
		return nil, m.unreachable(desc, "no valid audio profile")
	}
	if profile.Profiles.HasDynamic() {
		m.closeOutputStream(out)
		out, err = m.openOutputStream(profile, device, desc.Address, pickConfig(profile, audio.Config{}), audio.OutputFlagNone)
		if err != nil {
			return nil, err
		}
	}

	m.addOutput(out)
	switch {
	case device.DistinguishesOnAddress() && desc.Address != remoteSubmixAddress:
		pm, ok := m.mixes.Get(desc.Address)
		if !ok {
			m.logger.Error("no policy mix for address", "address", desc.Address)
			break
		}
		m.mixes.SetOutput(desc.Address, out.Handle())
		out.PolicyMix = pm
	case !out.IsDirect() && m.primary != nil:
		dup, err := m.openDuplicatedOutput(m.primary, out)
		if err != nil {
			m.closeOutputStream(out)
			m.removeOutput(out.Handle())
			m.nextPortGeneration()
			return nil, err
		}
		m.addOutput(dup)
	}
	return out, nil
}

// checkInputsForDevice opens the inputs needed to reach a connecting capture
// device, or drops the dynamic capabilities learned for a disconnecting one.
func (m *Manager) checkInputsForDevice(desc *inventory.DeviceDescriptor, state audio.DeviceState) error {
	device := desc.Type
	if device.IsDigital() {
		desc.Profiles = nil
	}

	if state == audio.DeviceStateUnavailable {
		for _, profile := range m.modules.InputProfiles() {
			if profile.SupportsDeviceTypes(device) {
				profile.Profiles = profile.Profiles.ClearDynamic()
			}
		}
		return nil
	}

	var opened []*endpoint.Input
	for _, in := range m.inputs.Values() {
		if in.Profile() != nil && in.Profile().SupportsDeviceTypes(device) {
			opened = append(opened, in)
		}
	}
	var profiles []*inventory.IOProfile
	for _, profile := range m.modules.InputProfiles() {
		if profile.SupportsDevice(device, desc.Address) {
			profiles = append(profiles, profile)
		}
	}
	if len(profiles) == 0 && len(opened) == 0 {
		return m.unreachable(desc, "no input profile")
	}

	usable := len(profiles)
	for _, profile := range profiles {
		if slices.ContainsFunc(m.inputs.Values(), func(in *endpoint.Input) bool { return in.Profile() == profile }) {
			if device.IsDigital() {
				desc.Profiles = desc.Profiles.Import(profile.Profiles)
			}
			continue
		}
		if !profile.CanOpenNewIO() {
			m.logger.Warn("input profile open limit reached", "profile", profile.Name, "max_open", profile.MaxOpenCount)
			continue
		}
		in, err := m.openInputStream(profile, device, desc.Address, audio.Config{}, audio.SourceMic, audio.InputFlagNone)
		if err != nil {
			m.logger.Warn("could not open input for device", "device", device.String(), "profile", profile.Name, "error", err)
			usable--
			continue
		}
		if desc.Address != "" {
			m.hal.SetParameters(in.Handle(), hal.AddressParams(device, desc.Address), 0)
		}
		m.updateAudioProfiles(device, in.Handle(), profile)
		if !profile.Profiles.HasValid() {
			m.closeInputStream(in)
			usable--
			continue
		}
		m.addInput(in)
		if device.IsDigital() {
			desc.Profiles = desc.Profiles.Import(profile.Profiles)
		}
	}
	if usable == 0 {
		return m.unreachable(desc, "no input could be opened")
	}
	return nil
}

func (m *Manager) unreachable(desc *inventory.DeviceDescriptor, reason string) error {
	return errors.New(ErrDeviceUnreachable).
		Component(ComponentPolicy).
		Context("device", desc.Type.String()).
		Context("address", desc.Address).
		Context("reason", reason).
		Build()
}

// updateAudioProfiles fills the dynamic profiles of profile from what the
// stream io reports. Formats are read first since rates and channel masks
// are queried per format.
func (m *Manager) updateAudioProfiles(device audio.DeviceType, io audio.IOHandle, profile *inventory.IOProfile) {
	ps := profile.Profiles
	if !ps.HasDynamic() {
		return
	}
	formats := ps.Formats()
	if ps.HasDynamicFormat() {
		reply := hal.ParseParams(m.hal.GetParameters(io, hal.KeySupportedFormats))
		value, ok := reply[hal.KeySupportedFormats]
		if !ok {
			m.logger.Error("hardware did not report formats", "io", int32(io), "device", device.String())
			return
		}
		formats = inventory.ParseFormats(value)
		if device == audio.DeviceOutHDMI {
			formats = m.filterSurroundFormats(formats)
		}
	}
	for _, format := range formats {
		var rates []uint32
		var masks []audio.ChannelMask
		reply := hal.ParseParams(m.hal.GetParameters(io, hal.FormatQuery(format, hal.KeySupportedSampleRates)))
		if v, ok := reply[hal.KeySupportedSampleRates]; ok {
			rates = inventory.ParseSampleRates(v)
		}
		reply = hal.ParseParams(m.hal.GetParameters(io, hal.FormatQuery(format, hal.KeySupportedChannels)))
		if v, ok := reply[hal.KeySupportedChannels]; ok {
			masks = inventory.ParseChannelMasks(v)
			if device == audio.DeviceOutHDMI {
				masks = m.filterSurroundChannelMasks(masks)
			}
		}
		ps = ps.FillFormat(format, rates, masks)
	}
	profile.Profiles = ps
	m.logger.Debug("dynamic profiles updated",
		"profile", profile.Name,
		"device", device.String(),
		"formats", len(profile.Profiles.Formats()))
}

// cleanUpForDevice stops the audio sources captured from a disconnected
// device and releases every patch using it.
func (m *Manager) cleanUpForDevice(desc *inventory.DeviceDescriptor) {
	sources := m.sources.Values()
	for i := len(sources) - 1; i >= 0; i-- {
		if sources[i].srcDevice.Equals(desc) {
			m.logger.Debug("releasing audio source of removed device", "port", int32(sources[i].portID))
			if err := m.stopAudioSource(sources[i].portID); err != nil {
				m.logger.Warn("stopping audio source failed", "port", int32(sources[i].portID), "error", err)
			}
		}
	}

	patches := m.patches.All()
	for i := len(patches) - 1; i >= 0; i-- {
		d := patches[i]
		if !patchUsesDevice(d.Patch, desc.Type) {
			continue
		}
		m.logger.Debug("releasing patch of removed device", "patch", int32(d.Handle))
		if err := m.releaseAudioPatch(d.Handle, d.UID); err != nil {
			m.logger.Warn("releasing patch failed", "patch", int32(d.Handle), "error", err)
		}
	}
}

// patchUsesDevice reports whether a source or sink of p is device.
func patchUsesDevice(p audio.Patch, device audio.DeviceType) bool {
	for _, pc := range slices.Concat(p.Sources, p.Sinks) {
		if pc.Type == audio.PortTypeDevice && pc.Device.Type == device {
			return true
		}
	}
	return false
}
