package policy

import (
	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/endpoint"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/inventory"
	"github.com/tphakala/audiopolicy/internal/patch"
)

// touchSoundFixedDelayMs delays re-routing after a communication forced use
// change so the touch sound that triggered it is not truncated.
const touchSoundFixedDelayMs = 100

// updateCallRouting routes a call to rxDevice. When the primary output can
// reach rxDevice the legacy path is used: the primary output is routed there
// and the hardware handles the uplink. Otherwise the call runs through a
// pair of telephony patches. Returns the mute wait already slept.
func (m *Manager) updateCallRouting(rxDevice audio.DeviceType, delayMs int) int {
	if m.primary == nil || m.primary.Device() == audio.DeviceOutStub {
		return 0
	}
	txDevice, _ := m.deviceAndMixForInputSource(audio.SourceVoiceCommunication)
	m.logger.Debug("updating call routing", "rx", rxDevice.String(), "tx", txDevice.String())

	m.releaseCallPatches()
	if rxDevice == audio.DeviceNone {
		return 0
	}

	muteWaitMs := 0
	createTx := false
	if m.availablePrimaryOutputDevices()&rxDevice != audio.DeviceNone {
		muteWaitMs = m.setOutputDevice(m.primary, rxDevice, true, delayMs, nil, "", true)
		// The legacy path covers the uplink only when the capture device is
		// on the primary module too.
		createTx = m.availablePrimaryInputDevices()&txDevice&^audio.DeviceBitIn == audio.DeviceNone
	} else {
		m.callRxPatch = m.createTelephonyPatch(true, rxDevice, delayMs)
		createTx = true
	}
	if createTx {
		m.callTxPatch = m.createTelephonyPatch(false, txDevice, delayMs)
	}
	return muteWaitMs
}

// releaseCallPatches tears down the telephony patch pair.
func (m *Manager) releaseCallPatches() {
	for _, p := range []**patch.Descriptor{&m.callRxPatch, &m.callTxPatch} {
		if *p == nil {
			continue
		}
		if err := m.hal.ReleaseAudioPatch((*p).HALHandle, 0); err != nil {
			m.logger.Warn("releasing call patch failed", "patch", int32((*p).Handle), "error", err)
		}
		*p = nil
	}
}

// createTelephonyPatch connects the telephony downlink to device (rx) or
// device to the telephony uplink (tx). An output already reaching the
// playback side is added as a second source so the hardware can reuse it.
// A tx patch ends the captures running on the module of its source device.
func (m *Manager) createTelephonyPatch(isRx bool, device audio.DeviceType, delayMs int) *patch.Descriptor {
	b := patch.NewBuilder()
	outputDevice := audio.DeviceOutTelephonyTx
	var txSource *inventory.DeviceDescriptor
	if isRx {
		sink := firstDevice(m.availableOutputs, device)
		source := firstDevice(m.availableInputs, audio.DeviceInTelephonyRx)
		if sink == nil || source == nil {
			m.logger.Warn("telephony rx devices unavailable", "device", device.String())
			return nil
		}
		b.AddSink(sink.PortConfig()).AddSource(source.PortConfig())
		outputDevice = device
	} else {
		txSource = firstDevice(m.availableInputs, device)
		sink := firstDevice(m.availableOutputs, audio.DeviceOutTelephonyTx)
		if txSource == nil || sink == nil {
			m.logger.Warn("telephony tx devices unavailable", "device", device.String())
			return nil
		}
		b.AddSource(txSource.PortConfig()).AddSink(sink.PortConfig())
	}

	var candidates []*endpoint.Output
	for _, out := range m.outputs.GetOutputsForDevice(outputDevice) {
		if !out.IsDuplicated() {
			candidates = append(candidates, out)
		}
	}
	if out := m.selectOutput(candidates, audio.OutputFlagNone, audio.FormatInvalid); out != nil {
		pc := out.PortConfig()
		pc.Mix.Stream = audio.StreamPatch
		b.AddSource(pc)
	}

	if !isRx {
		for _, in := range m.inputs.ActiveInputs(true) {
			if in.ModuleHandle() == txSource.Module {
				m.closeActiveClients(in)
			}
		}
	}

	p := b.Patch()
	halHandle, err := m.hal.CreateAudioPatch(p, audio.PatchHandleNone, delayMs)
	if err != nil {
		m.logger.Warn("creating telephony patch failed", "rx", isRx, "device", device.String(), "error", err)
		return nil
	}
	d := &patch.Descriptor{
		Handle:    m.newPatchHandle(),
		HALHandle: halHandle,
		UID:       UIDCached,
		Patch:     p,
	}
	m.logger.Debug("telephony patch created", "rx", isRx, "patch", int32(d.Handle), "device", device.String())
	return d
}

// firstDevice returns the first device of devices with a type in mask.
func firstDevice(devices inventory.DeviceVector, mask audio.DeviceType) *inventory.DeviceDescriptor {
	if found := devices.GetDevicesFromTypeMask(mask); len(found) > 0 {
		return found[0]
	}
	return nil
}

// SetPhoneState changes the telephony mode and re-routes every output.
// Entering a call mutes media and sonification for a while and delays the
// device switch so their tails do not leak into the earpiece.
func (m *Manager) SetPhoneState(mode audio.Mode) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("set_phone_state", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}

	old := m.engine.PhoneState()
	if mode == old {
		return nil
	}
	if err := m.engine.SetPhoneState(mode); err != nil {
		return errors.New(err).
			Component(ComponentPolicy).
			Context("mode", mode.String()).
			Build()
	}
	m.logger.Info("phone state changed", "from", old.String(), "to", mode.String())

	if old.IsInCall() {
		m.invalidate(audio.StreamAccessibility)
	}
	// Entering or leaving a call, or switching between telephony and VoIP,
	// forces the routing command.
	force := old.IsInCall() != mode.IsInCall() || mode.IsInCall()

	m.checkForDeviceAndOutputChanges(nil)

	delayMs := 0
	if mode.IsInCall() {
		for _, out := range m.outputs.Values() {
			if m.isStrategyActive(out, audio.StrategyMedia, sonificationHeadsetMusicDelay) ||
				m.isStrategyActive(out, audio.StrategySonification, sonificationHeadsetMusicDelay) {
				delayMs = max(delayMs, int(out.Latency())*2)
			}
			for _, s := range []audio.Strategy{audio.StrategyMedia, audio.StrategySonification} {
				m.setStrategyMute(s, true, out, 0, audio.DeviceNone)
				m.setStrategyMute(s, false, out, muteTimeMs, m.deviceForStrategy(s, true))
			}
		}
		delayMs = min(delayMs, maxDelayMs)
	}

	if m.primary != nil {
		rxDevice := m.newOutputDevice(m.primary, false)
		// Leaving a call always sends a routing command.
		if old.IsInCall() && rxDevice == audio.DeviceNone {
			rxDevice = m.primary.Device()
		}
		switch {
		case mode == audio.ModeInCall:
			m.updateCallRouting(rxDevice, delayMs)
		case old == audio.ModeInCall:
			m.releaseCallPatches()
			m.setOutputDevice(m.primary, rxDevice, force, 0, nil, "", true)
		default:
			m.setOutputDevice(m.primary, rxDevice, force, 0, nil, "", true)
		}
	}

	// Tracks started during the call may need a new route.
	for _, out := range m.outputs.Values() {
		device := m.newOutputDevice(out, true)
		if mode != audio.ModeInCall || out != m.primary {
			m.setOutputDevice(out, device, device != audio.DeviceNone, 0, nil, "", true)
		}
	}

	if mode.IsInCall() {
		m.invalidate(audio.StreamAccessibility)
	}
	// Ringtone volume is limited to music volume while music plays.
	m.limitRingtone = mode == audio.ModeRingtone &&
		m.outputs.IsStreamActive(audio.StreamMusic, sonificationHeadsetMusicDelay, m.clock.Now())
	return nil
}

// PhoneState returns the telephony mode.
func (m *Manager) PhoneState() audio.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.PhoneState()
}

// invalidate makes the clients of stream reconnect.
func (m *Manager) invalidate(stream audio.Stream) {
	if err := m.hal.InvalidateStream(stream); err != nil {
		m.logger.Warn("invalidating stream failed", "stream", stream.String(), "error", err)
	}
}

// SetForceUse overrides routing for one category and re-routes every output
// and active input. Inputs that cannot reach their new device are closed.
func (m *Manager) SetForceUse(usage audio.ForceUse, config audio.ForcedConfig) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("set_force_use", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}
	if config == m.engine.ForceUse(usage) {
		return nil
	}
	if err := m.engine.SetForceUse(usage, config); err != nil {
		return errors.New(err).
			Component(ComponentPolicy).
			Context("usage", int(usage)).
			Context("config", int(config)).
			Build()
	}
	m.logger.Info("forced use changed", "usage", int(usage), "config", int(config))

	forceVolumeReeval := usage == audio.ForceForCommunication ||
		usage == audio.ForceForDock ||
		usage == audio.ForceForSystem

	m.checkForDeviceAndOutputChanges(nil)

	delayMs := 0
	if usage == audio.ForceForCommunication {
		delayMs = touchSoundFixedDelayMs
	}
	inCall := m.engine.PhoneState() == audio.ModeInCall
	waitMs := 0
	if inCall && m.primary != nil {
		waitMs = m.updateCallRouting(m.newOutputDevice(m.primary, true), delayMs)
	}
	for _, out := range m.outputs.Values() {
		device := m.newOutputDevice(out, true)
		if !inCall || out != m.primary {
			waitMs = m.setOutputDevice(out, device, device != audio.DeviceNone, delayMs, nil, "", true)
		}
		if forceVolumeReeval && device != audio.DeviceNone {
			m.applyStreamVolumes(out, device, waitMs, true)
		}
	}

	for _, in := range m.inputs.ActiveInputs(false) {
		device := m.newInputDevice(in)
		if in.Profile() != nil && in.Profile().SupportedDevices.Types()&(device&^audio.DeviceBitIn) != audio.DeviceNone {
			m.setInputDevice(in, device, false, nil)
		} else {
			m.closeInput(in.Handle())
		}
	}
	return nil
}

// GetForceUse returns the override of one category.
func (m *Manager) GetForceUse(usage audio.ForceUse) audio.ForcedConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.ForceUse(usage)
}
