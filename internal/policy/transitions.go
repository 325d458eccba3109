package policy

import (
	"time"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/endpoint"
	"github.com/tphakala/audiopolicy/internal/hal"
	"github.com/tphakala/audiopolicy/internal/inventory"
	"github.com/tphakala/audiopolicy/internal/patch"
)

// setOutputDevice routes out to device. It is the only path changing the
// device of an output. A duplicated output routes both legs. The returned
// value is the mute wait in milliseconds already slept by this call, which
// callers subtract from their own waits.
//
// The call does nothing when the device is none or unchanged, a patch
// already exists and force is false.
func (m *Manager) setOutputDevice(out *endpoint.Output, device audio.DeviceType, force bool, delayMs int, handle *audio.PatchHandle, address string, requiresMuteCheck bool) int {
	if out.IsDuplicated() {
		out1, out2 := out.SubOutputs()
		return m.setOutputDevice(out1, device, force, delayMs, nil, "", requiresMuteCheck) +
			m.setOutputDevice(out2, device, force, delayMs, nil, "", requiresMuteCheck)
	}

	supported := out.SupportedDevices()
	if device != audio.DeviceNone && device&supported == audio.DeviceNone {
		return 0
	}
	device &= supported
	prevDevice := out.Device()
	if device != audio.DeviceNone {
		out.SetDevice(device)
	}

	muteWaitMs := 0
	if requiresMuteCheck {
		muteWaitMs = m.checkDeviceMuteStrategies(out, prevDevice, delayMs)
	}

	if (device == audio.DeviceNone || device == prevDevice) && !force && out.PatchHandle() != audio.PatchHandleNone {
		return muteWaitMs
	}

	m.logger.Debug("routing output",
		"output", int32(out.Handle()),
		"device", device.String(),
		"previous", prevDevice.String(),
		"force", force,
		"delay_ms", delayMs)

	if device == audio.DeviceNone {
		m.resetOutputDevice(out, delayMs, handle)
	} else {
		var devices inventory.DeviceVector
		if address == "" {
			devices = m.availableOutputs.GetDevicesFromTypeMask(device)
		} else if d := m.availableOutputs.GetDevice(device, address); d != nil {
			devices = inventory.DeviceVector{d}
		}
		if len(devices) > 0 {
			b := patch.NewBuilder().AddSource(out.PortConfig())
			for i, d := range devices {
				if i == audio.PatchPortsMax {
					break
				}
				b.AddSink(d.PortConfig())
			}
			if _, err := m.installPatch("set_output_device", handle, out, b.Patch(), delayMs, UIDCached); err != nil {
				m.logger.Warn("output patch failed", "output", int32(out.Handle()), "device", device.String(), "error", err)
			}
		}

		// Inputs capture the echo reference of the new playback device.
		for _, in := range m.inputs.Values() {
			if in.Device.IsVirtualInput() {
				continue
			}
			m.hal.SetParameters(in.Handle(), hal.Params{}.Set(hal.KeyRouting, device.String()).String(), delayMs)
		}
	}

	m.applyStreamVolumes(out, device, delayMs, false)
	return muteWaitMs
}

// checkDeviceMuteStrategies mutes strategies that must not leak while out
// moves from prevDevice to its current device and returns the wait already
// slept in milliseconds.
//
// A strategy routed to only part of a multi device selection is muted on
// every output sharing devices with out. When an active output changes
// device, every active strategy is muted for the duration of the switch.
func (m *Manager) checkDeviceMuteStrategies(out *endpoint.Output, prevDevice audio.DeviceType, delayMs int) int {
	if out.IsDuplicated() {
		return 0
	}
	now := m.clock.Now()
	device := out.Device()
	shouldMute := out.IsActive(0, now) && device.Count() >= 2

	waitMs := 0
	for s := audio.Strategy(0); s < audio.NumStrategies; s++ {
		cur := m.deviceForStrategy(s, false) & out.SupportedDevices()
		mute := shouldMute && cur&device != audio.DeviceNone && cur != device
		doMute := false
		if mute && !out.StrategyMutedByDevice[s] {
			doMute = true
			out.StrategyMutedByDevice[s] = true
		} else if !mute && out.StrategyMutedByDevice[s] {
			doMute = true
			out.StrategyMutedByDevice[s] = false
		}
		if !doMute {
			continue
		}
		for _, desc := range m.outputs.Values() {
			if desc.SupportedDevices()&out.SupportedDevices() == audio.DeviceNone {
				continue
			}
			unmuteDelay := delayMs
			if mute {
				unmuteDelay = 0
			}
			m.logger.Debug("strategy mute by device",
				"strategy", s.String(),
				"mute", mute,
				"output", int32(desc.Handle()))
			m.setStrategyMute(s, mute, desc, unmuteDelay, audio.DeviceNone)
			if mute && m.isStrategyActive(desc, s, 0) {
				waitMs = max(waitMs, int(desc.Latency())*2)
			}
		}
	}

	// Temporarily mute the output while it changes device so the old and new
	// paths never play the same buffer.
	if out.IsActive(0, now) && device != prevDevice {
		waitMs = max(waitMs, int(out.Latency())*2)
		tempMuteMs := int(out.Latency()) * m.settings.MuteLatencyFactor
		for s := audio.Strategy(0); s < audio.NumStrategies; s++ {
			if !m.isStrategyActive(out, s, 0) {
				continue
			}
			m.setStrategyMute(s, true, out, delayMs, audio.DeviceNone)
			m.setStrategyMute(s, false, out, delayMs+tempMuteMs, device)
		}
	}

	if waitMs > delayMs {
		waitMs -= delayMs
		d := time.Duration(waitMs) * time.Millisecond
		m.clock.Sleep(d)
		m.recorder.MuteWait(d)
		return waitMs
	}
	return 0
}

// setInputDevice routes in to device.
func (m *Manager) setInputDevice(in *endpoint.Input, device audio.DeviceType, force bool, handle *audio.PatchHandle) {
	if device == audio.DeviceNone || (device == in.Device && !force && in.PatchHandle() != audio.PatchHandleNone) {
		return
	}
	in.Device = device

	devices := m.availableInputs.GetDevicesFromTypeMask(device)
	if len(devices) == 0 {
		return
	}
	src := devices[0].PortConfig()
	sink := in.PortConfig()
	// A hotword client on a regular input captures as voice recognition.
	if sink.Mix.Source == audio.SourceHotword && !in.IsSoundTrigger {
		sink.Mix.Source = audio.SourceVoiceRecognition
	}
	p := patch.NewBuilder().AddSource(src).AddSink(sink).Patch()
	if _, err := m.installPatch("set_input_device", handle, in, p, 0, UIDCached); err != nil {
		m.logger.Warn("input patch failed", "input", int32(in.Handle()), "device", device.String(), "error", err)
		return
	}
	m.logger.Debug("input routed", "input", int32(in.Handle()), "device", device.String())
}
