package policy

import (
	"time"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/endpoint"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/volume"
)

// Attenuation rules applied on top of the volume curves.
const (
	// inCallHeadroomDb caps every stream at the voice call volume plus this.
	inCallHeadroomDb = 12.0
	// sonificationHeadsetFactorDb attenuates notifications on headsets.
	sonificationHeadsetFactorDb = -6.0
	// sonificationHeadsetMinDb is the floor for notifications limited by
	// the music volume.
	sonificationHeadsetMinDb = -36.0
	// sonificationA2DPMaxMediaDiffDb keeps notifications on A2DP close to
	// the media volume.
	sonificationA2DPMaxMediaDiffDb = 10.0
	// accessibilityBelowRingDb keeps accessibility prompts audible over a
	// ringtone.
	accessibilityBelowRingDb = 4.0
	// audibleFloorDb is the level below which a notification counts as
	// intentionally silent.
	audibleFloorDb = -96.0
)

// headsetDevices are the devices notifications are attenuated on.
const headsetDevices = audio.DeviceOutBluetoothA2DP |
	audio.DeviceOutBluetoothA2DPHeadphone |
	audio.DeviceOutWiredHeadset |
	audio.DeviceOutWiredHeadphone |
	audio.DeviceOutUSBHeadset |
	audio.DeviceOutHearingAid

// beacon events driving text to speech muting.
type beaconEvent int

const (
	beaconStartingOutput beaconEvent = iota
	beaconStoppingOutput
	beaconStartingBeacon
	beaconStoppingBeacon
)

// computeVolume returns the attenuation in dB of stream at index on device.
func (m *Manager) computeVolume(stream audio.Stream, index int, device audio.DeviceType) float64 {
	db := m.curves.IndexToDb(stream, volume.CategoryForDevice(device), index)
	now := m.clock.Now()

	// Accessibility prompts must stay audible over a ringtone.
	if stream == audio.StreamAccessibility &&
		m.engine.PhoneState() == audio.ModeRingtone &&
		m.outputs.IsStreamActive(audio.StreamRing, 0, now) {
		ringDb := m.computeVolume(audio.StreamRing, index, device)
		return max(ringDb-accessibilityBelowRingDb, db)
	}

	if stream != audio.StreamVoiceCall &&
		(m.isInCall() || m.outputs.IsStreamActiveLocally(audio.StreamVoiceCall, 0, now)) {
		switch stream {
		case audio.StreamSystem, audio.StreamRing, audio.StreamMusic, audio.StreamAlarm,
			audio.StreamNotification, audio.StreamEnforcedAudible, audio.StreamDTMF,
			audio.StreamAccessibility:
			voiceIndex := m.curves.Index(audio.StreamVoiceCall, device)
			maxDb := m.computeVolume(audio.StreamVoiceCall, voiceIndex, device) + inCallHeadroomDb
			db = min(db, maxDb)
		}
	}

	strategy := m.strategyForStream(stream)
	if device&headsetDevices == audio.DeviceNone {
		return db
	}
	sonification := strategy == audio.StrategySonification ||
		strategy == audio.StrategySonificationRespectful ||
		stream == audio.StreamSystem ||
		(strategy == audio.StrategyEnforcedAudible && m.engine.ForceUse(audio.ForceForSystem) == audio.ForceNone)
	if !sonification || !m.curves.CanBeMuted(stream) {
		return db
	}

	// Music that just paused for a ringtone still counts as playing.
	if m.outputs.IsStreamActive(audio.StreamMusic, sonificationHeadsetMusicDelay, now) || m.limitRingtone {
		db += sonificationHeadsetFactorDb
		musicDevice := m.deviceForStrategy(audio.StrategyMedia, true)
		musicDb := m.computeVolume(audio.StreamMusic, m.curves.Index(audio.StreamMusic, musicDevice), musicDevice)
		db = min(db, max(musicDb, sonificationHeadsetMinDb))
		if device&(audio.DeviceOutBluetoothA2DP|audio.DeviceOutBluetoothA2DPHeadphone) != audio.DeviceNone &&
			db > audibleFloorDb && musicDb-sonificationA2DPMaxMediaDiffDb > db {
			db = musicDb - sonificationA2DPMaxMediaDiffDb
		}
	} else if volume.DeviceForVolume(device) != audio.DeviceOutSpeaker || strategy != audio.StrategySonification {
		db += sonificationHeadsetFactorDb
	}
	return db
}

// isFixedVolume reports devices whose volume is applied downstream.
func (m *Manager) isFixedVolume(out *endpoint.Output, device audio.DeviceType) bool {
	if device&audio.DeviceOutRemoteSubmix != 0 && out.PolicyMix != nil {
		return true
	}
	return device == audio.DeviceOutTelephonyTx
}

// checkAndSetVolume applies the volume of stream at index on out. A muted
// stream keeps its volume until the last unmute.
func (m *Manager) checkAndSetVolume(stream audio.Stream, index int, out *endpoint.Output, device audio.DeviceType, delayMs int, force bool) error {
	if out.MuteCount[stream] != 0 {
		return nil
	}
	comm := m.engine.ForceUse(audio.ForceForCommunication)
	if (stream == audio.StreamVoiceCall && comm == audio.ForceBTSCO) ||
		(stream == audio.StreamBluetoothSCO && comm != audio.ForceBTSCO) {
		return errors.New(ErrInvalidOperation).
			Component(ComponentPolicy).
			Context("stream", stream.String()).
			Context("force_use_communication", comm).
			Build()
	}
	if device == audio.DeviceNone {
		device = out.Device()
	}

	db := m.computeVolume(stream, index, device)
	if m.isFixedVolume(out, device) ||
		((stream == audio.StreamVoiceCall || stream == audio.StreamBluetoothSCO) && device&audio.DeviceOutAllSCO != 0) {
		db = 0
	}

	if out.SetCurVolume(stream, db, force) {
		m.setHardwareVolume(out, stream, db, delayMs)
		if stream == audio.StreamBluetoothSCO {
			m.setHardwareVolume(out, audio.StreamVoiceCall, db, delayMs)
		}
	}

	if stream == audio.StreamVoiceCall || stream == audio.StreamBluetoothSCO {
		voice := 1.0
		if stream == audio.StreamVoiceCall {
			voice = float64(index) / float64(m.curves.IndexMax(stream))
		}
		if voice != m.lastVoiceVolume {
			if err := m.hal.SetVoiceVolume(voice, delayMs); err != nil {
				m.logger.Warn("setting voice volume failed", "volume", voice, "error", err)
			}
			m.lastVoiceVolume = voice
		}
	}
	return nil
}

// setHardwareVolume sends a stream volume to every hardware output behind out.
func (m *Manager) setHardwareVolume(out *endpoint.Output, stream audio.Stream, db float64, delayMs int) {
	if out.IsDuplicated() {
		out1, out2 := out.SubOutputs()
		m.setHardwareVolume(out1, stream, db, delayMs)
		m.setHardwareVolume(out2, stream, db, delayMs)
		return
	}
	if err := m.hal.SetStreamVolume(stream, volume.DbToAmpl(db), out.Handle(), delayMs); err != nil {
		m.logger.Warn("setting stream volume failed",
			"stream", stream.String(),
			"output", int32(out.Handle()),
			"error", err)
	}
}

// applyStreamVolumes applies the volume of every stream on out.
func (m *Manager) applyStreamVolumes(out *endpoint.Output, device audio.DeviceType, delayMs int, force bool) {
	for s := audio.Stream(0); s < audio.StreamForPolicyCount; s++ {
		// The call volume errors are expected while routed the other way.
		_ = m.checkAndSetVolume(s, m.curves.Index(s, device), out, device, delayMs, force)
	}
}

// setStrategyMute mutes or unmutes every stream of strategy on out.
func (m *Manager) setStrategyMute(strategy audio.Strategy, on bool, out *endpoint.Output, delayMs int, device audio.DeviceType) {
	for s := audio.Stream(0); s < audio.StreamForPolicyCount; s++ {
		if m.strategyForStream(s) == strategy {
			m.setStreamMute(s, on, out, delayMs, device)
		}
	}
}

// setStreamMute changes the mute reference count of stream on out. The
// volume changes only when the count leaves or returns to zero.
func (m *Manager) setStreamMute(stream audio.Stream, on bool, out *endpoint.Output, delayMs int, device audio.DeviceType) {
	if device == audio.DeviceNone {
		device = out.Device()
	}
	if on {
		if out.MuteCount[stream] == 0 && m.curves.CanBeMuted(stream) &&
			(stream != audio.StreamEnforcedAudible || m.engine.ForceUse(audio.ForceForSystem) == audio.ForceNone) {
			_ = m.checkAndSetVolume(stream, 0, out, device, delayMs, false)
		}
		// Counted after the volume change so it is not skipped as muted.
		out.MuteCount[stream]++
		return
	}
	if out.MuteCount[stream] == 0 {
		m.logger.Debug("unmute of a stream that is not muted", "stream", stream.String(), "output", int32(out.Handle()))
		return
	}
	out.MuteCount[stream]--
	if out.MuteCount[stream] == 0 {
		_ = m.checkAndSetVolume(stream, m.curves.Index(stream, device), out, device, delayMs, false)
	}
}

// isStrategyActive reports whether a stream of strategy played on out within
// inPast. StrategyNone matches any stream.
func (m *Manager) isStrategyActive(out *endpoint.Output, strategy audio.Strategy, inPast time.Duration) bool {
	now := m.clock.Now()
	for s := audio.Stream(0); s < audio.StreamForPolicyCount; s++ {
		if (strategy == audio.StrategyNone || m.strategyForStream(s) == strategy) && out.IsStreamActive(s, inPast, now) {
			return true
		}
	}
	return false
}

// isStrategyActiveOnSameModule is isStrategyActive over every output on the
// hardware module of out.
func (m *Manager) isStrategyActiveOnSameModule(out *endpoint.Output, strategy audio.Strategy) bool {
	for _, desc := range m.outputs.Values() {
		if out.SharesHwModuleWith(desc) && m.isStrategyActive(desc, strategy, 0) {
			return true
		}
	}
	return false
}

// InitStreamVolume sets the index range of stream.
func (m *Manager) InitStreamVolume(stream audio.Stream, indexMin, indexMax int) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("init_stream_volume", m.clock.Now(), &err)
	return m.curves.InitStream(stream, indexMin, indexMax)
}

// SetStreamVolumeIndex sets the volume index of stream on device and applies
// it wherever the stream plays on that device. volume.DefaultForVolume sets
// the index used by devices without one of their own.
func (m *Manager) SetStreamVolumeIndex(stream audio.Stream, index int, device audio.DeviceType) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("set_stream_volume_index", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}

	// The voice call stream has a minimum above 0 but may still be muted.
	if (index < m.curves.IndexMin(stream) && (stream != audio.StreamVoiceCall || index != 0)) ||
		index > m.curves.IndexMax(stream) {
		return invalidArgument("set_stream_volume_index", "index", index)
	}
	if device == audio.DeviceNone || device&audio.DeviceBitIn != 0 {
		return invalidArgument("set_stream_volume_index", "device", device.String())
	}
	if !m.curves.CanBeMuted(stream) {
		index = m.curves.IndexMax(stream)
	}
	m.curves.SetIndex(stream, device, index)

	now := m.clock.Now()
	var result error
	for _, out := range m.outputs.Values() {
		curDevice := volume.DeviceForVolume(out.Device())
		if !out.IsStreamActive(stream, 0, now) && !m.isInCall() {
			continue
		}
		streamDevice := volume.DeviceForVolume(m.deviceForStrategy(m.strategyForStream(stream), false))
		var apply bool
		if device != volume.DefaultForVolume {
			if streamDevice&device == audio.DeviceNone {
				continue
			}
			apply = curDevice&(streamDevice|device) != audio.DeviceNone
		} else {
			apply = !m.curves.HasIndexForDevice(stream, streamDevice)
		}
		if !apply {
			continue
		}
		delayMs := 0
		// Touch sounds follow the change after they started playing.
		if stream == audio.StreamSystem {
			delayMs = systemVolumeDelayMs
		}
		if err := m.checkAndSetVolume(stream, index, out, curDevice, delayMs, false); err != nil {
			result = err
		}
	}
	return result
}

// GetStreamVolumeIndex returns the volume index of stream on device.
// volume.DefaultForVolume resolves the device the stream currently plays on.
func (m *Manager) GetStreamVolumeIndex(stream audio.Stream, device audio.DeviceType) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInitialized(); err != nil {
		return 0, err
	}
	if device&audio.DeviceBitIn != 0 {
		return 0, invalidArgument("get_stream_volume_index", "device", device.String())
	}
	if device == volume.DefaultForVolume {
		device = m.deviceForStrategy(m.strategyForStream(stream), true)
	}
	return m.curves.Index(stream, volume.DeviceForVolume(device)), nil
}

// StreamVolumeDb returns the attenuation stream would get at index on device.
func (m *Manager) StreamVolumeDb(stream audio.Stream, index int, device audio.DeviceType) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.computeVolume(stream, index, device)
}

// handleEventForBeacon tracks playback around text to speech beacons and
// returns the wait required by a mute change. Beacons are silenced while
// anything else plays.
func (m *Manager) handleEventForBeacon(event beaconEvent) int {
	if m.ttsOutput || m.settings.TTSOutputAvailable {
		return 0
	}
	switch event {
	case beaconStartingOutput:
		m.beaconMuteRefs++
	case beaconStoppingOutput:
		if m.beaconMuteRefs > 0 {
			m.beaconMuteRefs--
		}
	case beaconStartingBeacon:
		m.beaconPlayingRefs++
	case beaconStoppingBeacon:
		if m.beaconPlayingRefs > 0 {
			m.beaconPlayingRefs--
		}
	}
	if m.beaconMuteRefs > 0 {
		return m.setBeaconMute(true)
	}
	return m.setBeaconMute(m.beaconPlayingRefs == 0)
}

func (m *Manager) setBeaconMute(mute bool) int {
	if m.beaconMuted == mute {
		return 0
	}
	maxLatency := 0
	for _, out := range m.outputs.Values() {
		m.setStreamMute(audio.StreamTTS, mute, out, 0, audio.DeviceNone)
		maxLatency = max(maxLatency, int(out.Latency())*2)
	}
	m.beaconMuted = mute
	m.logger.Debug("beacon mute changed", "muted", mute)
	return maxLatency
}
