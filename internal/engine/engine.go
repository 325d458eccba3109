// Package engine resolves strategies to devices. The policy manager consumes
// it through the Resolver interface, the default Engine implements the
// stock priority rules over the devices the Observer reports available.
package engine

import (
	"log/slog"
	"time"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/endpoint"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/inventory"
	"github.com/tphakala/audiopolicy/internal/logging"
)

// SonificationRespectfulAfterMusicDelay is how long after music stopped a
// notification still avoids the safe speaker path.
const SonificationRespectfulAfterMusicDelay = 5 * time.Second

// Resolver maps streams and usages to strategies and strategies to devices.
type Resolver interface {
	StrategyForStream(stream audio.Stream) audio.Strategy
	StrategyForUsage(usage audio.Usage) audio.Strategy
	DeviceForStrategy(strategy audio.Strategy) audio.DeviceType
	DeviceForInputSource(source audio.Source) audio.DeviceType
	SetForceUse(usage audio.ForceUse, config audio.ForcedConfig) error
	ForceUse(usage audio.ForceUse) audio.ForcedConfig
	SetPhoneState(mode audio.Mode) error
	PhoneState() audio.Mode
	SetDeviceConnectionState(device *inventory.DeviceDescriptor, state audio.DeviceState) error
}

// Observer exposes the policy state device selection depends on.
type Observer interface {
	AvailableOutputDevices() inventory.DeviceVector
	AvailableInputDevices() inventory.DeviceVector
	DefaultOutputDevice() *inventory.DeviceDescriptor
	Outputs() *endpoint.Outputs
	Now() time.Time
}

// Engine is the default Resolver.
type Engine struct {
	observer   Observer
	phoneState audio.Mode
	forceUse   [audio.ForceUseCount]audio.ForcedConfig
	logger     *slog.Logger
}

var _ Resolver = (*Engine)(nil)

// New returns an engine reading policy state from observer.
func New(observer Observer) *Engine {
	logger := logging.ForService("engine")
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		observer:   observer,
		phoneState: audio.ModeNormal,
		logger:     logger,
	}
}

// StrategyForStream returns the routing strategy of a legacy stream.
func (e *Engine) StrategyForStream(stream audio.Stream) audio.Strategy {
	switch stream {
	case audio.StreamVoiceCall, audio.StreamBluetoothSCO:
		return audio.StrategyPhone
	case audio.StreamRing, audio.StreamAlarm:
		return audio.StrategySonification
	case audio.StreamNotification:
		return audio.StrategySonificationRespectful
	case audio.StreamDTMF:
		return audio.StrategyDTMF
	case audio.StreamEnforcedAudible:
		return audio.StrategyEnforcedAudible
	case audio.StreamTTS:
		return audio.StrategyTransmittedThroughSpeaker
	case audio.StreamAccessibility:
		return audio.StrategyAccessibility
	case audio.StreamRerouting:
		return audio.StrategyRerouting
	}
	return audio.StrategyMedia
}

// StrategyForUsage returns the routing strategy of a usage.
func (e *Engine) StrategyForUsage(usage audio.Usage) audio.Strategy {
	switch usage {
	case audio.UsageAssistanceAccessibility:
		return audio.StrategyAccessibility
	case audio.UsageVoiceCommunication:
		return audio.StrategyPhone
	case audio.UsageVoiceCommunicationSignalling:
		return audio.StrategyDTMF
	case audio.UsageAlarm, audio.UsageNotificationTelephonyRingtone:
		return audio.StrategySonification
	case audio.UsageNotification, audio.UsageNotificationCommunicationRequest,
		audio.UsageNotificationCommunicationInstant, audio.UsageNotificationCommunicationDelayed,
		audio.UsageNotificationEvent:
		return audio.StrategySonificationRespectful
	}
	return audio.StrategyMedia
}

// forcedConfigs lists the values each force use category accepts.
var forcedConfigs = [audio.ForceUseCount][]audio.ForcedConfig{
	audio.ForceForCommunication: {audio.ForceNone, audio.ForceSpeaker, audio.ForceBTSCO},
	audio.ForceForMedia: {
		audio.ForceNone, audio.ForceHeadphones, audio.ForceBTA2DP, audio.ForceWiredAccessory,
		audio.ForceAnalogDock, audio.ForceDigitalDock, audio.ForceNoBTA2DP, audio.ForceSpeaker,
	},
	audio.ForceForRecord: {audio.ForceNone, audio.ForceBTSCO, audio.ForceWiredAccessory},
	audio.ForceForDock: {
		audio.ForceNone, audio.ForceBTCarDock, audio.ForceBTDeskDock, audio.ForceWiredAccessory,
		audio.ForceAnalogDock, audio.ForceDigitalDock,
	},
	audio.ForceForSystem:          {audio.ForceNone, audio.ForceSystemEnforced},
	audio.ForceForHDMISystemAudio: {audio.ForceNone, audio.ForceHDMISystemAudioEnforced},
	audio.ForceForEncodedSurround: {
		audio.ForceNone, audio.ForceEncodedSurroundNever, audio.ForceEncodedSurroundAlways,
		audio.ForceEncodedSurroundManual,
	},
	audio.ForceForVibrateRinging: {audio.ForceNone, audio.ForceBTSCO},
}

// SetForceUse overrides routing for one category.
func (e *Engine) SetForceUse(usage audio.ForceUse, config audio.ForcedConfig) error {
	if usage < 0 || usage >= audio.ForceUseCount {
		return errors.New(ErrInvalidForceUse).
			Component(ComponentEngine).
			Context("usage", int(usage)).
			Build()
	}
	for _, allowed := range forcedConfigs[usage] {
		if allowed == config {
			e.forceUse[usage] = config
			return nil
		}
	}
	return errors.New(ErrInvalidForceUse).
		Component(ComponentEngine).
		Context("usage", int(usage)).
		Context("config", int(config)).
		Build()
}

// ForceUse returns the override of one category.
func (e *Engine) ForceUse(usage audio.ForceUse) audio.ForcedConfig {
	if usage < 0 || usage >= audio.ForceUseCount {
		return audio.ForceNone
	}
	return e.forceUse[usage]
}

// SetPhoneState records the telephony mode.
func (e *Engine) SetPhoneState(mode audio.Mode) error {
	if !mode.IsValid() {
		return errors.New(ErrInvalidPhoneState).
			Component(ComponentEngine).
			Context("mode", int(mode)).
			Build()
	}
	if mode != e.phoneState {
		e.logger.Debug("phone state changed", "from", e.phoneState.String(), "to", mode.String())
	}
	e.phoneState = mode
	return nil
}

// PhoneState returns the telephony mode.
func (e *Engine) PhoneState() audio.Mode {
	return e.phoneState
}

// SetDeviceConnectionState is a notification hook. The default engine reads
// availability from the observer on every decision.
func (e *Engine) SetDeviceConnectionState(device *inventory.DeviceDescriptor, state audio.DeviceState) error {
	e.logger.Debug("device availability changed", "device", device.String(), "state", state.String())
	return nil
}

func (e *Engine) isInCall() bool {
	return e.phoneState.IsInCall()
}

// DeviceForStrategy returns the devices strategy plays to with the devices
// currently available.
func (e *Engine) DeviceForStrategy(strategy audio.Strategy) audio.DeviceType {
	avail := e.observer.AvailableOutputDevices()
	device := e.deviceForStrategy(strategy, avail.Types(), avail)
	if device == audio.DeviceNone {
		if def := e.observer.DefaultOutputDevice(); def != nil {
			device = def.Type
		}
		e.logger.Debug("no device for strategy, using default", "strategy", strategy.String(), "device", device.String())
	}
	return device
}

// pick returns the first candidate present in avail.
func pick(avail audio.DeviceType, candidates ...audio.DeviceType) audio.DeviceType {
	for _, c := range candidates {
		if d := avail & c; d != audio.DeviceNone {
			return d
		}
	}
	return audio.DeviceNone
}

func (e *Engine) deviceForStrategy(strategy audio.Strategy, avail audio.DeviceType, availDevices inventory.DeviceVector) audio.DeviceType {
	outputs := e.observer.Outputs()
	now := e.observer.Now()

	switch strategy {
	case audio.StrategyTransmittedThroughSpeaker:
		return avail & audio.DeviceOutSpeaker

	case audio.StrategySonificationRespectful:
		if e.isInCall() || outputs.IsStreamActiveLocally(audio.StreamVoiceCall, 0, now) {
			return e.deviceForStrategy(audio.StrategySonification, avail, availDevices)
		}
		mediaActive := outputs.IsStreamActiveLocally(audio.StreamMusic, SonificationRespectfulAfterMusicDelay, now) ||
			outputs.IsStreamActiveLocally(audio.StreamAccessibility, SonificationRespectfulAfterMusicDelay, now)
		device := e.deviceForStrategy(audio.StrategyMedia, avail&^audio.DeviceOutRemoteSubmix, availDevices)
		if !mediaActive && device&audio.DeviceOutSpeaker != 0 && avail&audio.DeviceOutSpeakerSafe != 0 {
			device = (device | audio.DeviceOutSpeakerSafe) &^ audio.DeviceOutSpeaker
		}
		return device

	case audio.StrategyDTMF:
		if !e.isInCall() {
			return e.deviceForStrategy(audio.StrategyMedia, avail, availDevices)
		}
		return e.phoneDevice(strategy, avail)

	case audio.StrategyPhone:
		return e.phoneDevice(strategy, avail)

	case audio.StrategySonification:
		if e.isInCall() || outputs.IsStreamActiveLocally(audio.StreamVoiceCall, 0, now) {
			return e.phoneDevice(audio.StrategyPhone, avail)
		}
		return e.sonificationDevice(strategy, avail, availDevices)

	case audio.StrategyEnforcedAudible:
		return e.sonificationDevice(strategy, avail, availDevices)

	case audio.StrategyAccessibility:
		for _, o := range outputs.Values() {
			digital := o.Device() & (audio.DeviceOutHDMI | audio.DeviceOutSPDIF | audio.DeviceOutHDMIArc)
			if o.IsActive(0, now) && !o.Config.Format.IsLinearPCM() && digital != audio.DeviceNone {
				avail &^= digital
			}
		}
		if outputs.IsStreamActive(audio.StreamRing, 0, now) || outputs.IsStreamActive(audio.StreamAlarm, 0, now) {
			return e.deviceForStrategy(audio.StrategySonification, avail, availDevices)
		}
		if e.isInCall() {
			return e.phoneDevice(audio.StrategyPhone, avail)
		}
		return e.mediaDevice(strategy, audio.DeviceNone, avail, availDevices)
	}

	return e.mediaDevice(strategy, audio.DeviceNone, avail, availDevices)
}

// phoneDevice applies the communication rules shared by PHONE and in call
// DTMF.
func (e *Engine) phoneDevice(strategy audio.Strategy, avail audio.DeviceType) audio.DeviceType {
	if e.phoneState == audio.ModeInCall {
		avail = e.restrictToPrimary(avail)
	}
	inCall := e.isInCall()
	a2dpAllowed := !inCall && e.forceUse[audio.ForceForMedia] != audio.ForceNoBTA2DP && e.a2dpSupported()

	if e.forceUse[audio.ForceForCommunication] == audio.ForceSpeaker {
		if a2dpAllowed {
			if d := avail & audio.DeviceOutBluetoothA2DPSpeaker; d != audio.DeviceNone {
				return d
			}
		}
		if !inCall {
			if d := pick(avail, audio.DeviceOutUSBAccessory, audio.DeviceOutUSBDevice,
				audio.DeviceOutDigitalDockHeadset, audio.DeviceOutHDMI, audio.DeviceOutAnalogDockHeadset); d != audio.DeviceNone {
				return d
			}
		}
		return avail & audio.DeviceOutSpeaker
	}

	if e.forceUse[audio.ForceForCommunication] == audio.ForceBTSCO {
		if !inCall || strategy != audio.StrategyDTMF {
			if d := avail & audio.DeviceOutBluetoothSCOCarkit; d != audio.DeviceNone {
				return d
			}
		}
		if d := pick(avail, audio.DeviceOutBluetoothSCOHeadset, audio.DeviceOutBluetoothSCO); d != audio.DeviceNone {
			return d
		}
	}

	if d := avail & audio.DeviceOutHearingAid; d != audio.DeviceNone {
		return d
	}
	if a2dpAllowed {
		if d := pick(avail, audio.DeviceOutBluetoothA2DP, audio.DeviceOutBluetoothA2DPHeadphone); d != audio.DeviceNone {
			return d
		}
	}
	if d := pick(avail, audio.DeviceOutWiredHeadphone, audio.DeviceOutWiredHeadset, audio.DeviceOutLine,
		audio.DeviceOutUSBHeadset, audio.DeviceOutUSBDevice); d != audio.DeviceNone {
		return d
	}
	if !inCall {
		if d := pick(avail, audio.DeviceOutUSBAccessory, audio.DeviceOutDigitalDockHeadset,
			audio.DeviceOutHDMI, audio.DeviceOutAnalogDockHeadset); d != audio.DeviceNone {
			return d
		}
	}
	return avail & audio.DeviceOutEarpiece
}

// restrictToPrimary limits a call to the primary output's devices when the
// hardware cannot route the telephony downlink elsewhere.
func (e *Engine) restrictToPrimary(avail audio.DeviceType) audio.DeviceType {
	if e.observer.AvailableInputDevices().Types()&audio.DeviceInTelephonyRx&^audio.DeviceBitIn != 0 {
		return avail
	}
	primary, ok := e.observer.Outputs().GetPrimaryOutput()
	if !ok {
		return avail
	}
	return avail & primary.SupportedDevices()
}

func (e *Engine) a2dpSupported() bool {
	_, ok := e.observer.Outputs().GetA2DPOutput()
	return ok
}

// sonificationDevice implements SONIFICATION out of call and ENFORCED_AUDIBLE:
// speaker plus the media device, or bluetooth SCO when ringing is forced there.
func (e *Engine) sonificationDevice(strategy audio.Strategy, avail audio.DeviceType, availDevices inventory.DeviceVector) audio.DeviceType {
	systemEnforced := e.forceUse[audio.ForceForSystem] == audio.ForceSystemEnforced
	device := audio.DeviceNone
	if strategy == audio.StrategySonification || systemEnforced {
		device = avail & audio.DeviceOutSpeaker
	}

	if avail&audio.DeviceOutAllSCO != 0 {
		sco := pick(avail, audio.DeviceOutBluetoothSCOCarkit, audio.DeviceOutBluetoothSCOHeadset, audio.DeviceOutBluetoothSCO)
		if !(systemEnforced && strategy == audio.StrategyEnforcedAudible) &&
			e.forceUse[audio.ForceForVibrateRinging] == audio.ForceBTSCO && sco != audio.DeviceNone {
			return sco
		}
		if e.forceUse[audio.ForceForCommunication] == audio.ForceBTSCO {
			if strategy == audio.StrategySonification && device&audio.DeviceOutSpeaker != 0 &&
				avail&audio.DeviceOutSpeakerSafe != 0 {
				device = (device | audio.DeviceOutSpeakerSafe) &^ audio.DeviceOutSpeaker
			}
			if sco != audio.DeviceNone {
				return device | sco
			}
		}
	}
	return e.mediaDevice(strategy, device, avail, availDevices)
}

// mediaDevice adds the media device to device. Sonification and enforced
// audible arrive here with the speaker already selected.
func (e *Engine) mediaDevice(strategy audio.Strategy, device, avail audio.DeviceType, availDevices inventory.DeviceVector) audio.DeviceType {
	if strategy == audio.StrategyMedia && e.isInCall() {
		return e.phoneDevice(audio.StrategyPhone, avail)
	}

	device2 := audio.DeviceNone
	if strategy != audio.StrategySonification && avail&audio.DeviceOutRemoteSubmix != 0 &&
		availDevices.GetDevice(audio.DeviceOutRemoteSubmix, "0") != nil {
		device2 = audio.DeviceOutRemoteSubmix
	}
	if device2 == audio.DeviceNone && e.forceUse[audio.ForceForMedia] != audio.ForceNoBTA2DP && e.a2dpSupported() {
		device2 = pick(avail, audio.DeviceOutBluetoothA2DP, audio.DeviceOutBluetoothA2DPHeadphone, audio.DeviceOutBluetoothA2DPSpeaker)
	}
	if device2 == audio.DeviceNone && e.forceUse[audio.ForceForMedia] == audio.ForceSpeaker {
		device2 = avail & audio.DeviceOutSpeaker
	}
	if device2 == audio.DeviceNone {
		device2 = pick(avail, audio.DeviceOutHearingAid, audio.DeviceOutWiredHeadphone, audio.DeviceOutLine,
			audio.DeviceOutWiredHeadset, audio.DeviceOutUSBHeadset, audio.DeviceOutUSBAccessory,
			audio.DeviceOutUSBDevice, audio.DeviceOutDigitalDockHeadset)
	}
	if device2 == audio.DeviceNone && strategy != audio.StrategySonification {
		device2 = avail & audio.DeviceOutHDMI
	}
	if device2 == audio.DeviceNone && strategy != audio.StrategySonification &&
		e.forceUse[audio.ForceForDock] == audio.ForceAnalogDock {
		device2 = avail & audio.DeviceOutAnalogDockHeadset
	}
	if device2 == audio.DeviceNone {
		device2 = avail & audio.DeviceOutSpeaker
	}
	if strategy == audio.StrategyMedia {
		// These outputs coexist with any other media device.
		device2 |= avail & (audio.DeviceOutHDMIArc | audio.DeviceOutSPDIF | audio.DeviceOutAuxLine)
	}
	device |= device2

	if strategy == audio.StrategyMedia && e.forceUse[audio.ForceForHDMISystemAudio] == audio.ForceHDMISystemAudioEnforced {
		device &^= audio.DeviceOutSpeaker
	}
	if strategy == audio.StrategySonification && device&audio.DeviceOutSpeaker != 0 &&
		avail&audio.DeviceOutSpeakerSafe != 0 {
		device = (device | audio.DeviceOutSpeakerSafe) &^ audio.DeviceOutSpeaker
	}
	return device
}

// has reports whether an input mask contains device, ignoring the input bit.
func has(mask, device audio.DeviceType) bool {
	return mask&device&^audio.DeviceBitIn != 0
}

// DeviceForInputSource returns the capture device for source. In call most
// sources follow voice communication to avoid rerouting the uplink.
func (e *Engine) DeviceForInputSource(source audio.Source) audio.DeviceType {
	availDevices := e.observer.AvailableInputDevices()
	avail := availDevices.Types()

	if e.isInCall() {
		switch source {
		case audio.SourceDefault, audio.SourceMic, audio.SourceVoiceRecognition,
			audio.SourceUnprocessed, audio.SourceHotword, audio.SourceCamcorder:
			source = audio.SourceVoiceCommunication
		}
	}

	first := func(candidates ...audio.DeviceType) audio.DeviceType {
		for _, c := range candidates {
			if has(avail, c) {
				return c
			}
		}
		return audio.DeviceNone
	}

	device := audio.DeviceNone
	switch source {
	case audio.SourceVoiceUplink, audio.SourceVoiceDownlink, audio.SourceVoiceCall:
		device = first(audio.DeviceInVoiceCall)

	case audio.SourceDefault, audio.SourceMic:
		device = first(audio.DeviceInBluetoothA2DP)
		if device == audio.DeviceNone && e.forceUse[audio.ForceForRecord] == audio.ForceBTSCO {
			device = first(audio.DeviceInBluetoothSCOHeadset)
		}
		if device == audio.DeviceNone {
			device = first(audio.DeviceInWiredHeadset, audio.DeviceInUSBHeadset, audio.DeviceInUSBDevice, audio.DeviceInBuiltinMic)
		}

	case audio.SourceVoiceCommunication:
		if e.phoneState == audio.ModeInCall &&
			e.observer.AvailableOutputDevices().Types()&audio.DeviceOutTelephonyTx == 0 {
			if primary, ok := e.observer.Outputs().GetPrimaryOutput(); ok {
				avail = availDevices.GetDevicesFromModule(primary.ModuleHandle()).Types()
			}
		}
		switch e.forceUse[audio.ForceForCommunication] {
		case audio.ForceSpeaker:
			device = first(audio.DeviceInBackMic, audio.DeviceInBuiltinMic)
		case audio.ForceBTSCO:
			device = first(audio.DeviceInBluetoothSCOHeadset)
			if device == audio.DeviceNone {
				device = first(audio.DeviceInWiredHeadset, audio.DeviceInUSBHeadset, audio.DeviceInUSBDevice, audio.DeviceInBuiltinMic)
			}
		default:
			device = first(audio.DeviceInWiredHeadset, audio.DeviceInUSBHeadset, audio.DeviceInUSBDevice, audio.DeviceInBuiltinMic)
		}

	case audio.SourceVoiceRecognition, audio.SourceUnprocessed, audio.SourceHotword:
		if e.forceUse[audio.ForceForRecord] == audio.ForceBTSCO {
			device = first(audio.DeviceInBluetoothSCOHeadset)
		}
		if device == audio.DeviceNone {
			device = first(audio.DeviceInWiredHeadset, audio.DeviceInUSBHeadset, audio.DeviceInUSBDevice, audio.DeviceInBuiltinMic)
		}

	case audio.SourceCamcorder:
		device = first(audio.DeviceInBackMic, audio.DeviceInBuiltinMic)

	case audio.SourceRemoteSubmix:
		device = first(audio.DeviceInRemoteSubmix)

	case audio.SourceFMTuner:
		device = first(audio.DeviceInFMTuner)

	default:
		e.logger.Warn("invalid input source", "source", int(source))
	}

	if device == audio.DeviceNone {
		device = first(audio.DeviceInStub)
		if device == audio.DeviceNone {
			e.logger.Debug("no capture device for source", "source", source.String())
		}
	}
	return device
}
