package audio

import (
	"fmt"
	"math/bits"
)

// Stream is the legacy volume stream type.
type Stream int

const (
	StreamDefault         Stream = -1
	StreamVoiceCall       Stream = 0
	StreamSystem          Stream = 1
	StreamRing            Stream = 2
	StreamMusic           Stream = 3
	StreamAlarm           Stream = 4
	StreamNotification    Stream = 5
	StreamBluetoothSCO    Stream = 6
	StreamEnforcedAudible Stream = 7
	StreamDTMF            Stream = 8
	StreamTTS             Stream = 9
	StreamAccessibility   Stream = 10
	StreamRerouting       Stream = 11
	StreamPatch           Stream = 12

	// StreamPublicCount is the number of streams visible to applications.
	StreamPublicCount = 11
	// StreamForPolicyCount is the number of streams considered for routing
	// and volume. StreamPatch is excluded.
	StreamForPolicyCount = 12
	// StreamCount sizes per-stream state tables.
	StreamCount = 13
)

var streamNames = [...]string{
	"voice_call", "system", "ring", "music", "alarm", "notification",
	"bluetooth_sco", "enforced_audible", "dtmf", "tts", "accessibility",
	"rerouting", "patch",
}

func (s Stream) String() string {
	if s >= 0 && int(s) < len(streamNames) {
		return streamNames[s]
	}
	return fmt.Sprintf("stream(%d)", int(s))
}

// IsValid reports whether s indexes per-stream policy state.
func (s Stream) IsValid() bool {
	return s >= 0 && s < StreamCount
}

// Usage is the semantic intent of a playback stream.
type Usage int

const (
	UsageUnknown Usage = iota
	UsageMedia
	UsageVoiceCommunication
	UsageVoiceCommunicationSignalling
	UsageAlarm
	UsageNotification
	UsageNotificationTelephonyRingtone
	UsageNotificationCommunicationRequest
	UsageNotificationCommunicationInstant
	UsageNotificationCommunicationDelayed
	UsageNotificationEvent
	UsageAssistanceAccessibility
	UsageAssistanceNavigationGuidance
	UsageAssistanceSonification
	UsageGame
	UsageVirtualSource
	UsageAssistant
	usageCount
)

// IsValid reports whether u is a known usage.
func (u Usage) IsValid() bool {
	return u >= UsageUnknown && u < usageCount
}

// Source is the semantic intent of a capture stream.
type Source int

const (
	SourceDefault            Source = 0
	SourceMic                Source = 1
	SourceVoiceUplink        Source = 2
	SourceVoiceDownlink      Source = 3
	SourceVoiceCall          Source = 4
	SourceCamcorder          Source = 5
	SourceVoiceRecognition   Source = 6
	SourceVoiceCommunication Source = 7
	SourceRemoteSubmix       Source = 8
	SourceUnprocessed        Source = 9
	SourceFMTuner            Source = 1998
	SourceHotword            Source = 1999
)

var sourceNames = map[Source]string{
	SourceDefault:            "default",
	SourceMic:                "mic",
	SourceVoiceUplink:        "voice_uplink",
	SourceVoiceDownlink:      "voice_downlink",
	SourceVoiceCall:          "voice_call",
	SourceCamcorder:          "camcorder",
	SourceVoiceRecognition:   "voice_recognition",
	SourceVoiceCommunication: "voice_communication",
	SourceRemoteSubmix:       "remote_submix",
	SourceUnprocessed:        "unprocessed",
	SourceFMTuner:            "fm_tuner",
	SourceHotword:            "hotword",
}

func (s Source) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// IsValid reports whether s is a known capture source.
func (s Source) IsValid() bool {
	_, ok := sourceNames[s]
	return ok
}

// Priority orders capture sources when several clients share one input.
// Higher wins.
func (s Source) Priority() int {
	switch s {
	case SourceVoiceCommunication:
		return 9
	case SourceCamcorder:
		return 8
	case SourceVoiceRecognition:
		return 7
	case SourceUnprocessed:
		return 6
	case SourceMic:
		return 5
	case SourceFMTuner:
		return 4
	case SourceVoiceUplink, SourceVoiceDownlink, SourceVoiceCall:
		return 3
	case SourceRemoteSubmix:
		return 2
	case SourceHotword:
		return 1
	}
	return 0
}

// AttrFlags are the attribute flags a client attaches to a stream.
type AttrFlags uint32

const (
	AttrFlagNone               AttrFlags = 0
	AttrFlagAudibilityEnforced AttrFlags = 0x1
	AttrFlagSecure             AttrFlags = 0x2
	AttrFlagSCO                AttrFlags = 0x4
	AttrFlagBeacon             AttrFlags = 0x8
	AttrFlagHwAvSync           AttrFlags = 0x10
	AttrFlagHwHotword          AttrFlags = 0x20
	AttrFlagBypassInterruption AttrFlags = 0x40
	AttrFlagBypassMute         AttrFlags = 0x80
	AttrFlagLowLatency         AttrFlags = 0x100
	AttrFlagDeepBuffer         AttrFlags = 0x200
)

// Attributes carry a client's semantic description of its stream.
type Attributes struct {
	Usage  Usage     `yaml:"usage" json:"usage"`
	Source Source    `yaml:"source" json:"source"`
	Flags  AttrFlags `yaml:"flags" json:"flags"`
	Tags   string    `yaml:"tags" json:"tags"`
}

// HasKnownUsage reports whether the attributes map to a strategy, either
// through strategy flags or a known usage.
func (a Attributes) HasKnownUsage() bool {
	if a.Flags&(AttrFlagAudibilityEnforced|AttrFlagSCO|AttrFlagBeacon) != 0 {
		return true
	}
	return a.Usage.IsValid()
}

// StreamForUsage maps a usage to its legacy volume stream.
func StreamForUsage(u Usage) Stream {
	switch u {
	case UsageMedia, UsageGame, UsageAssistanceNavigationGuidance, UsageAssistant:
		return StreamMusic
	case UsageAssistanceAccessibility:
		return StreamAccessibility
	case UsageAssistanceSonification:
		return StreamSystem
	case UsageVoiceCommunication:
		return StreamVoiceCall
	case UsageVoiceCommunicationSignalling:
		return StreamDTMF
	case UsageAlarm:
		return StreamAlarm
	case UsageNotificationTelephonyRingtone:
		return StreamRing
	case UsageNotification, UsageNotificationCommunicationRequest,
		UsageNotificationCommunicationInstant, UsageNotificationCommunicationDelayed,
		UsageNotificationEvent:
		return StreamNotification
	}
	return StreamMusic
}

// StreamForAttributes maps attributes to a stream, honoring strategy flags
// before the usage.
func StreamForAttributes(a Attributes) Stream {
	switch {
	case a.Flags&AttrFlagAudibilityEnforced != 0:
		return StreamEnforcedAudible
	case a.Flags&AttrFlagSCO != 0:
		return StreamBluetoothSCO
	case a.Flags&AttrFlagBeacon != 0:
		return StreamTTS
	}
	return StreamForUsage(a.Usage)
}

// UsageForStream is the inverse mapping used for legacy stream type requests.
func UsageForStream(s Stream) Attributes {
	switch s {
	case StreamVoiceCall:
		return Attributes{Usage: UsageVoiceCommunication}
	case StreamSystem:
		return Attributes{Usage: UsageAssistanceSonification}
	case StreamRing:
		return Attributes{Usage: UsageNotificationTelephonyRingtone}
	case StreamAlarm:
		return Attributes{Usage: UsageAlarm}
	case StreamNotification:
		return Attributes{Usage: UsageNotification}
	case StreamBluetoothSCO:
		return Attributes{Usage: UsageVoiceCommunication, Flags: AttrFlagSCO}
	case StreamEnforcedAudible:
		return Attributes{Usage: UsageAssistanceSonification, Flags: AttrFlagAudibilityEnforced}
	case StreamDTMF:
		return Attributes{Usage: UsageVoiceCommunicationSignalling}
	case StreamTTS:
		return Attributes{Usage: UsageMedia, Flags: AttrFlagBeacon}
	case StreamAccessibility:
		return Attributes{Usage: UsageAssistanceAccessibility}
	}
	return Attributes{Usage: UsageMedia}
}

// Strategy is a routing priority class resolved by the engine.
type Strategy int

const (
	StrategyNone                      Strategy = -1
	StrategyMedia                     Strategy = 0
	StrategyPhone                     Strategy = 1
	StrategySonification              Strategy = 2
	StrategySonificationRespectful    Strategy = 3
	StrategyDTMF                      Strategy = 4
	StrategyEnforcedAudible           Strategy = 5
	StrategyTransmittedThroughSpeaker Strategy = 6
	StrategyAccessibility             Strategy = 7
	StrategyRerouting                 Strategy = 8

	NumStrategies = 9
)

var strategyNames = [...]string{
	"media", "phone", "sonification", "sonification_respectful", "dtmf",
	"enforced_audible", "transmitted_through_speaker", "accessibility", "rerouting",
}

func (s Strategy) String() string {
	if s >= 0 && int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return "none"
}

// Mode is the telephony state of the device.
type Mode int

const (
	ModeInvalid         Mode = -2
	ModeCurrent         Mode = -1
	ModeNormal          Mode = 0
	ModeRingtone        Mode = 1
	ModeInCall          Mode = 2
	ModeInCommunication Mode = 3

	modeCount = 4
)

// IsInCall reports whether a telephony or VoIP call is in progress.
func (m Mode) IsInCall() bool {
	return m == ModeInCall || m == ModeInCommunication
}

// IsValid reports whether m is a settable phone state.
func (m Mode) IsValid() bool {
	return m >= ModeNormal && m < modeCount
}

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeRingtone:
		return "ringtone"
	case ModeInCall:
		return "in_call"
	case ModeInCommunication:
		return "in_communication"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ForceUse identifies a category for which routing can be overridden.
type ForceUse int

const (
	ForceForCommunication ForceUse = iota
	ForceForMedia
	ForceForRecord
	ForceForDock
	ForceForSystem
	ForceForHDMISystemAudio
	ForceForEncodedSurround
	ForceForVibrateRinging

	ForceUseCount = 8
)

// ForcedConfig is the override value for a ForceUse category.
type ForcedConfig int

const (
	ForceNone ForcedConfig = iota
	ForceSpeaker
	ForceHeadphones
	ForceBTSCO
	ForceBTA2DP
	ForceWiredAccessory
	ForceBTCarDock
	ForceBTDeskDock
	ForceAnalogDock
	ForceDigitalDock
	ForceNoBTA2DP
	ForceSystemEnforced
	ForceHDMISystemAudioEnforced
	ForceEncodedSurroundNever
	ForceEncodedSurroundAlways
	ForceEncodedSurroundManual

	ForcedConfigCount = 16
)

// OutputFlags select the kind of output endpoint a client needs.
type OutputFlags uint32

const (
	OutputFlagNone            OutputFlags = 0
	OutputFlagDirect          OutputFlags = 0x1
	OutputFlagPrimary         OutputFlags = 0x2
	OutputFlagFast            OutputFlags = 0x4
	OutputFlagDeepBuffer      OutputFlags = 0x8
	OutputFlagCompressOffload OutputFlags = 0x10
	OutputFlagNonBlocking     OutputFlags = 0x20
	OutputFlagHwAvSync        OutputFlags = 0x40
	OutputFlagTTS             OutputFlags = 0x80
	OutputFlagRaw             OutputFlags = 0x100
	OutputFlagSync            OutputFlags = 0x200
	OutputFlagIEC958NonAudio  OutputFlags = 0x400
	OutputFlagDirectPCM       OutputFlags = 0x2000
	OutputFlagMmapNoIRQ       OutputFlags = 0x4000
	OutputFlagVoipRx          OutputFlags = 0x8000
	OutputFlagIncallMusic     OutputFlags = 0x10000
)

// CommonCount returns the number of flags set in both masks.
func (f OutputFlags) CommonCount(other OutputFlags) int {
	return bits.OnesCount32(uint32(f & other))
}

// InputFlags select the kind of input endpoint a client needs.
type InputFlags uint32

const (
	InputFlagNone      InputFlags = 0
	InputFlagFast      InputFlags = 0x1
	InputFlagHwHotword InputFlags = 0x2
	InputFlagRaw       InputFlags = 0x4
	InputFlagSync      InputFlags = 0x8
	InputFlagMmapNoIRQ InputFlags = 0x10
	InputFlagVoipTx    InputFlags = 0x20
	InputFlagHwAvSync  InputFlags = 0x40
)

// AppState is the process importance reported for a uid.
type AppState int

const (
	AppStateIdle AppState = iota
	AppStateForeground
	AppStateTop
)
