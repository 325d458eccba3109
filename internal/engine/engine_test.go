package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/endpoint"
	"github.com/tphakala/audiopolicy/internal/inventory"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeObserver struct {
	out     inventory.DeviceVector
	in      inventory.DeviceVector
	def     *inventory.DeviceDescriptor
	outputs *endpoint.Outputs
	now     time.Time
}

func (f *fakeObserver) AvailableOutputDevices() inventory.DeviceVector { return f.out }
func (f *fakeObserver) AvailableInputDevices() inventory.DeviceVector  { return f.in }
func (f *fakeObserver) DefaultOutputDevice() *inventory.DeviceDescriptor {
	return f.def
}
func (f *fakeObserver) Outputs() *endpoint.Outputs { return f.outputs }
func (f *fakeObserver) Now() time.Time             { return f.now }

func newObserver(outs, ins audio.DeviceType) *fakeObserver {
	f := &fakeObserver{outputs: endpoint.NewOutputs(), now: epoch}
	for _, d := range outs.Split() {
		f.out = f.out.Add(inventory.NewDeviceDescriptor(d, "", ""))
	}
	for _, d := range ins.Split() {
		f.in = f.in.Add(inventory.NewDeviceDescriptor(d, "", ""))
	}
	return f
}

// openOutput adds an output on its own module reaching devices.
func (f *fakeObserver) openOutput(handle audio.IOHandle, flags audio.OutputFlags, device, supported audio.DeviceType) *endpoint.Output {
	m := inventory.NewHwModule("m")
	p := inventory.NewOutputProfile("out", flags)
	for _, d := range supported.Split() {
		p.SupportedDevices = p.SupportedDevices.Add(inventory.NewDeviceDescriptor(d, "", ""))
	}
	m.AddOutputProfile(p)
	m.SetHandle(audio.ModuleHandle(handle))
	o := endpoint.NewOutput(handle, p, audio.Config{Format: audio.FormatPCM16Bit}, flags, device, 20)
	f.outputs.Add(handle, o)
	return o
}

func TestStrategyForStream(t *testing.T) {
	t.Parallel()
	e := New(newObserver(audio.DeviceOutSpeaker, audio.DeviceInBuiltinMic))
	tests := []struct {
		stream audio.Stream
		want   audio.Strategy
	}{
		{audio.StreamVoiceCall, audio.StrategyPhone},
		{audio.StreamBluetoothSCO, audio.StrategyPhone},
		{audio.StreamSystem, audio.StrategyMedia},
		{audio.StreamRing, audio.StrategySonification},
		{audio.StreamMusic, audio.StrategyMedia},
		{audio.StreamAlarm, audio.StrategySonification},
		{audio.StreamNotification, audio.StrategySonificationRespectful},
		{audio.StreamEnforcedAudible, audio.StrategyEnforcedAudible},
		{audio.StreamDTMF, audio.StrategyDTMF},
		{audio.StreamTTS, audio.StrategyTransmittedThroughSpeaker},
		{audio.StreamAccessibility, audio.StrategyAccessibility},
		{audio.StreamRerouting, audio.StrategyRerouting},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.StrategyForStream(tt.stream), tt.stream.String())
	}
}

func TestStrategyForUsage(t *testing.T) {
	t.Parallel()
	e := New(newObserver(audio.DeviceOutSpeaker, audio.DeviceInBuiltinMic))
	tests := []struct {
		usage audio.Usage
		want  audio.Strategy
	}{
		{audio.UsageUnknown, audio.StrategyMedia},
		{audio.UsageMedia, audio.StrategyMedia},
		{audio.UsageGame, audio.StrategyMedia},
		{audio.UsageAssistanceNavigationGuidance, audio.StrategyMedia},
		{audio.UsageVoiceCommunication, audio.StrategyPhone},
		{audio.UsageVoiceCommunicationSignalling, audio.StrategyDTMF},
		{audio.UsageAlarm, audio.StrategySonification},
		{audio.UsageNotificationTelephonyRingtone, audio.StrategySonification},
		{audio.UsageNotification, audio.StrategySonificationRespectful},
		{audio.UsageNotificationEvent, audio.StrategySonificationRespectful},
		{audio.UsageAssistanceAccessibility, audio.StrategyAccessibility},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.StrategyForUsage(tt.usage))
	}
}

func TestSetForceUse(t *testing.T) {
	t.Parallel()
	e := New(newObserver(audio.DeviceOutSpeaker, audio.DeviceInBuiltinMic))

	require.NoError(t, e.SetForceUse(audio.ForceForCommunication, audio.ForceSpeaker))
	assert.Equal(t, audio.ForceSpeaker, e.ForceUse(audio.ForceForCommunication))

	assert.ErrorIs(t, e.SetForceUse(audio.ForceForCommunication, audio.ForceBTA2DP), ErrInvalidForceUse)
	assert.ErrorIs(t, e.SetForceUse(audio.ForceForSystem, audio.ForceSpeaker), ErrInvalidForceUse)
	assert.ErrorIs(t, e.SetForceUse(audio.ForceUseCount, audio.ForceNone), ErrInvalidForceUse)
	assert.Equal(t, audio.ForceSpeaker, e.ForceUse(audio.ForceForCommunication), "rejected values leave the setting alone")
	assert.Equal(t, audio.ForceNone, e.ForceUse(audio.ForceUse(-1)))
}

func TestSetPhoneState(t *testing.T) {
	t.Parallel()
	e := New(newObserver(audio.DeviceOutSpeaker, audio.DeviceInBuiltinMic))
	assert.Equal(t, audio.ModeNormal, e.PhoneState())
	require.NoError(t, e.SetPhoneState(audio.ModeInCall))
	assert.Equal(t, audio.ModeInCall, e.PhoneState())
	assert.ErrorIs(t, e.SetPhoneState(audio.ModeInvalid), ErrInvalidPhoneState)
	assert.Equal(t, audio.ModeInCall, e.PhoneState())
}

func TestMediaDevicePriority(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		available audio.DeviceType
		a2dpOpen  bool
		force     map[audio.ForceUse]audio.ForcedConfig
		want      audio.DeviceType
	}{
		{
			name:      "speaker only",
			available: audio.DeviceOutSpeaker | audio.DeviceOutEarpiece,
			want:      audio.DeviceOutSpeaker,
		},
		{
			name:      "wired headset beats speaker",
			available: audio.DeviceOutSpeaker | audio.DeviceOutWiredHeadset,
			want:      audio.DeviceOutWiredHeadset,
		},
		{
			name:      "a2dp beats wired headset",
			available: audio.DeviceOutSpeaker | audio.DeviceOutWiredHeadset | audio.DeviceOutBluetoothA2DP,
			a2dpOpen:  true,
			want:      audio.DeviceOutBluetoothA2DP,
		},
		{
			name:      "a2dp ignored without an a2dp output",
			available: audio.DeviceOutSpeaker | audio.DeviceOutWiredHeadset | audio.DeviceOutBluetoothA2DP,
			want:      audio.DeviceOutWiredHeadset,
		},
		{
			name:      "no bt a2dp",
			available: audio.DeviceOutSpeaker | audio.DeviceOutBluetoothA2DP,
			a2dpOpen:  true,
			force:     map[audio.ForceUse]audio.ForcedConfig{audio.ForceForMedia: audio.ForceNoBTA2DP},
			want:      audio.DeviceOutSpeaker,
		},
		{
			name:      "forced speaker beats headset",
			available: audio.DeviceOutSpeaker | audio.DeviceOutWiredHeadset,
			force:     map[audio.ForceUse]audio.ForcedConfig{audio.ForceForMedia: audio.ForceSpeaker},
			want:      audio.DeviceOutSpeaker,
		},
		{
			name:      "hdmi before speaker",
			available: audio.DeviceOutSpeaker | audio.DeviceOutHDMI,
			want:      audio.DeviceOutHDMI,
		},
		{
			name:      "arc added to speaker",
			available: audio.DeviceOutSpeaker | audio.DeviceOutHDMIArc,
			want:      audio.DeviceOutSpeaker | audio.DeviceOutHDMIArc,
		},
		{
			name:      "hdmi system audio drops speaker",
			available: audio.DeviceOutSpeaker | audio.DeviceOutHDMIArc,
			force:     map[audio.ForceUse]audio.ForcedConfig{audio.ForceForHDMISystemAudio: audio.ForceHDMISystemAudioEnforced},
			want:      audio.DeviceOutHDMIArc,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			obs := newObserver(tt.available, audio.DeviceInBuiltinMic)
			if tt.a2dpOpen {
				obs.openOutput(2, audio.OutputFlagNone, audio.DeviceOutBluetoothA2DP, audio.DeviceOutAllA2DP)
			}
			e := New(obs)
			for usage, cfg := range tt.force {
				require.NoError(t, e.SetForceUse(usage, cfg))
			}
			assert.Equal(t, tt.want, e.DeviceForStrategy(audio.StrategyMedia))
		})
	}
}

func TestRemoteSubmixNeedsAddressZero(t *testing.T) {
	t.Parallel()
	obs := newObserver(audio.DeviceOutSpeaker, audio.DeviceInBuiltinMic)
	obs.out = obs.out.Add(inventory.NewDeviceDescriptor(audio.DeviceOutRemoteSubmix, "cast", ""))
	e := New(obs)
	assert.Equal(t, audio.DeviceOutSpeaker, e.DeviceForStrategy(audio.StrategyMedia))

	obs.out = obs.out.Add(inventory.NewDeviceDescriptor(audio.DeviceOutRemoteSubmix, "0", ""))
	assert.Equal(t, audio.DeviceOutRemoteSubmix, e.DeviceForStrategy(audio.StrategyMedia))
}

func TestPhoneDevice(t *testing.T) {
	t.Parallel()
	base := audio.DeviceOutSpeaker | audio.DeviceOutEarpiece
	tests := []struct {
		name      string
		available audio.DeviceType
		mode      audio.Mode
		comm      audio.ForcedConfig
		want      audio.DeviceType
	}{
		{"earpiece in call", base, audio.ModeInCall, audio.ForceNone, audio.DeviceOutEarpiece},
		{"headset in call", base | audio.DeviceOutWiredHeadset, audio.ModeInCall, audio.ForceNone, audio.DeviceOutWiredHeadset},
		{"forced speaker", base | audio.DeviceOutWiredHeadset, audio.ModeInCall, audio.ForceSpeaker, audio.DeviceOutSpeaker},
		{"sco headset", base | audio.DeviceOutBluetoothSCOHeadset, audio.ModeInCall, audio.ForceBTSCO, audio.DeviceOutBluetoothSCOHeadset},
		{"sco requested but absent", base, audio.ModeInCall, audio.ForceBTSCO, audio.DeviceOutEarpiece},
		{"hearing aid first", base | audio.DeviceOutHearingAid | audio.DeviceOutWiredHeadset, audio.ModeInCommunication, audio.ForceNone, audio.DeviceOutHearingAid},
		{"hdmi only out of call", base | audio.DeviceOutHDMI, audio.ModeNormal, audio.ForceNone, audio.DeviceOutHDMI},
		{"no hdmi in call", base | audio.DeviceOutHDMI, audio.ModeInCall, audio.ForceNone, audio.DeviceOutEarpiece},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := New(newObserver(tt.available, audio.DeviceInBuiltinMic|audio.DeviceInTelephonyRx))
			require.NoError(t, e.SetPhoneState(tt.mode))
			require.NoError(t, e.SetForceUse(audio.ForceForCommunication, tt.comm))
			assert.Equal(t, tt.want, e.DeviceForStrategy(audio.StrategyPhone))
		})
	}
}

func TestPhoneDeviceRestrictedToPrimary(t *testing.T) {
	t.Parallel()
	avail := audio.DeviceOutSpeaker | audio.DeviceOutEarpiece | audio.DeviceOutUSBHeadset

	// No telephony downlink input: the call stays on the primary module.
	obs := newObserver(avail, audio.DeviceInBuiltinMic)
	obs.openOutput(1, audio.OutputFlagPrimary, audio.DeviceOutSpeaker, audio.DeviceOutSpeaker|audio.DeviceOutEarpiece)
	e := New(obs)
	require.NoError(t, e.SetPhoneState(audio.ModeInCall))
	assert.Equal(t, audio.DeviceOutEarpiece, e.DeviceForStrategy(audio.StrategyPhone))

	obs.in = obs.in.Add(inventory.NewDeviceDescriptor(audio.DeviceInTelephonyRx, "", ""))
	assert.Equal(t, audio.DeviceOutUSBHeadset, e.DeviceForStrategy(audio.StrategyPhone))
}

func TestSonificationDevice(t *testing.T) {
	t.Parallel()
	obs := newObserver(audio.DeviceOutSpeaker|audio.DeviceOutWiredHeadset, audio.DeviceInBuiltinMic)
	e := New(obs)
	assert.Equal(t, audio.DeviceOutSpeaker|audio.DeviceOutWiredHeadset, e.DeviceForStrategy(audio.StrategySonification))

	obs.out = obs.out.Add(inventory.NewDeviceDescriptor(audio.DeviceOutSpeakerSafe, "", ""))
	assert.Equal(t, audio.DeviceOutSpeakerSafe|audio.DeviceOutWiredHeadset, e.DeviceForStrategy(audio.StrategySonification))

	require.NoError(t, e.SetPhoneState(audio.ModeInCall))
	assert.Equal(t, audio.DeviceOutWiredHeadset, e.DeviceForStrategy(audio.StrategySonification), "in call follows the phone")
}

func TestSonificationRingsOnSCO(t *testing.T) {
	t.Parallel()
	obs := newObserver(audio.DeviceOutSpeaker|audio.DeviceOutBluetoothSCOHeadset, audio.DeviceInBuiltinMic)
	e := New(obs)

	require.NoError(t, e.SetForceUse(audio.ForceForCommunication, audio.ForceBTSCO))
	assert.Equal(t, audio.DeviceOutSpeaker|audio.DeviceOutBluetoothSCOHeadset, e.DeviceForStrategy(audio.StrategySonification))

	require.NoError(t, e.SetForceUse(audio.ForceForVibrateRinging, audio.ForceBTSCO))
	assert.Equal(t, audio.DeviceOutBluetoothSCOHeadset, e.DeviceForStrategy(audio.StrategySonification))
}

func TestEnforcedAudible(t *testing.T) {
	t.Parallel()
	obs := newObserver(audio.DeviceOutSpeaker|audio.DeviceOutWiredHeadset, audio.DeviceInBuiltinMic)
	e := New(obs)
	assert.Equal(t, audio.DeviceOutWiredHeadset, e.DeviceForStrategy(audio.StrategyEnforcedAudible))

	require.NoError(t, e.SetForceUse(audio.ForceForSystem, audio.ForceSystemEnforced))
	assert.Equal(t, audio.DeviceOutSpeaker|audio.DeviceOutWiredHeadset, e.DeviceForStrategy(audio.StrategyEnforcedAudible))
}

func TestSonificationRespectfulSafeSpeaker(t *testing.T) {
	t.Parallel()
	obs := newObserver(audio.DeviceOutSpeaker|audio.DeviceOutSpeakerSafe, audio.DeviceInBuiltinMic)
	e := New(obs)
	assert.Equal(t, audio.DeviceOutSpeakerSafe, e.DeviceForStrategy(audio.StrategySonificationRespectful))

	out := obs.openOutput(1, audio.OutputFlagPrimary, audio.DeviceOutSpeaker, audio.DeviceOutSpeaker)
	out.ChangeStreamActiveCount(audio.StreamMusic, 1)
	assert.Equal(t, audio.DeviceOutSpeaker, e.DeviceForStrategy(audio.StrategySonificationRespectful))

	out.ChangeStreamActiveCount(audio.StreamMusic, -1)
	out.SetStopTime(audio.StreamMusic, epoch)
	obs.now = epoch.Add(2 * time.Second)
	assert.Equal(t, audio.DeviceOutSpeaker, e.DeviceForStrategy(audio.StrategySonificationRespectful), "music stopped recently")

	obs.now = epoch.Add(SonificationRespectfulAfterMusicDelay)
	assert.Equal(t, audio.DeviceOutSpeakerSafe, e.DeviceForStrategy(audio.StrategySonificationRespectful))
}

func TestAccessibilitySkipsCompressedDigital(t *testing.T) {
	t.Parallel()
	obs := newObserver(audio.DeviceOutSpeaker|audio.DeviceOutHDMI, audio.DeviceInBuiltinMic)
	e := New(obs)
	assert.Equal(t, audio.DeviceOutHDMI, e.DeviceForStrategy(audio.StrategyAccessibility))

	out := obs.openOutput(3, audio.OutputFlagDirect, audio.DeviceOutHDMI, audio.DeviceOutHDMI)
	out.Config.Format = audio.FormatAC3
	out.ChangeStreamActiveCount(audio.StreamMusic, 1)
	assert.Equal(t, audio.DeviceOutSpeaker, e.DeviceForStrategy(audio.StrategyAccessibility))
}

func TestTransmittedThroughSpeaker(t *testing.T) {
	t.Parallel()
	e := New(newObserver(audio.DeviceOutSpeaker|audio.DeviceOutWiredHeadset, audio.DeviceInBuiltinMic))
	assert.Equal(t, audio.DeviceOutSpeaker, e.DeviceForStrategy(audio.StrategyTransmittedThroughSpeaker))
}

func TestDefaultOutputDeviceFallback(t *testing.T) {
	t.Parallel()
	obs := newObserver(audio.DeviceOutEarpiece, audio.DeviceInBuiltinMic)
	obs.def = inventory.NewDeviceDescriptor(audio.DeviceOutSpeaker, "", "")
	e := New(obs)
	assert.Equal(t, audio.DeviceOutSpeaker, e.DeviceForStrategy(audio.StrategyTransmittedThroughSpeaker))
}

func TestDeviceForInputSource(t *testing.T) {
	t.Parallel()
	mics := audio.DeviceInBuiltinMic | audio.DeviceInBackMic
	tests := []struct {
		name      string
		available audio.DeviceType
		source    audio.Source
		mode      audio.Mode
		force     map[audio.ForceUse]audio.ForcedConfig
		want      audio.DeviceType
	}{
		{name: "mic", available: mics, source: audio.SourceMic, want: audio.DeviceInBuiltinMic},
		{name: "headset mic", available: mics | audio.DeviceInWiredHeadset, source: audio.SourceMic, want: audio.DeviceInWiredHeadset},
		{
			name: "sco record", available: mics | audio.DeviceInBluetoothSCOHeadset | audio.DeviceInWiredHeadset,
			source: audio.SourceVoiceRecognition,
			force:  map[audio.ForceUse]audio.ForcedConfig{audio.ForceForRecord: audio.ForceBTSCO},
			want:   audio.DeviceInBluetoothSCOHeadset,
		},
		{name: "camcorder", available: mics, source: audio.SourceCamcorder, want: audio.DeviceInBackMic},
		{
			name: "camcorder in call", available: mics, source: audio.SourceCamcorder, mode: audio.ModeInCommunication,
			want: audio.DeviceInBuiltinMic,
		},
		{
			name: "speakerphone", available: mics, source: audio.SourceVoiceCommunication,
			force: map[audio.ForceUse]audio.ForcedConfig{audio.ForceForCommunication: audio.ForceSpeaker},
			want:  audio.DeviceInBackMic,
		},
		{name: "hotword", available: mics | audio.DeviceInUSBDevice, source: audio.SourceHotword, want: audio.DeviceInUSBDevice},
		{name: "voice call", available: mics | audio.DeviceInVoiceCall, source: audio.SourceVoiceDownlink, want: audio.DeviceInVoiceCall},
		{name: "remote submix", available: mics | audio.DeviceInRemoteSubmix, source: audio.SourceRemoteSubmix, want: audio.DeviceInRemoteSubmix},
		{name: "fm tuner missing", available: mics, source: audio.SourceFMTuner, want: audio.DeviceNone},
		{name: "stub fallback", available: audio.DeviceInStub, source: audio.SourceFMTuner, want: audio.DeviceInStub},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := New(newObserver(audio.DeviceOutSpeaker|audio.DeviceOutTelephonyTx, tt.available))
			if tt.mode != audio.ModeNormal {
				require.NoError(t, e.SetPhoneState(tt.mode))
			}
			for usage, cfg := range tt.force {
				require.NoError(t, e.SetForceUse(usage, cfg))
			}
			assert.Equal(t, tt.want, e.DeviceForInputSource(tt.source))
		})
	}
}
