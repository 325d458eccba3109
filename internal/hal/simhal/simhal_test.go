package simhal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/hal"
	"github.com/tphakala/audiopolicy/internal/inventory"
)

func TestDefaultPlatform(t *testing.T) {
	t.Parallel()
	cfg := DefaultPlatform()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, audio.DeviceOutSpeaker, cfg.DefaultOutputDevice.Type)
	assert.Equal(t, []string{"primary", "a2dp", "usb", "r_submix"}, ModuleNames(cfg))

	primary := cfg.Modules.GetModuleFromName(inventory.ModuleNamePrimary)
	require.NotNil(t, primary)
	assert.True(t, primary.OutputProfiles[0].OutputFlags()&audio.OutputFlagPrimary != 0)

	withMSD := DefaultPlatform(WithMSD())
	assert.NotNil(t, withMSD.Modules.GetModuleFromName(inventory.ModuleNameMSD))
	assert.NotSame(t, cfg.DefaultOutputDevice, withMSD.DefaultOutputDevice, "every call builds a fresh description")
}

func TestModuleLoading(t *testing.T) {
	t.Parallel()
	s := New("primary")
	h, err := s.LoadHwModule("primary")
	require.NoError(t, err)
	again, err := s.LoadHwModule("primary")
	require.NoError(t, err)
	assert.Equal(t, h, again)

	_, err = s.LoadHwModule("usb")
	assert.ErrorIs(t, err, hal.ErrModuleNotFound)
}

func TestOutputsAndDuplication(t *testing.T) {
	t.Parallel()
	s := New("primary")
	a, err := s.OpenOutput(1, hal.OutputRequest{Device: audio.DeviceOutSpeaker, Flags: audio.OutputFlagPrimary})
	require.NoError(t, err)
	assert.Equal(t, uint32(audio.SampleRateHzDefault), a.Config.SampleRate)
	assert.Equal(t, audio.ChannelOutStereo, a.Config.ChannelMask)
	assert.Equal(t, uint32(LatencyNormal), a.LatencyMs)

	b, err := s.OpenOutput(2, hal.OutputRequest{Device: audio.DeviceOutUSBDevice, Flags: audio.OutputFlagDeepBuffer})
	require.NoError(t, err)
	dup, err := s.OpenDuplicateOutput(a.Handle, b.Handle)
	require.NoError(t, err)

	st, ok := s.Output(dup)
	require.True(t, ok)
	assert.Equal(t, audio.DeviceOutSpeaker|audio.DeviceOutUSBDevice, st.Device)
	assert.Equal(t, uint32(LatencyDeepBuffer), st.LatencyMs)

	require.NoError(t, s.CloseOutput(dup))
	assert.ErrorIs(t, s.CloseOutput(dup), hal.ErrUnknownHandle)
	assert.Len(t, s.OutputHandles(), 2)
}

func TestFailureInjection(t *testing.T) {
	t.Parallel()
	s := New("primary")
	s.FailNext(OpOpenOutput, 1)
	_, err := s.OpenOutput(1, hal.OutputRequest{})
	require.ErrorIs(t, err, hal.ErrOpenFailed)
	_, err = s.OpenOutput(1, hal.OutputRequest{})
	require.NoError(t, err)

	s.RejectOutputs(func(req hal.OutputRequest) bool { return req.Flags&audio.OutputFlagDirect != 0 })
	_, err = s.OpenOutput(1, hal.OutputRequest{Flags: audio.OutputFlagDirect})
	require.ErrorIs(t, err, hal.ErrOpenFailed)
	s.RejectOutputs(nil)
	_, err = s.OpenOutput(1, hal.OutputRequest{Flags: audio.OutputFlagDirect})
	require.NoError(t, err)

	s.FailNext(OpOpenInput, 1)
	_, err = s.OpenInput(1, hal.InputRequest{})
	require.ErrorIs(t, err, hal.ErrOpenFailed)
}

func TestPatches(t *testing.T) {
	t.Parallel()
	s := New("primary")
	out, err := s.OpenOutput(1, hal.OutputRequest{Device: audio.DeviceOutSpeaker})
	require.NoError(t, err)

	p := audio.Patch{
		Sources: []audio.PortConfig{{Type: audio.PortTypeMix, Mix: audio.MixExt{Handle: out.Handle}}},
		Sinks:   []audio.PortConfig{{Type: audio.PortTypeDevice, Device: audio.DeviceExt{Type: audio.DeviceOutWiredHeadset}}},
	}
	h, err := s.CreateAudioPatch(p, audio.PatchHandleNone, 0)
	require.NoError(t, err)
	st, _ := s.Output(out.Handle)
	assert.Equal(t, audio.DeviceOutWiredHeadset, st.Device)

	p.Sinks[0].Device.Type = audio.DeviceOutSpeaker
	updated, err := s.CreateAudioPatch(p, h, 0)
	require.NoError(t, err)
	assert.Equal(t, h, updated, "known handles are updated in place")
	assert.Len(t, s.Patches(), 1)

	s.FailNext(OpCreatePatch, 1)
	_, err = s.CreateAudioPatch(p, audio.PatchHandleNone, 0)
	assert.ErrorIs(t, err, hal.ErrPatchFailed)

	require.NoError(t, s.ReleaseAudioPatch(h, 0))
	assert.ErrorIs(t, s.ReleaseAudioPatch(h, 0), hal.ErrPatchFailed)
	assert.Empty(t, s.Patches())
}

func TestParameters(t *testing.T) {
	t.Parallel()
	s := New("usb")
	s.SetCapabilities(audio.DeviceOutUSBDevice, Capabilities{Formats: "pcm_16", SampleRates: "44100|48000", Channels: "3"})
	out, err := s.OpenOutput(1, hal.OutputRequest{Device: audio.DeviceOutUSBDevice})
	require.NoError(t, err)

	reply := hal.ParseParams(s.GetParameters(out.Handle, hal.KeySupportedFormats+";"+hal.KeySupportedSampleRates))
	assert.Equal(t, "pcm_16", reply[hal.KeySupportedFormats])
	assert.Equal(t, "44100|48000", reply[hal.KeySupportedSampleRates])
	assert.NotContains(t, reply, hal.KeySupportedChannels)

	s.SetParameters(out.Handle, "mono_output=1;routing=4", 0)
	assert.Equal(t, "1", s.Params(out.Handle)[hal.KeyMonoOutput])
	assert.Equal(t, "routing=4", s.GetParameters(out.Handle, hal.KeyRouting))
}

func TestVolumesAndEffects(t *testing.T) {
	t.Parallel()
	s := New("primary")
	out, err := s.OpenOutput(1, hal.OutputRequest{})
	require.NoError(t, err)

	require.NoError(t, s.SetStreamVolume(audio.StreamMusic, 0.5, out.Handle, 0))
	v, ok := s.StreamVolume(out.Handle, audio.StreamMusic)
	require.True(t, ok)
	assert.InDelta(t, 0.5, v, 1e-9)
	assert.ErrorIs(t, s.SetStreamVolume(audio.StreamMusic, 0.5, 999, 0), hal.ErrUnknownHandle)

	require.NoError(t, s.SetVoiceVolume(0.8, 0))
	assert.InDelta(t, 0.8, s.VoiceVolume(), 1e-9)
	require.NoError(t, s.InvalidateStream(audio.StreamMusic))
	assert.Equal(t, []audio.Stream{audio.StreamMusic}, s.Invalidated())
	require.NoError(t, s.MoveEffects(5, 1, 2))
	assert.Equal(t, []EffectMove{{Session: 5, Src: 1, Dst: 2}}, s.EffectMoves())

	s.OnAudioPortListUpdate()
	s.OnAudioPatchListUpdate()
	s.OnAudioPatchListUpdate()
	assert.Equal(t, 1, s.PortListUpdates())
	assert.Equal(t, 2, s.PatchListUpdates())
}

func TestParams(t *testing.T) {
	t.Parallel()
	p := hal.ParseParams(" b=2; a=1;;flag")
	assert.Equal(t, hal.Params{"a": "1", "b": "2", "flag": ""}, p)
	assert.Equal(t, "a=1;b=2;flag=", p.String())
	assert.Equal(t, "x=y", hal.Params{}.Set("x", "y").String())
}
