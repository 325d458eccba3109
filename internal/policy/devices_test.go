package policy

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/endpoint"
)

func TestHeadsetConnectMovesActiveMusic(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m

	a := playMusic(t, m, 100)
	deep := outputByProfile(t, m, "deep_buffer")
	require.Equal(t, deep.Handle(), a.Output, "media without flags plays on deep buffer")
	sleepsBefore := len(env.clock.Sleeps())

	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutWiredHeadset, audio.DeviceStateAvailable, "", "Wired Headset"))
	assert.Equal(t, audio.DeviceStateAvailable, m.GetDeviceConnectionState(audio.DeviceOutWiredHeadset, ""))

	stream, ok := env.sim.Output(deep.Handle())
	require.True(t, ok)
	assert.Equal(t, audio.DeviceOutWiredHeadset, stream.Device)
	assert.Equal(t, audio.DeviceOutWiredHeadset, m.DeviceForStrategy(audio.StrategyMedia, true))

	// Switching an active output waits for the muted audio to drain.
	assert.Greater(t, len(env.clock.Sleeps()), sleepsBefore)
	assert.NotEmpty(t, env.recorder.muteWaits)
	assert.Contains(t, env.notifier.devices, deviceEvent{audio.DeviceOutWiredHeadset, "", audio.DeviceStateAvailable})

	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutWiredHeadset, audio.DeviceStateUnavailable, "", ""))
	stream, ok = env.sim.Output(deep.Handle())
	require.True(t, ok)
	assert.Equal(t, audio.DeviceOutSpeaker, stream.Device)
	assert.Equal(t, audio.DeviceStateUnavailable, m.GetDeviceConnectionState(audio.DeviceOutWiredHeadset, ""))

	err := m.SetDeviceConnectionState(audio.DeviceOutWiredHeadset, audio.DeviceStateUnavailable, "", "")
	require.ErrorIs(t, err, ErrDeviceState)
}

func TestConnectIdleDeviceReleasesIdlePatches(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m
	gen := m.PortGeneration()

	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutWiredHeadset, audio.DeviceStateAvailable, "", ""))
	assert.Greater(t, m.PortGeneration(), gen)
	for _, out := range m.outputs.Values() {
		assert.Equal(t, audio.DeviceNone, m.NewOutputDevice(out.Handle(), false), "nothing plays on %d", out.Handle())
	}
	assert.Empty(t, env.clock.Sleeps(), "idle outputs switch without waiting")
}

func TestConnectA2DPOpensOutputAndInvalidatesMusic(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m
	playMusic(t, m, 100)

	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutBluetoothA2DP, audio.DeviceStateAvailable, "00:11:22:33:44:55", "BT Speaker"))
	a2dp := outputByProfile(t, m, "a2dp output")
	assert.Equal(t, 3, m.outputs.Len())
	assert.Equal(t, audio.DeviceOutBluetoothA2DP, m.DeviceForStrategy(audio.StrategyMedia, false))
	assert.Contains(t, env.sim.Invalidated(), audio.StreamMusic, "music clients must reconnect to the a2dp output")

	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutBluetoothA2DP, audio.DeviceStateUnavailable, "00:11:22:33:44:55", ""))
	_, ok := m.outputs.Get(a2dp.Handle())
	assert.False(t, ok, "a2dp output closes with its device")
	_, ok = env.sim.Output(a2dp.Handle())
	assert.False(t, ok)
}

func TestDeviceConnectionErrors(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	tests := []struct {
		name   string
		device audio.DeviceType
		state  audio.DeviceState
		want   error
	}{
		{"speaker already attached", audio.DeviceOutSpeaker, audio.DeviceStateAvailable, ErrDeviceState},
		{"headset not connected", audio.DeviceOutWiredHeadset, audio.DeviceStateUnavailable, ErrDeviceState},
		{"mask of two devices", audio.DeviceOutSpeaker | audio.DeviceOutEarpiece, audio.DeviceStateAvailable, ErrInvalidDevice},
		{"no module declares it", audio.DeviceOutHDMIArc, audio.DeviceStateAvailable, ErrDeviceUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.SetDeviceConnectionState(tt.device, tt.state, "", "")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestInputDeviceConnection(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m

	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceInWiredHeadset, audio.DeviceStateAvailable, "", ""))
	assert.Equal(t, audio.DeviceStateAvailable, m.GetDeviceConnectionState(audio.DeviceInWiredHeadset, ""))
	assert.Empty(t, env.sim.InputHandles(), "inputs opened at load are closed again")

	a, err := m.GetInputForAttr(InputRequest{
		Attributes: audio.Attributes{Source: audio.SourceMic},
		Session:    200,
		UID:        10002,
		Config:     audio.Config{SampleRate: 48000, ChannelMask: audio.ChannelInStereo, Format: audio.FormatPCM16Bit},
	})
	require.NoError(t, err)
	in, ok := m.inputs.Get(a.Input)
	require.True(t, ok)
	assert.Equal(t, audio.DeviceInWiredHeadset, in.Device, "a headset mic wins over the builtin mic")

	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceInWiredHeadset, audio.DeviceStateUnavailable, "", ""))
	assert.Zero(t, m.inputs.Len(), "inputs are closed when capture devices change")
	assert.Equal(t, audio.DeviceStateUnavailable, m.GetDeviceConnectionState(audio.DeviceInWiredHeadset, ""))
}

func TestHandleDeviceConfigChangeReconnects(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m
	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutWiredHeadset, audio.DeviceStateAvailable, "", ""))
	gen := m.PortGeneration()

	require.NoError(t, m.HandleDeviceConfigChange(audio.DeviceOutWiredHeadset, "", ""))
	assert.Equal(t, audio.DeviceStateAvailable, m.GetDeviceConnectionState(audio.DeviceOutWiredHeadset, ""))
	assert.Greater(t, m.PortGeneration(), gen)

	// Devices that are not connected are ignored.
	require.NoError(t, m.HandleDeviceConfigChange(audio.DeviceOutLine, "", ""))
	assert.Equal(t, audio.DeviceStateUnavailable, m.GetDeviceConnectionState(audio.DeviceOutLine, ""))
}

func TestDevicesForStreamFollowsConnections(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	assert.Equal(t, audio.StrategyMedia, m.StrategyForStream(audio.StreamMusic))
	assert.Equal(t, audio.DeviceOutSpeaker, m.DevicesForStream(audio.StreamMusic))

	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutWiredHeadphone, audio.DeviceStateAvailable, "", ""))
	assert.Equal(t, audio.DeviceOutWiredHeadphone, m.DevicesForStream(audio.StreamMusic))
}

func TestHDMIConnectReadsDynamicProfiles(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m
	env.sim.SetCapabilities(audio.DeviceOutHDMI, hdmiCapabilities)

	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutHDMI, audio.DeviceStateAvailable, "", "TV"))
	hdmi := m.availableOutputs.GetDevice(audio.DeviceOutHDMI, "")
	require.NotNil(t, hdmi)
	formats := hdmi.Profiles.Formats()
	assert.True(t, slices.Contains(formats, audio.FormatPCM16Bit))
	assert.True(t, slices.Contains(formats, audio.FormatAC3))

	// The direct output opened to read the capabilities is closed again.
	_, found := m.outputs.Find(func(o *endpoint.Output) bool {
		return o.Profile() != nil && o.Profile().Name == "hdmi output"
	})
	assert.False(t, found)
}

func TestReconnectedDeviceCanPlayAgain(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	const addr = "00:11:22:33:44:55"

	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutBluetoothA2DP, audio.DeviceStateAvailable, addr, "BT Speaker"))
	a2dp := outputByProfile(t, m, "a2dp output")
	profile := a2dp.Profile()
	a := playMusic(t, m, 100)
	require.Equal(t, a2dp.Handle(), a.Output)
	assert.Equal(t, uint32(1), profile.CurActiveCount)

	// Disconnecting mid-stream closes the active output.
	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutBluetoothA2DP, audio.DeviceStateUnavailable, addr, ""))
	assert.Zero(t, profile.CurOpenCount)
	assert.Zero(t, profile.CurActiveCount, "closing an active output gives back its active slot")

	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutBluetoothA2DP, audio.DeviceStateAvailable, addr, "BT Speaker"))
	reopened := outputByProfile(t, m, "a2dp output")
	b := playMusic(t, m, 101)
	assert.Equal(t, reopened.Handle(), b.Output)
	assert.Equal(t, uint32(1), profile.CurActiveCount)
}

func TestDisconnectA2DPClosesDuplicatedOutput(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m
	const addr = "00:11:22:33:44:55"

	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutBluetoothA2DP, audio.DeviceStateAvailable, addr, "BT Speaker"))
	a2dp := outputByProfile(t, m, "a2dp output")
	dup, ok := m.outputs.Find(func(o *endpoint.Output) bool { return o.IsDuplicated() })
	require.True(t, ok, "a2dp is duplicated with the primary output")
	primaryProfile, a2dpProfile := m.primary.Profile(), a2dp.Profile()

	// Alarms ring on the speaker and the headset at once.
	a, err := m.GetOutputForAttr(OutputRequest{
		Attributes: &audio.Attributes{Usage: audio.UsageAlarm},
		Session:    300,
		UID:        1000,
	})
	require.NoError(t, err)
	require.Equal(t, dup.Handle(), a.Output)
	require.NoError(t, m.StartOutput(a.PortID))
	assert.Equal(t, 1, m.primary.StreamActiveCount(audio.StreamAlarm))
	assert.Equal(t, 1, a2dp.StreamActiveCount(audio.StreamAlarm))
	assert.Equal(t, uint32(1), primaryProfile.CurActiveCount)
	assert.Equal(t, uint32(1), a2dpProfile.CurActiveCount)

	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutBluetoothA2DP, audio.DeviceStateUnavailable, addr, ""))
	_, ok = m.outputs.Get(dup.Handle())
	assert.False(t, ok, "the duplicated output closes with its leg")
	_, ok = env.sim.Output(dup.Handle())
	assert.False(t, ok)

	// Activity forwarded by the duplicated output is withdrawn from the
	// surviving leg, which then stops.
	assert.Zero(t, m.primary.StreamActiveCount(audio.StreamAlarm))
	assert.False(t, m.primary.IsActive(0, env.clock.Now()))
	assert.Zero(t, primaryProfile.CurActiveCount)
	assert.Zero(t, a2dpProfile.CurActiveCount)
	assert.Zero(t, a2dpProfile.CurOpenCount)
	assert.Equal(t, uint32(1), primaryProfile.CurOpenCount, "the primary output stays open")
}
