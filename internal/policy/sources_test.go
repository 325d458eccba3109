package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/audio"
)

const sourceOwner audio.UID = 5

func startMicSource(t *testing.T, m *Manager) audio.PortHandle {
	t.Helper()
	mic := m.availableInputs.GetDevice(audio.DeviceInBuiltinMic, "")
	require.NotNil(t, mic)
	port, err := m.StartAudioSource(mic.PortConfig(), *media(), sourceOwner)
	require.NoError(t, err)
	return port
}

func TestStartAudioSource(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m
	halPatches := len(env.sim.Patches())

	port := startMicSource(t, m)
	sources := m.AudioSources()
	require.Len(t, sources, 1)
	assert.Equal(t, port, sources[0].PortID)
	assert.Equal(t, m.primary.Handle(), sources[0].Output)
	assert.Equal(t, audio.StrategyMedia, sources[0].Strategy)
	assert.True(t, m.IsStreamActive(audio.StreamMusic, 0))
	assert.Len(t, env.sim.Patches(), halPatches+1)

	owned := m.patches.OwnedBy(sourceOwner)
	require.Len(t, owned, 1)
	assert.Empty(t, owned[0].Patch.Sinks, "the output picks the sink")
	require.ErrorIs(t, m.ReleaseAudioPatch(owned[0].Handle, sourceOwner), ErrInvalidOperation)

	require.NoError(t, m.StopAudioSource(port))
	assert.Empty(t, m.AudioSources())
	assert.False(t, m.IsStreamActive(audio.StreamMusic, 0))
	assert.Len(t, env.sim.Patches(), halPatches)
	require.ErrorIs(t, m.StopAudioSource(port), ErrUnknownSource)
}

func TestStartAudioSourceValidation(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	speaker := availableOutput(t, m, audio.DeviceOutSpeaker)
	_, err := m.StartAudioSource(speaker.PortConfig(), *media(), sourceOwner)
	require.ErrorIs(t, err, ErrInvalidOperation, "a sink cannot be a source")

	mic := m.availableInputs.GetDevice(audio.DeviceInBuiltinMic, "").PortConfig()
	mic.Device.Type = audio.DeviceInWiredHeadset
	_, err = m.StartAudioSource(mic, *media(), sourceOwner)
	require.ErrorIs(t, err, ErrInvalidArgument, "the headset mic is not connected")
}

func TestReleaseResourcesStopsAudioSources(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	startMicSource(t, m)

	m.ReleaseResourcesForUID(sourceOwner)
	assert.Empty(t, m.AudioSources())
	assert.Empty(t, m.patches.OwnedBy(sourceOwner))
}
