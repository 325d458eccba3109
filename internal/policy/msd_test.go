package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/hal/simhal"
)

func msdSink(t *testing.T, m *Manager) audio.DeviceType {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	patches := m.msdPatches()
	require.Len(t, patches, 1, "exactly one decoder patch")
	sink, ok := patches[0].SinkDevice()
	require.True(t, ok)
	return sink.Type
}

func TestMsdPatchFollowsMediaDevice(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, simhal.WithMSD())
	m := env.m

	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutWiredHeadset, audio.DeviceStateAvailable, "", "Headset"))
	assert.Equal(t, audio.DeviceOutWiredHeadset, msdSink(t, m))

	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutWiredHeadset, audio.DeviceStateUnavailable, "", ""))
	assert.Equal(t, audio.DeviceOutSpeaker, msdSink(t, m), "the old patch is replaced, not duplicated")
}

func TestMsdPatchIsSingleInstance(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, simhal.WithMSD())
	m := env.m
	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutWiredHeadset, audio.DeviceStateAvailable, "", "Headset"))

	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.msdPatches()
	require.Len(t, current, 1)

	// Re-applying the same routing keeps the existing patch.
	require.NoError(t, m.setMsdPatch(audio.DeviceNone))
	assert.Len(t, m.msdPatches(), 1)

	stray := *current[0]
	stray.Handle = audio.PatchHandle(9999)
	m.patches.Add(&stray)
	require.Len(t, m.msdPatches(), 2)

	err := m.setMsdPatch(audio.DeviceNone)
	require.ErrorIs(t, err, ErrMSDPatchExists)
}

func TestNoMsdPatchWithoutDecoder(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	require.NoError(t, m.SetDeviceConnectionState(audio.DeviceOutWiredHeadset, audio.DeviceStateAvailable, "", "Headset"))

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Nil(t, m.msdModule())
	assert.Empty(t, m.msdPatches())
}
