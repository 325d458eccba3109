package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/patch"
)

const patchOwner audio.UID = 10500

func TestCreateAudioPatchIsIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m
	speaker := availableOutput(t, m, audio.DeviceOutSpeaker)
	existing := m.primary.PatchHandle()
	gen := m.PatchGeneration()

	p := patch.NewBuilder().AddSource(m.primary.PortConfig()).AddSink(speaker.PortConfig()).Patch()
	h, err := m.CreateAudioPatch(p, audio.PatchHandleNone, patchOwner)
	require.NoError(t, err)
	assert.Equal(t, existing, h, "the route already in place is reused")
	assert.Equal(t, gen, m.PatchGeneration())

	again, err := m.CreateAudioPatch(p, h, patchOwner)
	require.NoError(t, err)
	assert.Equal(t, h, again)
	assert.Equal(t, gen, m.PatchGeneration(), "same routing does not touch the hardware")

	earpiece := availableOutput(t, m, audio.DeviceOutEarpiece)
	retarget := patch.NewBuilder().AddSource(m.primary.PortConfig()).AddSink(earpiece.PortConfig()).Patch()
	moved, err := m.CreateAudioPatch(retarget, h, patchOwner)
	require.NoError(t, err)
	assert.Equal(t, h, moved, "updating keeps the handle")
	assert.Greater(t, m.PatchGeneration(), gen)

	stream, ok := env.sim.Output(m.primary.Handle())
	require.True(t, ok)
	assert.Equal(t, audio.DeviceOutEarpiece, stream.Device)
}

func TestReleaseAudioPatchOwnership(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m
	earpiece := availableOutput(t, m, audio.DeviceOutEarpiece)

	p := patch.NewBuilder().AddSource(m.primary.PortConfig()).AddSink(earpiece.PortConfig()).Patch()
	h, err := m.CreateAudioPatch(p, audio.PatchHandleNone, patchOwner)
	require.NoError(t, err)

	_, err = m.CreateAudioPatch(p, h, patchOwner+1)
	require.ErrorIs(t, err, ErrPatchOwnership, "another uid cannot update the patch")

	err = m.ReleaseAudioPatch(h, patchOwner+1)
	require.ErrorIs(t, err, ErrPatchOwnership)

	require.NoError(t, m.ReleaseAudioPatch(h, patchOwner))
	assert.Empty(t, m.patches.OwnedBy(patchOwner), "the policy takes the output back")
	// Nothing plays, so the output is left without a route.
	assert.Equal(t, audio.DeviceNone, m.NewOutputDevice(m.primary.Handle(), false))

	err = m.ReleaseAudioPatch(9999, patchOwner)
	require.ErrorIs(t, err, ErrUnknownPatch)
}

func TestDeviceToDevicePatch(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m
	rx := m.availableInputs.GetDevice(audio.DeviceInTelephonyRx, "")
	require.NotNil(t, rx)
	speaker := availableOutput(t, m, audio.DeviceOutSpeaker)
	before := len(env.sim.Patches())

	p := patch.NewBuilder().AddSource(rx.PortConfig()).AddSink(speaker.PortConfig()).Patch()
	h, err := m.CreateAudioPatch(p, audio.PatchHandleNone, patchOwner)
	require.NoError(t, err)
	assert.Len(t, env.sim.Patches(), before+1, "same module devices are patched in hardware")

	d, ok := m.patches.Get(h)
	require.True(t, ok)
	assert.Equal(t, patchOwner, d.UID)
	sink, ok := d.SinkDevice()
	require.True(t, ok)
	assert.Equal(t, audio.DeviceOutSpeaker, sink.Type)

	patches, _ := m.ListAudioPatches()
	assert.Len(t, patches, m.patches.Len())

	require.NoError(t, m.ReleaseAudioPatch(h, patchOwner))
	assert.Len(t, env.sim.Patches(), before)
	require.ErrorIs(t, m.ReleaseAudioPatch(h, patchOwner), ErrUnknownPatch)
}

func TestCreateAudioPatchValidation(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	speaker := availableOutput(t, m, audio.DeviceOutSpeaker)
	earpiece := availableOutput(t, m, audio.DeviceOutEarpiece)

	tests := []struct {
		name  string
		patch audio.Patch
		want  error
	}{
		{
			name:  "two mix sources",
			patch: patch.NewBuilder().AddSource(m.primary.PortConfig()).AddSource(m.primary.PortConfig()).AddSink(speaker.PortConfig()).Patch(),
			want:  ErrInvalidOperation,
		},
		{
			name:  "output device as source",
			patch: patch.NewBuilder().AddSource(speaker.PortConfig()).AddSink(earpiece.PortConfig()).Patch(),
			want:  ErrUnknownPort,
		},
		{
			name:  "no sink",
			patch: patch.NewBuilder().AddSource(m.primary.PortConfig()).Patch(),
			want:  patch.ErrInvalidPatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.CreateAudioPatch(tt.patch, audio.PatchHandleNone, patchOwner)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	unknown := m.primary.PortConfig()
	unknown.ID = 9999
	_, err := m.CreateAudioPatch(patch.NewBuilder().AddSource(unknown).AddSink(speaker.PortConfig()).Patch(), audio.PatchHandleNone, patchOwner)
	require.ErrorIs(t, err, ErrUnknownPort)
}

func TestSetAudioPortConfigGain(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	speaker := availableOutput(t, m, audio.DeviceOutSpeaker)

	pc := speaker.PortConfig()
	pc.Gain = &audio.GainConfig{Index: 0, Values: []int{-600}}
	require.NoError(t, m.SetAudioPortConfig(pc))
	require.NotNil(t, speaker.ActiveConfig.Gain)
	assert.Equal(t, []int{-600}, speaker.ActiveConfig.Gain.Values)

	pc.Gain = nil
	require.ErrorIs(t, m.SetAudioPortConfig(pc), ErrInvalidOperation)

	mixPC := m.primary.PortConfig()
	mixPC.Gain = &audio.GainConfig{Values: []int{0}}
	require.NoError(t, m.SetAudioPortConfig(mixPC))

	mixPC.ID = 9999
	require.ErrorIs(t, m.SetAudioPortConfig(mixPC), ErrUnknownPort)
}
