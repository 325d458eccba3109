package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/volume"
)

func TestStreamMuteIsReferenceCounted(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m
	out := m.primary
	h := out.Handle()

	m.mu.Lock()
	m.setStreamMute(audio.StreamMusic, true, out, 0, audio.DeviceNone)
	m.mu.Unlock()
	vol, ok := env.sim.StreamVolume(h, audio.StreamMusic)
	require.True(t, ok)
	assert.Zero(t, vol, "first mute silences the stream")

	m.mu.Lock()
	m.setStreamMute(audio.StreamMusic, true, out, 0, audio.DeviceNone)
	m.mu.Unlock()
	assert.Equal(t, 2, out.MuteCount[audio.StreamMusic])

	m.mu.Lock()
	m.setStreamMute(audio.StreamMusic, false, out, 0, audio.DeviceNone)
	m.mu.Unlock()
	vol, _ = env.sim.StreamVolume(h, audio.StreamMusic)
	assert.Zero(t, vol, "still muted by the other reference")
	assert.Equal(t, 1, out.MuteCount[audio.StreamMusic])

	m.mu.Lock()
	m.setStreamMute(audio.StreamMusic, false, out, 0, audio.DeviceNone)
	m.mu.Unlock()
	vol, _ = env.sim.StreamVolume(h, audio.StreamMusic)
	assert.Positive(t, vol, "last unmute restores the volume")
	assert.Zero(t, out.MuteCount[audio.StreamMusic])

	// Unbalanced unmutes are ignored.
	m.mu.Lock()
	m.setStreamMute(audio.StreamMusic, false, out, 0, audio.DeviceNone)
	m.mu.Unlock()
	assert.Zero(t, out.MuteCount[audio.StreamMusic])
}

func TestSetStreamVolumeIndex(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m
	a := playMusic(t, m, 100)

	require.NoError(t, m.SetStreamVolumeIndex(audio.StreamMusic, 5, audio.DeviceOutSpeaker))
	index, err := m.GetStreamVolumeIndex(audio.StreamMusic, audio.DeviceOutSpeaker)
	require.NoError(t, err)
	assert.Equal(t, 5, index)

	index, err = m.GetStreamVolumeIndex(audio.StreamMusic, volume.DefaultForVolume)
	require.NoError(t, err)
	assert.Equal(t, 5, index, "the default device resolves to where music plays")

	vol, ok := env.sim.StreamVolume(a.Output, audio.StreamMusic)
	require.True(t, ok)
	assert.InDelta(t, volume.DbToAmpl(m.StreamVolumeDb(audio.StreamMusic, 5, audio.DeviceOutSpeaker)), vol, 1e-9)

	require.NoError(t, m.SetStreamVolumeIndex(audio.StreamMusic, 10, audio.DeviceOutSpeaker))
	louder, _ := env.sim.StreamVolume(a.Output, audio.StreamMusic)
	assert.Greater(t, louder, vol)
}

func TestSetStreamVolumeIndexValidation(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	tests := []struct {
		name   string
		stream audio.Stream
		index  int
		device audio.DeviceType
	}{
		{"above range", audio.StreamMusic, 16, audio.DeviceOutSpeaker},
		{"below range", audio.StreamAlarm, 0, audio.DeviceOutSpeaker},
		{"no device", audio.StreamMusic, 3, audio.DeviceNone},
		{"capture device", audio.StreamMusic, 3, audio.DeviceInBuiltinMic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.SetStreamVolumeIndex(tt.stream, tt.index, tt.device)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	// The call volume may be muted although its range starts above zero.
	require.NoError(t, m.SetStreamVolumeIndex(audio.StreamVoiceCall, 0, audio.DeviceOutEarpiece))
}

func TestInitStreamVolumeChangesRange(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	require.NoError(t, m.InitStreamVolume(audio.StreamMusic, 0, 30))
	require.NoError(t, m.SetStreamVolumeIndex(audio.StreamMusic, 25, audio.DeviceOutSpeaker))
	require.Error(t, m.InitStreamVolume(audio.StreamMusic, 10, 5))
}

func TestVolumeDecreasesWithIndex(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	low := m.StreamVolumeDb(audio.StreamMusic, 2, audio.DeviceOutSpeaker)
	high := m.StreamVolumeDb(audio.StreamMusic, 14, audio.DeviceOutSpeaker)
	assert.Less(t, low, high)
	assert.LessOrEqual(t, high, 0.0)
}
