package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/hal"
	"github.com/tphakala/audiopolicy/internal/hal/simhal"
)

var mp3Config = audio.Config{SampleRate: 44100, ChannelMask: audio.ChannelOutStereo, Format: audio.FormatMP3}

func offloadRequest(session audio.Session) OutputRequest {
	return OutputRequest{
		Attributes: media(),
		Session:    session,
		UID:        10010,
		Config:     mp3Config,
		Flags:      audio.OutputFlagCompressOffload,
	}
}

func TestMediaWithoutFlagsUsesDeepBuffer(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m

	a := playMusic(t, m, 100)
	deep := outputByProfile(t, m, "deep_buffer")
	assert.Equal(t, deep.Handle(), a.Output)
	assert.Equal(t, audio.StreamMusic, a.Stream)
	assert.Equal(t, deep.Handle(), m.MusicEffectOutput())
	assert.True(t, m.IsStreamActive(audio.StreamMusic, 0))
	assert.False(t, m.IsStreamActiveRemotely(audio.StreamMusic, 0))

	require.NoError(t, m.StopOutput(a.PortID))
	assert.False(t, m.IsStreamActive(audio.StreamMusic, 0))
	assert.True(t, m.IsStreamActive(audio.StreamMusic, time.Second), "recently stopped counts within the window")
	env.clock.Advance(2 * time.Second)
	assert.False(t, m.IsStreamActive(audio.StreamMusic, time.Second))

	err := m.StopOutput(a.PortID)
	require.ErrorIs(t, err, ErrInvalidOperation, "stopping twice")

	require.NoError(t, m.ReleaseOutput(a.PortID))
	_, ok := m.outputs.Get(deep.Handle())
	assert.True(t, ok, "mixed outputs stay open")

	err = m.ReleaseOutput(a.PortID)
	require.ErrorIs(t, err, ErrUnknownClient)
}

func TestOffloadOutputSharing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m

	first, err := m.GetOutputForAttr(offloadRequest(300))
	require.NoError(t, err)
	offload := outputByProfile(t, m, "compressed_offload")
	assert.Equal(t, offload.Handle(), first.Output)
	assert.Equal(t, 1, offload.DirectOpenCount)
	_, ok := env.sim.Output(offload.Handle())
	require.True(t, ok)

	// Same session and configuration share the direct output.
	second, err := m.GetOutputForAttr(offloadRequest(300))
	require.NoError(t, err)
	assert.Equal(t, first.Output, second.Output)
	assert.Equal(t, 2, offload.DirectOpenCount)

	// The profile allows a single open stream.
	_, err = m.GetOutputForAttr(offloadRequest(301))
	require.ErrorIs(t, err, ErrNoOutput)

	require.NoError(t, m.ReleaseOutput(second.PortID))
	assert.Equal(t, 1, offload.DirectOpenCount)
	_, ok = env.sim.Output(offload.Handle())
	assert.True(t, ok)

	require.NoError(t, m.ReleaseOutput(first.PortID))
	_, ok = env.sim.Output(offload.Handle())
	assert.False(t, ok, "direct output closes with its last client")
	_, ok = m.outputs.Get(offload.Handle())
	assert.False(t, ok)
}

func TestGetOutputForAttrValidation(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	_, err := m.GetOutputForAttr(OutputRequest{Stream: audio.StreamPublicCount})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = m.GetOutputForAttr(OutputRequest{Attributes: media(), PreferredDevice: 9999})
	require.ErrorIs(t, err, ErrInvalidArgument)

	// A legacy stream type is mapped to attributes.
	a, err := m.GetOutputForAttr(OutputRequest{Stream: audio.StreamMusic})
	require.NoError(t, err)
	assert.Equal(t, audio.StreamMusic, a.Stream)
}

func TestUnknownPortIDs(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	require.ErrorIs(t, m.StartOutput(4242), ErrUnknownClient)
	require.ErrorIs(t, m.StopOutput(4242), ErrUnknownClient)
	require.ErrorIs(t, m.ReleaseOutput(4242), ErrUnknownClient)
}

func TestGetOutputForStream(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	assert.Equal(t, m.primary.Handle(), m.GetOutput(audio.StreamRing))
}

func TestIsOffloadSupported(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	info := audio.OffloadInfo{
		SampleRate:  44100,
		ChannelMask: audio.ChannelOutStereo,
		Format:      audio.FormatMP3,
		Stream:      audio.StreamMusic,
		DurationUs:  int64(5 * time.Minute / time.Microsecond),
	}
	assert.True(t, m.IsOffloadSupported(info))

	short := info
	short.DurationUs = int64(10 * time.Second / time.Microsecond)
	assert.False(t, m.IsOffloadSupported(short), "short clips are not worth offloading")

	video := info
	video.HasVideo = true
	assert.False(t, m.IsOffloadSupported(video))

	ac3 := info
	ac3.Format = audio.FormatAC3
	assert.False(t, m.IsOffloadSupported(ac3))

	require.NoError(t, m.SetMasterMono(true))
	assert.True(t, m.MasterMono())
	assert.False(t, m.IsOffloadSupported(info), "mono downmix disables offload")
}

func TestMasterMonoClosesOffload(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m

	_, err := m.GetOutputForAttr(offloadRequest(300))
	require.NoError(t, err)
	offload := outputByProfile(t, m, "compressed_offload")

	require.NoError(t, m.SetMasterMono(true))
	_, ok := env.sim.Output(offload.Handle())
	assert.False(t, ok)
	for _, h := range env.sim.OutputHandles() {
		assert.Equal(t, "1", env.sim.Params(h)[hal.KeyMonoOutput], "output %d", h)
	}

	require.NoError(t, m.SetMasterMono(false))
	assert.Equal(t, "0", env.sim.Params(m.primary.Handle())[hal.KeyMonoOutput])
}

func TestFailedDirectOpenFallback(t *testing.T) {
	t.Parallel()
	pcm := audio.Config{SampleRate: 48000, ChannelMask: audio.ChannelOutStereo, Format: audio.FormatPCM16Bit}

	tests := []struct {
		name      string
		attr      *audio.Attributes
		cfg       audio.Config
		flags     audio.OutputFlags
		failOpens int
		wantMixed bool
	}{
		{
			name:      "compressed stream fails without fallback",
			attr:      media(),
			cfg:       mp3Config,
			flags:     audio.OutputFlagCompressOffload,
			failOpens: 1,
		},
		{
			name:      "pcm within the mixer rate falls back",
			attr:      media(),
			cfg:       pcm,
			flags:     audio.OutputFlagDirect,
			failOpens: 1,
			wantMixed: true,
		},
		{
			name:  "hw av sync never falls back",
			attr:  &audio.Attributes{Usage: audio.UsageMedia, Flags: audio.AttrFlagHwAvSync},
			cfg:   pcm,
			flags: audio.OutputFlagNone,
		},
		{
			name:      "mmap never falls back",
			attr:      media(),
			cfg:       pcm,
			flags:     audio.OutputFlagDirect | audio.OutputFlagMmapNoIRQ,
			failOpens: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			m := env.m
			env.sim.FailNext(simhal.OpOpenOutput, tt.failOpens)

			a, err := m.GetOutputForAttr(OutputRequest{
				Attributes: tt.attr,
				Session:    200,
				UID:        10020,
				Config:     tt.cfg,
				Flags:      tt.flags,
			})
			assert.Equal(t, 2, m.outputs.Len(), "no direct output stays open")
			if !tt.wantMixed {
				require.ErrorIs(t, err, ErrNoOutput)
				return
			}
			require.NoError(t, err)
			out, ok := m.outputs.Get(a.Output)
			require.True(t, ok)
			assert.False(t, out.IsDirect())
			assert.Zero(t, a.Flags&audio.OutputFlagDirect)
		})
	}
}
