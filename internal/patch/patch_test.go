package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/audio"
)

func devicePort(t audio.DeviceType) audio.PortConfig {
	return audio.PortConfig{Type: audio.PortTypeDevice, Device: audio.DeviceExt{Type: t}}
}

func mixPort(h audio.IOHandle) audio.PortConfig {
	return audio.PortConfig{Type: audio.PortTypeMix, Mix: audio.MixExt{Handle: h}}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		sources int
		sinks   int
		ok      bool
	}{
		{"one to one", 1, 1, true},
		{"bridge", 2, 1, true},
		{"no source", 0, 1, false},
		{"three sources", 3, 1, false},
		{"no sink", 1, 0, false},
		{"too many sinks", 1, audio.PatchPortsMax + 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := NewBuilder()
			for range tt.sources {
				b.AddSource(mixPort(1))
			}
			for range tt.sinks {
				b.AddSink(devicePort(audio.DeviceOutSpeaker))
			}
			err := Validate(b.Patch())
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPatch)
			}
		})
	}
}

func TestBuilderSetsRoles(t *testing.T) {
	t.Parallel()
	p := NewBuilder().AddSource(mixPort(3)).AddSink(devicePort(audio.DeviceOutSpeaker)).Patch()
	assert.Equal(t, audio.PortRoleSource, p.Sources[0].Role)
	assert.Equal(t, audio.PortRoleSink, p.Sinks[0].Role)
}

func TestCollectionGeneration(t *testing.T) {
	t.Parallel()
	c := NewCollection()
	assert.Zero(t, c.Generation())

	speaker := &Descriptor{
		Handle: 1,
		UID:    1000,
		Patch:  NewBuilder().AddSource(mixPort(3)).AddSink(devicePort(audio.DeviceOutSpeaker)).Patch(),
	}
	rx := &Descriptor{
		Handle: 2,
		UID:    0,
		Patch:  NewBuilder().AddSource(devicePort(audio.DeviceInTelephonyRx)).AddSink(devicePort(audio.DeviceOutEarpiece)).Patch(),
	}
	c.Add(speaker)
	c.Add(rx)
	assert.Equal(t, uint32(2), c.Generation())
	assert.Len(t, c.OwnedBy(1000), 1)
	assert.Len(t, c.WithSinkDevice(audio.DeviceOutEarpiece|audio.DeviceOutSpeaker), 2)
	assert.Len(t, c.WithSourceDevice(audio.DeviceInTelephonyRx), 1)
	assert.Empty(t, c.WithSourceDevice(audio.DeviceInBuiltinMic))

	require.NoError(t, c.Remove(1))
	assert.Equal(t, uint32(3), c.Generation())
	assert.ErrorIs(t, c.Remove(1), ErrPatchNotFound)
	assert.Equal(t, uint32(3), c.Generation(), "failed removal leaves the generation alone")

	_, ok := c.Get(audio.PatchHandleNone)
	assert.False(t, ok)
	assert.Len(t, c.Patches(), 1)
}
