package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/hal/simhal"
)

var hdmiCapabilities = simhal.Capabilities{
	Formats:     "pcm_16|ac3|eac3",
	SampleRates: "48000",
	Channels:    "0x3|0x3F",
}

func connectHDMI(t *testing.T, env *testEnv) {
	t.Helper()
	env.sim.SetCapabilities(audio.DeviceOutHDMI, hdmiCapabilities)
	require.NoError(t, env.m.SetDeviceConnectionState(audio.DeviceOutHDMI, audio.DeviceStateAvailable, "", "TV"))
}

func TestSurroundFormatsRequireHDMI(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	_, err := m.GetSurroundFormats(false)
	require.ErrorIs(t, err, ErrInvalidOperation)
}

func TestReportedSurroundFormats(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	connectHDMI(t, env)

	reported, err := env.m.GetSurroundFormats(true)
	require.NoError(t, err)
	assert.Contains(t, reported, SurroundFormat{Format: audio.FormatAC3, Enabled: true})
	assert.Contains(t, reported, SurroundFormat{Format: audio.FormatEAC3, Enabled: true})
	for _, f := range reported {
		assert.NotEqual(t, audio.FormatDTS, f.Format, "the sink does not report dts")
	}

	all, err := env.m.GetSurroundFormats(false)
	require.NoError(t, err)
	assert.Len(t, all, len(audio.SurroundFormats))
	assert.Contains(t, all, SurroundFormat{Format: audio.FormatDTS, Enabled: false})
}

func TestManualSurroundFormatSelection(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m
	connectHDMI(t, env)

	err := m.SetSurroundFormatEnabled(audio.FormatDTS, true)
	require.ErrorIs(t, err, ErrInvalidOperation, "only in manual mode")

	require.NoError(t, m.SetForceUse(audio.ForceForEncodedSurround, audio.ForceEncodedSurroundManual))
	gen := m.PortGeneration()
	require.NoError(t, m.SetSurroundFormatEnabled(audio.FormatDTS, true))
	assert.Greater(t, m.PortGeneration(), gen)

	all, err := m.GetSurroundFormats(false)
	require.NoError(t, err)
	assert.Contains(t, all, SurroundFormat{Format: audio.FormatDTS, Enabled: true})
	assert.Equal(t, audio.DeviceStateAvailable, m.GetDeviceConnectionState(audio.DeviceOutHDMI, ""))

	// Enabling twice changes nothing.
	gen = m.PortGeneration()
	require.NoError(t, m.SetSurroundFormatEnabled(audio.FormatDTS, true))
	assert.Equal(t, gen, m.PortGeneration())

	require.NoError(t, m.SetSurroundFormatEnabled(audio.FormatDTS, false))
	all, err = m.GetSurroundFormats(false)
	require.NoError(t, err)
	assert.Contains(t, all, SurroundFormat{Format: audio.FormatDTS, Enabled: false})

	err = m.SetSurroundFormatEnabled(audio.FormatPCM16Bit, true)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSurroundNeverDropsEncodedFormats(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m
	require.NoError(t, m.SetForceUse(audio.ForceForEncodedSurround, audio.ForceEncodedSurroundNever))
	connectHDMI(t, env)

	reported, err := m.GetSurroundFormats(true)
	require.NoError(t, err)
	assert.Empty(t, reported)
}
