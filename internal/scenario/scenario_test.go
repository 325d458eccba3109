package scenario

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/errors"
)

func TestLoadScenario(t *testing.T) {
	t.Parallel()

	s, err := Load(filepath.Join("testdata", "headset_call.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "headset call", s.Name)
	require.Len(t, s.Steps, 10)
	assert.Equal(t, ActionPlay, s.Steps[0].Action)
	require.NotNil(t, s.Steps[2].Expect)
	assert.Equal(t, "state", s.Steps[2].Expect.Error)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestParseRejectsInvalidScenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"no steps", "name: empty\n"},
		{"unknown action", "steps:\n  - action: dance\n"},
		{"unknown field", "steps:\n  - action: play\n    client: a\n    volume: 3\n"},
		{"play without client", "steps:\n  - action: play\n"},
		{"stop before play", "steps:\n  - action: stop\n    client: a\n"},
		{"stop_record of a player", "steps:\n  - action: play\n    client: a\n  - action: stop_record\n    client: a\n"},
		{"not yaml", "steps: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation), err.Error())
		})
	}
}

func TestRunHeadsetCall(t *testing.T) {
	t.Parallel()

	s, err := Load(filepath.Join("testdata", "headset_call.yaml"))
	require.NoError(t, err)
	m, _, err := NewManager(s)
	require.NoError(t, err)

	report, err := NewRunner(m).Run(t.Context(), s)
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Results, len(s.Steps))
	for _, res := range report.Results {
		assert.True(t, res.Passed, "step %d %s: %s", res.Step, res.Action, res.Failure)
	}
	assert.Zero(t, report.Failed)
	assert.Equal(t, "normal", report.Snapshot.PhoneState)
	assert.Equal(t, audio.DeviceStateUnavailable, m.GetDeviceConnectionState(audio.DeviceOutWiredHeadset, ""))
}

func TestRunRecordsFailedExpectations(t *testing.T) {
	t.Parallel()

	s, err := Parse([]byte(`
name: wrong expectations
steps:
  - action: connect
    device: speaker
  - action: expect_route
    stream: music
    expect:
      device: hdmi
  - action: phone_state
    mode: in_call
    expect:
      error: validation
`))
	require.NoError(t, err)
	m, _, err := NewManager(s)
	require.NoError(t, err)

	report, err := NewRunner(m).Run(t.Context(), s)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Failed)
	assert.Contains(t, report.Results[0].Failure, "state", "the speaker is attached already")
	assert.Contains(t, report.Results[1].Failure, "expected hdmi")
	assert.Contains(t, report.Results[2].Failure, "expected a validation error")
}

func TestRunCapture(t *testing.T) {
	t.Parallel()

	s, err := Parse([]byte(`
name: capture
steps:
  - action: record
    client: mic
    source: mic
  - action: stop_record
    client: mic
  - action: record
    client: bad
    source: whistle
    expect:
      error: validation
`))
	require.NoError(t, err)
	m, _, err := NewManager(s)
	require.NoError(t, err)

	report, err := NewRunner(m).Run(t.Context(), s)
	require.NoError(t, err)
	assert.Zero(t, report.Failed, "%+v", report.Results)
	assert.Empty(t, report.Snapshot.Inputs, "the input closes with its last client")
	assert.Contains(t, report.Results[0].Detail, "mic on input")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	s, err := Parse([]byte("steps:\n  - action: master_mono\n    enabled: true\n"))
	require.NoError(t, err)
	m, _, err := NewManager(s)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	report, err := NewRunner(m).Run(ctx, s)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Results)
	assert.False(t, m.MasterMono())
}

func TestExampleScenariosParse(t *testing.T) {
	t.Parallel()

	files, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		_, err = Parse(data)
		assert.NoError(t, err, f)
	}
}
