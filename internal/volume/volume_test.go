package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/audio"
)

func TestCurveIndexToDb(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		curve Curve
		index int
		want  float64
	}{
		{"max index", MediaCurve, 15, 0},
		{"clamped above", MediaCurve, 30, 0},
		{"zero mutes", MediaCurve, 0, MinDb},
		{"exact point", SpeakerCurve, 3, -34.0},
		{"interpolated", SpeakerCurve, 6, -34.0 + 20*(23.0/40.0)},
		{"non mutable floor", NonMutableCurve, 0, -58.0},
		{"full scale", FullScaleCurve, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, tt.curve.IndexToDb(tt.index, 0, 15), 0.01)
		})
	}
	assert.InDelta(t, MinDb, Curve(nil).IndexToDb(3, 0, 15), 0.01)
}

func TestDbToAmpl(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 1.0, DbToAmpl(0), 1e-9)
	assert.InDelta(t, 0.5012, DbToAmpl(-6), 1e-3)
	assert.Zero(t, DbToAmpl(MinDb))
}

func TestDeviceForVolume(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		device audio.DeviceType
		want   audio.DeviceType
	}{
		{"none is speaker", audio.DeviceNone, audio.DeviceOutSpeaker},
		{"speaker wins", audio.DeviceOutSpeaker | audio.DeviceOutWiredHeadset, audio.DeviceOutSpeaker},
		{"safe speaker aliases speaker", audio.DeviceOutSpeakerSafe, audio.DeviceOutSpeaker},
		{"arc before a2dp", audio.DeviceOutHDMIArc | audio.DeviceOutBluetoothA2DP, audio.DeviceOutHDMIArc},
		{"a2dp of a duplicated output", audio.DeviceOutUSBDevice | audio.DeviceOutBluetoothA2DP, audio.DeviceOutBluetoothA2DP},
		{"single device", audio.DeviceOutWiredHeadset, audio.DeviceOutWiredHeadset},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeviceForVolume(tt.device), tt.name)
	}
}

func TestCategoryForDevice(t *testing.T) {
	t.Parallel()
	assert.Equal(t, CategoryEarpiece, CategoryForDevice(audio.DeviceOutEarpiece))
	assert.Equal(t, CategoryHeadset, CategoryForDevice(audio.DeviceOutBluetoothA2DP))
	assert.Equal(t, CategoryExtMedia, CategoryForDevice(audio.DeviceOutHDMI))
	assert.Equal(t, CategoryHearingAid, CategoryForDevice(audio.DeviceOutHearingAid))
	assert.Equal(t, CategorySpeaker, CategoryForDevice(audio.DeviceOutSpeaker|audio.DeviceOutWiredHeadset))
	assert.Equal(t, CategorySpeaker, CategoryForDevice(audio.DeviceOutRemoteSubmix))
}

func TestTableIndexes(t *testing.T) {
	t.Parallel()
	tbl := NewTable()
	require.NoError(t, tbl.InitStream(audio.StreamMusic, 0, 25))
	assert.Equal(t, 25, tbl.IndexMax(audio.StreamMusic))
	assert.ErrorIs(t, tbl.InitStream(audio.StreamMusic, 5, 5), ErrInvalidRange)
	assert.ErrorIs(t, tbl.InitStream(audio.StreamCount, 0, 5), ErrInvalidRange)

	def := tbl.Index(audio.StreamMusic, audio.DeviceOutSpeaker)
	assert.False(t, tbl.HasIndexForDevice(audio.StreamMusic, audio.DeviceOutSpeaker))

	tbl.SetIndex(audio.StreamMusic, audio.DeviceOutSpeakerSafe, 20)
	assert.True(t, tbl.HasIndexForDevice(audio.StreamMusic, audio.DeviceOutSpeaker))
	assert.Equal(t, 20, tbl.Index(audio.StreamMusic, audio.DeviceOutSpeaker))
	assert.Equal(t, def, tbl.Index(audio.StreamMusic, audio.DeviceOutWiredHeadset))

	tbl.SetIndex(audio.StreamMusic, DefaultForVolume, 3)
	assert.Equal(t, 3, tbl.Index(audio.StreamMusic, audio.DeviceOutWiredHeadset))
}

func TestTableCurveSwitch(t *testing.T) {
	t.Parallel()
	tbl := NewTable()
	require.NoError(t, tbl.InitStream(audio.StreamDTMF, 0, 15))
	require.NoError(t, tbl.InitStream(audio.StreamVoiceCall, 0, 15))

	before := tbl.IndexToDb(audio.StreamDTMF, CategorySpeaker, 8)
	call := tbl.IndexToDb(audio.StreamVoiceCall, CategorySpeaker, 8)
	require.NotEqual(t, before, call)

	tbl.SwitchCurve(audio.StreamVoiceCall, audio.StreamDTMF)
	assert.InDelta(t, call, tbl.IndexToDb(audio.StreamDTMF, CategorySpeaker, 8), 1e-9)

	tbl.RestoreCurve(audio.StreamDTMF)
	assert.InDelta(t, before, tbl.IndexToDb(audio.StreamDTMF, CategorySpeaker, 8), 1e-9)

	assert.True(t, tbl.CanBeMuted(audio.StreamMusic))
	assert.False(t, tbl.CanBeMuted(audio.StreamPatch))
	assert.InDelta(t, MinDb, tbl.IndexToDb(audio.StreamMusic, DeviceCategory(99), 5), 1e-9)
}
