package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamForAttributes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		attr Attributes
		want Stream
	}{
		{"media", Attributes{Usage: UsageMedia}, StreamMusic},
		{"game", Attributes{Usage: UsageGame}, StreamMusic},
		{"ringtone", Attributes{Usage: UsageNotificationTelephonyRingtone}, StreamRing},
		{"voip", Attributes{Usage: UsageVoiceCommunication}, StreamVoiceCall},
		{"enforced", Attributes{Usage: UsageMedia, Flags: AttrFlagAudibilityEnforced}, StreamEnforcedAudible},
		{"sco", Attributes{Usage: UsageMedia, Flags: AttrFlagSCO}, StreamBluetoothSCO},
		{"beacon", Attributes{Flags: AttrFlagBeacon}, StreamTTS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StreamForAttributes(tt.attr))
		})
	}
}

func TestUsageForStreamRoundTrip(t *testing.T) {
	t.Parallel()

	for s := StreamVoiceCall; s < StreamPublicCount; s++ {
		assert.Equal(t, s, StreamForAttributes(UsageForStream(s)), s.String())
	}
}

func TestEnumNames(t *testing.T) {
	t.Parallel()

	stream, ok := ParseStream("music")
	assert.True(t, ok)
	assert.Equal(t, StreamMusic, stream)

	usage, ok := ParseUsage("assistance_sonification")
	assert.True(t, ok)
	assert.Equal(t, UsageAssistanceSonification, usage)
	assert.Equal(t, "game", UsageGame.String())

	source, ok := ParseSource("HOTWORD")
	assert.True(t, ok)
	assert.Equal(t, SourceHotword, source)

	mode, ok := ParseMode("in_call")
	assert.True(t, ok)
	assert.Equal(t, ModeInCall, mode)
	_, ok = ParseMode("current")
	assert.False(t, ok)

	usageCat, ok := ParseForceUse("encoded_surround")
	assert.True(t, ok)
	assert.Equal(t, ForceForEncodedSurround, usageCat)
	config, ok := ParseForcedConfig("no_bt_a2dp")
	assert.True(t, ok)
	assert.Equal(t, ForceNoBTA2DP, config)
	assert.Equal(t, "speaker", ForceSpeaker.String())

	_, ok = ParseUsage("")
	assert.False(t, ok)
}

func TestSourcePriority(t *testing.T) {
	t.Parallel()

	assert.Greater(t, SourceVoiceCommunication.Priority(), SourceCamcorder.Priority())
	assert.Greater(t, SourceCamcorder.Priority(), SourceVoiceRecognition.Priority())
	assert.Greater(t, SourceVoiceRecognition.Priority(), SourceHotword.Priority())
	assert.True(t, ModeInCommunication.IsInCall())
	assert.False(t, ModeRingtone.IsInCall())
}
