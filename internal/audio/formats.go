package audio

import (
	"fmt"
	"math/bits"
)

// Format is an audio sample or bitstream format.
type Format uint32

const (
	FormatDefault Format = 0
	FormatInvalid Format = 0xFFFFFFFF

	FormatMainMask Format = 0xFF000000

	FormatPCM16Bit       Format = 0x1
	FormatPCM8Bit        Format = 0x2
	FormatPCM32Bit       Format = 0x3
	FormatPCM8_24Bit     Format = 0x4
	FormatPCMFloat       Format = 0x5
	FormatPCM24BitPacked Format = 0x6

	FormatMP3         Format = 0x01000000
	FormatAAC         Format = 0x04000000
	FormatOpus        Format = 0x08000000
	FormatAC3         Format = 0x09000000
	FormatEAC3        Format = 0x0A000000
	FormatDTS         Format = 0x0B000000
	FormatDTSHD       Format = 0x0C000000
	FormatIEC61937    Format = 0x0D000000
	FormatDolbyTrueHD Format = 0x0E000000
	FormatEAC3JOC     Format = 0x12000000
	FormatAC4         Format = 0x22000000
)

// SurroundFormats lists the encoded formats exposed through the surround
// sound settings.
var SurroundFormats = []Format{
	FormatAC3,
	FormatEAC3,
	FormatDTS,
	FormatDTSHD,
	FormatAAC,
	FormatDolbyTrueHD,
	FormatEAC3JOC,
	FormatAC4,
}

// IsLinearPCM reports whether f is an uncompressed PCM format.
func (f Format) IsLinearPCM() bool {
	return f != FormatInvalid && f&FormatMainMask == 0
}

// IsValid reports whether f names a concrete format.
func (f Format) IsValid() bool {
	return f != FormatInvalid && f != FormatDefault
}

// IsSurround reports whether f is one of the encoded surround formats.
func (f Format) IsSurround() bool {
	for _, s := range SurroundFormats {
		if f == s {
			return true
		}
	}
	return false
}

// BytesPerSample returns the container size of a PCM sample, 1 for bitstreams.
func (f Format) BytesPerSample() int {
	switch f {
	case FormatPCM8Bit:
		return 1
	case FormatPCM16Bit, FormatDefault:
		return 2
	case FormatPCM24BitPacked:
		return 3
	case FormatPCM32Bit, FormatPCM8_24Bit, FormatPCMFloat:
		return 4
	}
	return 1
}

// FormatsMatch reports whether a and b are the same format. The PCM
// default matches 16 bit PCM.
func FormatsMatch(a, b Format) bool {
	if a == FormatDefault {
		a = FormatPCM16Bit
	}
	if b == FormatDefault {
		b = FormatPCM16Bit
	}
	return a == b
}

// IsBetterFormatMatch reports whether candidate is closer to target than
// current. Ties in distance prefer the candidate no wider than the target.
func IsBetterFormatMatch(candidate, current, target Format) bool {
	if candidate == current {
		return false
	}
	if current == FormatInvalid {
		return true
	}
	if candidate == target {
		return true
	}
	currentDiff := target.BytesPerSample() - current.BytesPerSample()
	candidateDiff := target.BytesPerSample() - candidate.BytesPerSample()
	switch {
	case abs(candidateDiff) < abs(currentDiff):
		return true
	case abs(candidateDiff) == abs(currentDiff):
		return candidateDiff >= 0
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (f Format) String() string {
	switch f {
	case FormatDefault:
		return "default"
	case FormatInvalid:
		return "invalid"
	case FormatPCM16Bit:
		return "pcm_16"
	case FormatPCM8Bit:
		return "pcm_8"
	case FormatPCM32Bit:
		return "pcm_32"
	case FormatPCM8_24Bit:
		return "pcm_8_24"
	case FormatPCMFloat:
		return "pcm_float"
	case FormatPCM24BitPacked:
		return "pcm_24_packed"
	case FormatMP3:
		return "mp3"
	case FormatAAC:
		return "aac"
	case FormatOpus:
		return "opus"
	case FormatAC3:
		return "ac3"
	case FormatEAC3:
		return "eac3"
	case FormatDTS:
		return "dts"
	case FormatDTSHD:
		return "dts_hd"
	case FormatIEC61937:
		return "iec61937"
	case FormatDolbyTrueHD:
		return "dolby_truehd"
	case FormatEAC3JOC:
		return "eac3_joc"
	case FormatAC4:
		return "ac4"
	}
	return fmt.Sprintf("format(0x%x)", uint32(f))
}

// ChannelMask describes the channel layout of a stream.
type ChannelMask uint32

const (
	ChannelNone    ChannelMask = 0
	ChannelInvalid ChannelMask = 0xC0000000

	ChannelOutMono           ChannelMask = 0x1
	ChannelOutStereo         ChannelMask = 0x3
	ChannelOutQuad           ChannelMask = 0x33
	ChannelOut5Point1        ChannelMask = 0x3F
	ChannelOut7Point1        ChannelMask = 0x63F
	ChannelInMono            ChannelMask = 0x10
	ChannelInStereo          ChannelMask = 0xC
	ChannelInFrontBack       ChannelMask = 0x30
	ChannelInVoiceUplinkMono ChannelMask = 0x4010
)

// Count returns the number of channels in the mask.
func (c ChannelMask) Count() int {
	if c == ChannelInvalid {
		return 0
	}
	return bits.OnesCount32(uint32(c))
}

// IsValid reports whether the mask is usable for stream configuration.
func (c ChannelMask) IsValid() bool {
	return c != ChannelInvalid && c != ChannelNone
}

// Config is a requested or negotiated stream configuration.
type Config struct {
	SampleRate  uint32      `yaml:"sample_rate" json:"sample_rate"`
	ChannelMask ChannelMask `yaml:"channel_mask" json:"channel_mask"`
	Format      Format      `yaml:"format" json:"format"`
}

// OffloadInfo describes a compressed stream candidate for hardware offload.
type OffloadInfo struct {
	SampleRate  uint32
	ChannelMask ChannelMask
	Format      Format
	Stream      Stream
	BitRate     uint32
	DurationUs  int64
	HasVideo    bool
	IsStreaming bool
}

const (
	// SampleRateHzMax is the highest rate a mixed output can resample from.
	SampleRateHzMax uint32 = 192000
	// SampleRateHzDefault is used for capture when the caller leaves the rate unset.
	SampleRateHzDefault uint32 = 48000
)

// ParseFormat resolves a format name as printed by String.
func ParseFormat(name string) (Format, bool) {
	for _, f := range knownFormats {
		if f.String() == name {
			return f, true
		}
	}
	return FormatInvalid, false
}

var knownFormats = []Format{
	FormatPCM16Bit, FormatPCM8Bit, FormatPCM32Bit, FormatPCM8_24Bit, FormatPCMFloat,
	FormatPCM24BitPacked, FormatMP3, FormatAAC, FormatOpus, FormatAC3, FormatEAC3,
	FormatDTS, FormatDTSHD, FormatIEC61937, FormatDolbyTrueHD, FormatEAC3JOC, FormatAC4,
}
