// conf/consts.go hard coded constants
package conf

import "time"

const (
	DefaultMaxDirectSampleRate = 48000 // PCM at or below this rate prefers mixed outputs
	DefaultCaptureSampleRate   = 48000 // capture rate when a request leaves it unset
	DefaultMuteLatencyFactor   = 4     // temporary mute duration in output latencies

	// SonificationRespectfulAfterMusicDelay keeps media counted as active for a
	// while after it stops, so notifications do not blast on the speaker.
	SonificationRespectfulAfterMusicDelay = 5 * time.Second
)
