// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("policy.maxdirectsamplerate", DefaultMaxDirectSampleRate)
	v.SetDefault("policy.defaultcapturesamplerate", DefaultCaptureSampleRate)
	v.SetDefault("policy.speakerdrcenabled", false)
	v.SetDefault("policy.concurrentcapturesupport", false)
	v.SetDefault("policy.ttsoutputavailable", false)
	v.SetDefault("policy.sonificationdelay", 0*time.Millisecond)
	v.SetDefault("policy.mutelatencyfactor", DefaultMuteLatencyFactor)
	v.SetDefault("policy.recentlyactivewindow", SonificationRespectfulAfterMusicDelay)

	v.SetDefault("events.buffersize", 1000)
	v.SetDefault("events.workers", 2)
	v.SetDefault("events.dedupttl", 50*time.Millisecond)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "audiopolicy")
	v.SetDefault("mqtt.clientid", "audiopolicy")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.path", "audiopolicy.db")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.sentrydsn", "")

	v.SetDefault("server.listen", "127.0.0.1:8089")
}
