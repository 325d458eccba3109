// config.go: settings struct for the audio policy service and functions to load and save it.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/audiopolicy/internal/errors"
)

// LogSettings controls the process wide logger.
type LogSettings struct {
	Level  string // trace, debug, info, warn or error
	Format string // json or text
}

// PolicySettings are the tuning knobs of the routing policy.
type PolicySettings struct {
	MaxDirectSampleRate      uint32        // PCM requests above this rate always go direct
	DefaultCaptureSampleRate uint32        // rate used when an input request leaves it unset
	SpeakerDRCEnabled        bool          // speaker dynamic range compression, selects the volume curve set
	ConcurrentCaptureSupport bool          // capture hardware allows sound trigger next to regular capture
	TTSOutputAvailable       bool          // a dedicated TTS output exists, disables beacon muting
	SonificationDelay        time.Duration // settle time before sonification plays on a switched output
	MuteLatencyFactor        int           // multiplier applied to output latency for temporary mutes
	RecentlyActiveWindow     time.Duration // how long a stopped strategy is still considered active
}

// EventSettings sizes the notification bus.
type EventSettings struct {
	BufferSize int           // buffered notifications before drops start
	Workers    int           // notification dispatch workers
	DedupTTL   time.Duration // identical notifications inside this window are dropped
}

// MetricsSettings toggles the prometheus registry.
type MetricsSettings struct {
	Enabled bool
}

// MQTTSettings configures routing notification publishing.
type MQTTSettings struct {
	Enabled  bool
	Broker   string // tcp://host:1883
	Topic    string // base topic, notifications use <topic>/<kind>
	ClientID string
	Username string
	Password string
	QoS      byte
	Retain   bool
}

// HistorySettings configures the routing history store.
type HistorySettings struct {
	Enabled bool
	Path    string // sqlite database file
}

// TelemetrySettings configures error reporting.
type TelemetrySettings struct {
	Enabled   bool
	SentryDSN string
}

// ServerSettings configures the HTTP inspection API.
type ServerSettings struct {
	Listen string // host:port
}

// Settings contains all configuration options for the audio policy service.
type Settings struct {
	Debug bool // true to enable debug mode

	Log       LogSettings
	Policy    PolicySettings
	Events    EventSettings
	Metrics   MetricsSettings
	MQTT      MQTTSettings
	History   HistorySettings
	Telemetry TelemetrySettings
	Server    ServerSettings
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
// A missing config file is not an error, defaults apply.
func Load() (*Settings, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit configuration file path.
func LoadFile(configPath string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	v := viper.New()
	if err := initViper(v, configPath); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-settings").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error validating settings: %w", err)).
			Category(errors.CategoryValidation).
			Context("operation", "validate-settings").
			Build()
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets defaults and reads the configuration file when one exists.
func initViper(v *viper.Viper, configPath string) error {
	setDefaultConfig(v)

	v.SetEnvPrefix("AUDIOPOLICY")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return err
		}
		for _, path := range configPaths {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.New(fmt.Errorf("fatal error reading config file: %w", err)).
			Category(errors.CategoryFileIO).
			Context("operation", "read-config").
			Build()
	}
	return nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath. The write goes through a temp
// file in the same directory followed by a rename.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "marshal-settings").
			Build()
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.New(err).Category(errors.CategoryFileIO).Context("path", dir).Build()
	}

	tempFile, err := os.CreateTemp(dir, "config-*.yaml")
	if err != nil {
		return errors.New(err).Category(errors.CategoryFileIO).Context("path", dir).Build()
	}
	tempName := tempFile.Name()
	defer os.Remove(tempName) //nolint:errcheck // no-op after a successful rename

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return errors.New(err).Category(errors.CategoryFileIO).Context("path", tempName).Build()
	}
	if err := tempFile.Close(); err != nil {
		return errors.New(err).Category(errors.CategoryFileIO).Context("path", tempName).Build()
	}
	if err := os.Rename(tempName, configPath); err != nil {
		return errors.New(err).Category(errors.CategoryFileIO).Context("path", configPath).Build()
	}
	return nil
}
