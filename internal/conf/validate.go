// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateLogSettings(&settings.Log); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validatePolicySettings(&settings.Policy); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateEventSettings(&settings.Events); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateMQTTSettings(&settings.MQTT); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if settings.History.Enabled && strings.TrimSpace(settings.History.Path) == "" {
		ve.Errors = append(ve.Errors, "history path must be set when history is enabled")
	}

	if settings.Telemetry.Enabled && settings.Telemetry.SentryDSN == "" {
		ve.Errors = append(ve.Errors, "telemetry requires a sentry DSN")
	}

	if settings.Server.Listen != "" {
		if _, _, err := net.SplitHostPort(settings.Server.Listen); err != nil {
			ve.Errors = append(ve.Errors, fmt.Sprintf("invalid server listen address %q: %v", settings.Server.Listen, err))
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateLogSettings(settings *LogSettings) error {
	switch strings.ToLower(settings.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", settings.Level)
	}
	switch strings.ToLower(settings.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q, must be json or text", settings.Format)
	}
	return nil
}

// validatePolicySettings validates the routing policy tuning knobs
func validatePolicySettings(settings *PolicySettings) error {
	var errs []string

	if settings.MaxDirectSampleRate == 0 {
		errs = append(errs, "policy max direct sample rate must be greater than 0")
	}
	if settings.DefaultCaptureSampleRate == 0 {
		errs = append(errs, "policy default capture sample rate must be greater than 0")
	}
	if settings.MuteLatencyFactor < 1 {
		errs = append(errs, "policy mute latency factor must be at least 1")
	}
	if settings.SonificationDelay < 0 || settings.RecentlyActiveWindow < 0 {
		errs = append(errs, "policy delays must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("policy settings errors: %v", errs)
	}
	return nil
}

func validateEventSettings(settings *EventSettings) error {
	if settings.BufferSize <= 0 {
		return fmt.Errorf("events buffer size must be greater than 0")
	}
	if settings.Workers <= 0 {
		return fmt.Errorf("events workers must be greater than 0")
	}
	if settings.DedupTTL < 0 {
		return fmt.Errorf("events dedup ttl must not be negative")
	}
	return nil
}

// validateMQTTSettings validates the MQTT settings
func validateMQTTSettings(settings *MQTTSettings) error {
	if !settings.Enabled {
		return nil
	}
	u, err := url.Parse(settings.Broker)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid MQTT broker %q", settings.Broker)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts":
	default:
		return fmt.Errorf("unsupported MQTT broker scheme %q", u.Scheme)
	}
	if settings.Topic == "" {
		return fmt.Errorf("MQTT topic must be set")
	}
	if settings.QoS > 2 {
		return fmt.Errorf("MQTT QoS must be 0, 1 or 2")
	}
	return nil
}
