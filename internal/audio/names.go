package audio

import (
	"fmt"
	"strings"
)

var usageNames = [...]string{
	"unknown", "media", "voice_communication", "voice_communication_signalling",
	"alarm", "notification", "notification_telephony_ringtone",
	"notification_communication_request", "notification_communication_instant",
	"notification_communication_delayed", "notification_event",
	"assistance_accessibility", "assistance_navigation_guidance",
	"assistance_sonification", "game", "virtual_source", "assistant",
}

func (u Usage) String() string {
	if u.IsValid() {
		return usageNames[u]
	}
	return fmt.Sprintf("usage(%d)", int(u))
}

var forceUseNames = [...]string{
	"communication", "media", "record", "dock", "system",
	"hdmi_system_audio", "encoded_surround", "vibrate_ringing",
}

func (f ForceUse) String() string {
	if f >= 0 && int(f) < len(forceUseNames) {
		return forceUseNames[f]
	}
	return fmt.Sprintf("force_use(%d)", int(f))
}

var forcedConfigNames = [...]string{
	"none", "speaker", "headphones", "bt_sco", "bt_a2dp", "wired_accessory",
	"bt_car_dock", "bt_desk_dock", "analog_dock", "digital_dock", "no_bt_a2dp",
	"system_enforced", "hdmi_system_audio_enforced", "encoded_surround_never",
	"encoded_surround_always", "encoded_surround_manual",
}

func (c ForcedConfig) String() string {
	if c >= 0 && int(c) < len(forcedConfigNames) {
		return forcedConfigNames[c]
	}
	return fmt.Sprintf("forced_config(%d)", int(c))
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func lookup[T ~int](names []string, name string) (T, bool) {
	name = normalize(name)
	for i, n := range names {
		if n == name {
			return T(i), true
		}
	}
	return 0, false
}

// ParseStream resolves a stream name as printed by String.
func ParseStream(name string) (Stream, bool) {
	return lookup[Stream](streamNames[:], name)
}

// ParseUsage resolves a usage name as printed by String.
func ParseUsage(name string) (Usage, bool) {
	return lookup[Usage](usageNames[:], name)
}

// ParseForceUse resolves a force use category name.
func ParseForceUse(name string) (ForceUse, bool) {
	return lookup[ForceUse](forceUseNames[:], name)
}

// ParseForcedConfig resolves a forced configuration name.
func ParseForcedConfig(name string) (ForcedConfig, bool) {
	return lookup[ForcedConfig](forcedConfigNames[:], name)
}

// ParseSource resolves a capture source name as printed by String.
func ParseSource(name string) (Source, bool) {
	name = normalize(name)
	for s, n := range sourceNames {
		if n == name {
			return s, true
		}
	}
	return SourceDefault, false
}

// ParseMode resolves a settable phone state name.
func ParseMode(name string) (Mode, bool) {
	name = normalize(name)
	for m := ModeNormal; m < modeCount; m++ {
		if m.String() == name {
			return m, true
		}
	}
	return ModeNormal, false
}

// ParseDeviceState accepts available/unavailable and connected/disconnected.
func ParseDeviceState(name string) (DeviceState, bool) {
	switch normalize(name) {
	case "available", "connected":
		return DeviceStateAvailable, true
	case "unavailable", "disconnected":
		return DeviceStateUnavailable, true
	}
	return DeviceStateUnavailable, false
}
