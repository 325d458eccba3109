package volume

import (
	"github.com/tphakala/audiopolicy/internal/audio"
)

// DeviceCategory groups devices sharing a curve.
type DeviceCategory int

const (
	CategoryHeadset DeviceCategory = iota
	CategorySpeaker
	CategoryEarpiece
	CategoryExtMedia
	CategoryHearingAid
	categoryCount
)

func (c DeviceCategory) String() string {
	switch c {
	case CategoryHeadset:
		return "headset"
	case CategorySpeaker:
		return "speaker"
	case CategoryEarpiece:
		return "earpiece"
	case CategoryExtMedia:
		return "ext_media"
	case CategoryHearingAid:
		return "hearing_aid"
	}
	return "unknown"
}

// DeviceForVolume reduces a multi-device selection to the one device whose
// volume applies: speaker first, then the digital sinks, then A2DP.
func DeviceForVolume(device audio.DeviceType) audio.DeviceType {
	switch {
	case device == audio.DeviceNone:
		device = audio.DeviceOutSpeaker
	case device.Count() > 1:
		switch {
		case device&audio.DeviceOutSpeaker != 0:
			device = audio.DeviceOutSpeaker
		case device&audio.DeviceOutSpeakerSafe != 0:
			device = audio.DeviceOutSpeakerSafe
		case device&audio.DeviceOutHDMIArc != 0:
			device = audio.DeviceOutHDMIArc
		case device&audio.DeviceOutAuxLine != 0:
			device = audio.DeviceOutAuxLine
		case device&audio.DeviceOutSPDIF != 0:
			device = audio.DeviceOutSPDIF
		default:
			device &= audio.DeviceOutAllA2DP
		}
	}
	if device == audio.DeviceOutSpeakerSafe {
		device = audio.DeviceOutSpeaker
	}
	return device
}

// CategoryForDevice returns the curve category of device.
func CategoryForDevice(device audio.DeviceType) DeviceCategory {
	switch DeviceForVolume(device) {
	case audio.DeviceOutEarpiece:
		return CategoryEarpiece
	case audio.DeviceOutWiredHeadset, audio.DeviceOutWiredHeadphone,
		audio.DeviceOutBluetoothSCO, audio.DeviceOutBluetoothSCOHeadset,
		audio.DeviceOutBluetoothA2DP, audio.DeviceOutBluetoothA2DPHeadphone,
		audio.DeviceOutUSBHeadset:
		return CategoryHeadset
	case audio.DeviceOutHearingAid:
		return CategoryHearingAid
	case audio.DeviceOutLine, audio.DeviceOutHDMI, audio.DeviceOutUSBDevice:
		return CategoryExtMedia
	}
	return CategorySpeaker
}
