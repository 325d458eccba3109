// Package audio defines the vocabulary shared by every policy component: device
// type bitmasks, sample formats, channel masks, stream and source enumerations,
// I/O flags and the port/patch structures exchanged with the hardware client.
package audio

import (
	"fmt"
	"math/bits"
	"strings"
)

// DeviceType is a bitmask of audio device types. Output types never carry
// DeviceBitIn, input types always do.
type DeviceType uint32

const (
	DeviceNone       DeviceType = 0
	DeviceBitIn      DeviceType = 0x80000000
	DeviceBitDefault DeviceType = 0x40000000

	DeviceOutEarpiece               DeviceType = 0x1
	DeviceOutSpeaker                DeviceType = 0x2
	DeviceOutWiredHeadset           DeviceType = 0x4
	DeviceOutWiredHeadphone         DeviceType = 0x8
	DeviceOutBluetoothSCO           DeviceType = 0x10
	DeviceOutBluetoothSCOHeadset    DeviceType = 0x20
	DeviceOutBluetoothSCOCarkit     DeviceType = 0x40
	DeviceOutBluetoothA2DP          DeviceType = 0x80
	DeviceOutBluetoothA2DPHeadphone DeviceType = 0x100
	DeviceOutBluetoothA2DPSpeaker   DeviceType = 0x200
	DeviceOutHDMI                   DeviceType = 0x400
	DeviceOutAnalogDockHeadset      DeviceType = 0x800
	DeviceOutDigitalDockHeadset     DeviceType = 0x1000
	DeviceOutUSBAccessory           DeviceType = 0x2000
	DeviceOutUSBDevice              DeviceType = 0x4000
	DeviceOutRemoteSubmix           DeviceType = 0x8000
	DeviceOutTelephonyTx            DeviceType = 0x10000
	DeviceOutLine                   DeviceType = 0x20000
	DeviceOutHDMIArc                DeviceType = 0x40000
	DeviceOutSPDIF                  DeviceType = 0x80000
	DeviceOutFM                     DeviceType = 0x100000
	DeviceOutAuxLine                DeviceType = 0x200000
	DeviceOutSpeakerSafe            DeviceType = 0x400000
	DeviceOutIP                     DeviceType = 0x800000
	DeviceOutBus                    DeviceType = 0x1000000
	DeviceOutProxy                  DeviceType = 0x2000000
	DeviceOutUSBHeadset             DeviceType = 0x4000000
	DeviceOutHearingAid             DeviceType = 0x8000000
	DeviceOutEchoCanceller          DeviceType = 0x10000000
	DeviceOutDefault                DeviceType = DeviceBitDefault
	// DeviceOutStub marks placeholder devices that are never reported to clients.
	DeviceOutStub DeviceType = DeviceBitDefault

	DeviceInCommunication       DeviceType = DeviceBitIn | 0x1
	DeviceInAmbient             DeviceType = DeviceBitIn | 0x2
	DeviceInBuiltinMic          DeviceType = DeviceBitIn | 0x4
	DeviceInBluetoothSCOHeadset DeviceType = DeviceBitIn | 0x8
	DeviceInWiredHeadset        DeviceType = DeviceBitIn | 0x10
	DeviceInHDMI                DeviceType = DeviceBitIn | 0x20
	DeviceInTelephonyRx         DeviceType = DeviceBitIn | 0x40
	DeviceInBackMic             DeviceType = DeviceBitIn | 0x80
	DeviceInRemoteSubmix        DeviceType = DeviceBitIn | 0x100
	DeviceInAnalogDockHeadset   DeviceType = DeviceBitIn | 0x200
	DeviceInDigitalDockHeadset  DeviceType = DeviceBitIn | 0x400
	DeviceInUSBAccessory        DeviceType = DeviceBitIn | 0x800
	DeviceInUSBDevice           DeviceType = DeviceBitIn | 0x1000
	DeviceInFMTuner             DeviceType = DeviceBitIn | 0x2000
	DeviceInTVTuner             DeviceType = DeviceBitIn | 0x4000
	DeviceInLine                DeviceType = DeviceBitIn | 0x8000
	DeviceInSPDIF               DeviceType = DeviceBitIn | 0x10000
	DeviceInBluetoothA2DP       DeviceType = DeviceBitIn | 0x20000
	DeviceInLoopback            DeviceType = DeviceBitIn | 0x40000
	DeviceInIP                  DeviceType = DeviceBitIn | 0x80000
	DeviceInBus                 DeviceType = DeviceBitIn | 0x100000
	DeviceInProxy               DeviceType = DeviceBitIn | 0x1000000
	DeviceInUSBHeadset          DeviceType = DeviceBitIn | 0x2000000
	DeviceInEchoReference       DeviceType = DeviceBitIn | 0x10000000
	DeviceInDefault             DeviceType = DeviceBitIn | DeviceBitDefault
	DeviceInStub                DeviceType = DeviceInDefault

	// DeviceInVoiceCall is the telephony downlink capture device.
	DeviceInVoiceCall = DeviceInTelephonyRx
)

// Device groups used by routing rules.
const (
	DeviceOutAllA2DP = DeviceOutBluetoothA2DP | DeviceOutBluetoothA2DPHeadphone | DeviceOutBluetoothA2DPSpeaker
	DeviceOutAllSCO  = DeviceOutBluetoothSCO | DeviceOutBluetoothSCOHeadset | DeviceOutBluetoothSCOCarkit
	DeviceOutAllUSB  = DeviceOutUSBAccessory | DeviceOutUSBDevice | DeviceOutUSBHeadset
	DeviceInAllSCO   = DeviceInBluetoothSCOHeadset
	DeviceInAllUSB   = DeviceInUSBAccessory | DeviceInUSBDevice | DeviceInUSBHeadset
)

var outputDeviceNames = map[DeviceType]string{
	DeviceOutEarpiece:               "earpiece",
	DeviceOutSpeaker:                "speaker",
	DeviceOutWiredHeadset:           "wired_headset",
	DeviceOutWiredHeadphone:         "wired_headphone",
	DeviceOutBluetoothSCO:           "bt_sco",
	DeviceOutBluetoothSCOHeadset:    "bt_sco_headset",
	DeviceOutBluetoothSCOCarkit:     "bt_sco_carkit",
	DeviceOutBluetoothA2DP:          "bt_a2dp",
	DeviceOutBluetoothA2DPHeadphone: "bt_a2dp_headphone",
	DeviceOutBluetoothA2DPSpeaker:   "bt_a2dp_speaker",
	DeviceOutHDMI:                   "hdmi",
	DeviceOutAnalogDockHeadset:      "analog_dock",
	DeviceOutDigitalDockHeadset:     "digital_dock",
	DeviceOutUSBAccessory:           "usb_accessory",
	DeviceOutUSBDevice:              "usb_device",
	DeviceOutRemoteSubmix:           "remote_submix",
	DeviceOutTelephonyTx:            "telephony_tx",
	DeviceOutLine:                   "line",
	DeviceOutHDMIArc:                "hdmi_arc",
	DeviceOutSPDIF:                  "spdif",
	DeviceOutFM:                     "fm",
	DeviceOutAuxLine:                "aux_line",
	DeviceOutSpeakerSafe:            "speaker_safe",
	DeviceOutIP:                     "ip",
	DeviceOutBus:                    "bus",
	DeviceOutProxy:                  "proxy",
	DeviceOutUSBHeadset:             "usb_headset",
	DeviceOutHearingAid:             "hearing_aid",
	DeviceOutEchoCanceller:          "echo_canceller",
	DeviceOutStub:                   "stub",
}

var inputDeviceNames = map[DeviceType]string{
	DeviceInCommunication:       "in_communication",
	DeviceInAmbient:             "in_ambient",
	DeviceInBuiltinMic:          "in_builtin_mic",
	DeviceInBluetoothSCOHeadset: "in_bt_sco_headset",
	DeviceInWiredHeadset:        "in_wired_headset",
	DeviceInHDMI:                "in_hdmi",
	DeviceInTelephonyRx:         "in_telephony_rx",
	DeviceInBackMic:             "in_back_mic",
	DeviceInRemoteSubmix:        "in_remote_submix",
	DeviceInAnalogDockHeadset:   "in_analog_dock",
	DeviceInDigitalDockHeadset:  "in_digital_dock",
	DeviceInUSBAccessory:        "in_usb_accessory",
	DeviceInUSBDevice:           "in_usb_device",
	DeviceInFMTuner:             "in_fm_tuner",
	DeviceInTVTuner:             "in_tv_tuner",
	DeviceInLine:                "in_line",
	DeviceInSPDIF:               "in_spdif",
	DeviceInBluetoothA2DP:       "in_bt_a2dp",
	DeviceInLoopback:            "in_loopback",
	DeviceInIP:                  "in_ip",
	DeviceInBus:                 "in_bus",
	DeviceInProxy:               "in_proxy",
	DeviceInUSBHeadset:          "in_usb_headset",
	DeviceInEchoReference:       "in_echo_reference",
	DeviceInStub:                "in_stub",
}

// IsInput reports whether d is exactly one input device type.
func (d DeviceType) IsInput() bool {
	return d&DeviceBitIn != 0 && bits.OnesCount32(uint32(d&^DeviceBitIn)) == 1
}

// IsOutput reports whether d is exactly one output device type.
func (d DeviceType) IsOutput() bool {
	return d&DeviceBitIn == 0 && bits.OnesCount32(uint32(d)) == 1
}

// Count returns the number of device types in the mask, ignoring the input bit.
func (d DeviceType) Count() int {
	return bits.OnesCount32(uint32(d &^ DeviceBitIn))
}

// Has reports whether every type in other is present in d.
func (d DeviceType) Has(other DeviceType) bool {
	if other == DeviceNone {
		return false
	}
	return d&other == other
}

// Intersects reports whether d and other share at least one device type on the
// same direction.
func (d DeviceType) Intersects(other DeviceType) bool {
	if (d & DeviceBitIn) != (other & DeviceBitIn) {
		return false
	}
	return (d&other)&^DeviceBitIn != 0
}

// Split returns the individual device types of the mask, lowest bit first.
func (d DeviceType) Split() []DeviceType {
	in := d & DeviceBitIn
	rest := uint32(d &^ DeviceBitIn)
	out := make([]DeviceType, 0, bits.OnesCount32(rest))
	for rest != 0 {
		bit := rest & -rest
		out = append(out, in|DeviceType(bit))
		rest &^= bit
	}
	return out
}

// IsDigital reports devices whose capabilities are discovered dynamically.
func (d DeviceType) IsDigital() bool {
	if d&DeviceBitIn != 0 {
		return d.Intersects(DeviceInHDMI | DeviceInSPDIF | DeviceInIP | DeviceInAllUSB | DeviceInBus)
	}
	return d.Intersects(DeviceOutHDMI | DeviceOutHDMIArc | DeviceOutSPDIF | DeviceOutIP | DeviceOutAllUSB | DeviceOutBus)
}

// DistinguishesOnAddress reports device types where several instances are told
// apart by their address.
func (d DeviceType) DistinguishesOnAddress() bool {
	if d&DeviceBitIn != 0 {
		return d.Intersects(DeviceInRemoteSubmix | DeviceInBus)
	}
	return d.Intersects(DeviceOutRemoteSubmix | DeviceOutBus)
}

// IsVirtualInput reports capture devices that are not backed by hardware.
func (d DeviceType) IsVirtualInput() bool {
	return d&DeviceBitIn != 0 && d.Intersects(DeviceInRemoteSubmix)
}

// IsA2DP reports whether the mask contains an A2DP output.
func (d DeviceType) IsA2DP() bool {
	return d&DeviceBitIn == 0 && d&DeviceOutAllA2DP != 0
}

// IsSCO reports whether the mask contains a bluetooth SCO device.
func (d DeviceType) IsSCO() bool {
	if d&DeviceBitIn != 0 {
		return d.Intersects(DeviceInAllSCO)
	}
	return d&DeviceOutAllSCO != 0
}

// String renders the mask as a '|' separated list of type names.
func (d DeviceType) String() string {
	if d == DeviceNone {
		return "none"
	}
	names := inputDeviceNames
	if d&DeviceBitIn == 0 {
		names = outputDeviceNames
		if name, ok := names[d]; ok {
			return name
		}
	} else if name, ok := names[d]; ok {
		return name
	}
	parts := make([]string, 0, d.Count())
	for _, t := range d.Split() {
		if name, ok := names[t]; ok {
			parts = append(parts, name)
		} else {
			parts = append(parts, fmt.Sprintf("0x%x", uint32(t)))
		}
	}
	return strings.Join(parts, "|")
}

// ParseDeviceType resolves a device name as printed by String.
func ParseDeviceType(name string) (DeviceType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range outputDeviceNames {
		if n == name {
			return t, true
		}
	}
	for t, n := range inputDeviceNames {
		if n == name {
			return t, true
		}
	}
	return DeviceNone, false
}

// DeviceState is the connection state of a device.
type DeviceState int

const (
	DeviceStateUnavailable DeviceState = iota
	DeviceStateAvailable
)

func (s DeviceState) String() string {
	if s == DeviceStateAvailable {
		return "available"
	}
	return "unavailable"
}
