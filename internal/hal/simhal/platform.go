package simhal

import (
	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/inventory"
)

// PlatformOption adjusts the platform built by DefaultPlatform.
type PlatformOption func(*platform)

type platform struct {
	msd bool
}

// WithMSD adds a multi-stream decoder module in front of the primary sinks.
func WithMSD() PlatformOption {
	return func(p *platform) { p.msd = true }
}

var (
	pcmRates  = []uint32{8000, 16000, 44100, 48000}
	outStereo = []audio.ChannelMask{audio.ChannelOutStereo}
	outMasks  = []audio.ChannelMask{audio.ChannelOutMono, audio.ChannelOutStereo}
	inMasks   = []audio.ChannelMask{audio.ChannelInMono, audio.ChannelInStereo, audio.ChannelInFrontBack}
)

func supports(p *inventory.IOProfile, devices ...*inventory.DeviceDescriptor) *inventory.IOProfile {
	for _, d := range devices {
		p.SupportedDevices = p.SupportedDevices.Add(d)
	}
	return p
}

func withProfiles(p *inventory.IOProfile, profiles ...*inventory.Profile) *inventory.IOProfile {
	p.Profiles = append(p.Profiles, profiles...)
	return p
}

// ModuleNames returns the modules a Sim must be able to load for cfg.
func ModuleNames(cfg *inventory.Config) []string {
	names := make([]string, 0, len(cfg.Modules))
	for _, m := range cfg.Modules {
		names = append(names, m.Name)
	}
	return names
}

// DefaultPlatform describes a phone: a primary module with speaker, earpiece,
// wired headset jack and telephony ports, plus A2DP, USB and remote submix
// modules whose devices appear on connection. Every call returns a fresh
// description.
func DefaultPlatform(opts ...PlatformOption) *inventory.Config {
	var po platform
	for _, opt := range opts {
		opt(&po)
	}

	primary := inventory.NewHwModule(inventory.ModuleNamePrimary)
	primary.DevicePatches = true
	earpiece := primary.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutEarpiece, "", "Earpiece"))
	speaker := primary.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutSpeaker, "", "Speaker"))
	headset := primary.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutWiredHeadset, "", "Wired Headset"))
	headphone := primary.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutWiredHeadphone, "", "Wired Headphones"))
	line := primary.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutLine, "", "Line Out"))
	hdmi := primary.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutHDMI, "", "HDMI"))
	sco := primary.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutBluetoothSCO, "", "BT SCO"))
	scoHeadset := primary.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutBluetoothSCOHeadset, "", "BT SCO Headset"))
	scoCarkit := primary.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutBluetoothSCOCarkit, "", "BT SCO Car Kit"))
	telephonyTx := primary.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutTelephonyTx, "", "Telephony Tx"))
	builtinMic := primary.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceInBuiltinMic, "", "Built-In Mic"))
	backMic := primary.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceInBackMic, "", "Built-In Back Mic"))
	headsetMic := primary.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceInWiredHeadset, "", "Wired Headset Mic"))
	scoMic := primary.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceInBluetoothSCOHeadset, "", "BT SCO Headset Mic"))
	telephonyRx := primary.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceInTelephonyRx, "", "Telephony Rx"))
	fmTuner := primary.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceInFMTuner, "", "FM Tuner"))

	primaryOut := inventory.NewOutputProfile("primary output", audio.OutputFlagPrimary|audio.OutputFlagFast)
	withProfiles(primaryOut, inventory.NewProfile(audio.FormatPCM16Bit, []uint32{48000}, outStereo))
	primary.AddOutputProfile(supports(primaryOut, earpiece, speaker, headset, headphone, line, hdmi, sco, scoHeadset, scoCarkit, telephonyTx))

	deepBuffer := inventory.NewOutputProfile("deep_buffer", audio.OutputFlagDeepBuffer)
	withProfiles(deepBuffer, inventory.NewProfile(audio.FormatPCM16Bit, []uint32{48000}, outStereo))
	primary.AddOutputProfile(supports(deepBuffer, speaker, headset, headphone, line, hdmi))

	offload := inventory.NewOutputProfile("compressed_offload",
		audio.OutputFlagDirect|audio.OutputFlagCompressOffload|audio.OutputFlagNonBlocking)
	withProfiles(offload,
		inventory.NewProfile(audio.FormatMP3, []uint32{44100, 48000}, outMasks),
		inventory.NewProfile(audio.FormatAAC, []uint32{44100, 48000}, outMasks))
	primary.AddOutputProfile(supports(offload, speaker, headset, headphone, line))

	voip := inventory.NewOutputProfile("voip_rx", audio.OutputFlagDirect|audio.OutputFlagVoipRx)
	withProfiles(voip, inventory.NewProfile(audio.FormatPCM16Bit, []uint32{8000, 16000, 48000}, outMasks))
	primary.AddOutputProfile(supports(voip, earpiece, speaker, headset, headphone, scoHeadset))

	mmapOut := inventory.NewOutputProfile("mmap_no_irq_out", audio.OutputFlagDirect|audio.OutputFlagMmapNoIRQ)
	withProfiles(mmapOut, inventory.NewProfile(audio.FormatPCM16Bit, []uint32{48000}, outStereo))
	primary.AddOutputProfile(supports(mmapOut, speaker, headset, headphone))

	hdmiOut := inventory.NewOutputProfile("hdmi output", audio.OutputFlagDirect)
	withProfiles(hdmiOut, inventory.NewDynamicProfile())
	hdmiOut.MaxOpenCount = 1
	primary.AddOutputProfile(supports(hdmiOut, hdmi))

	primaryIn := inventory.NewInputProfile("primary input", audio.InputFlagNone)
	withProfiles(primaryIn, inventory.NewProfile(audio.FormatPCM16Bit, pcmRates, inMasks))
	primaryIn.MaxOpenCount = 2
	primaryIn.MaxActiveCount = 2
	primary.AddInputProfile(supports(primaryIn, builtinMic, backMic, headsetMic, scoMic, telephonyRx, fmTuner))

	hotwordIn := inventory.NewInputProfile("hotword input", audio.InputFlagHwHotword)
	withProfiles(hotwordIn, inventory.NewProfile(audio.FormatPCM16Bit, []uint32{16000}, []audio.ChannelMask{audio.ChannelInMono}))
	primary.AddInputProfile(supports(hotwordIn, builtinMic, backMic, headsetMic))

	mmapIn := inventory.NewInputProfile("mmap_no_irq_in", audio.InputFlagMmapNoIRQ)
	withProfiles(mmapIn, inventory.NewProfile(audio.FormatPCM16Bit, []uint32{48000}, []audio.ChannelMask{audio.ChannelInStereo}))
	primary.AddInputProfile(supports(mmapIn, builtinMic, backMic))

	a2dp := inventory.NewHwModule(inventory.ModuleNameA2DP)
	a2dpOut := inventory.NewOutputProfile("a2dp output", audio.OutputFlagNone)
	withProfiles(a2dpOut, inventory.NewProfile(audio.FormatPCM16Bit, []uint32{44100, 48000}, outStereo))
	a2dp.AddOutputProfile(supports(a2dpOut,
		a2dp.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutBluetoothA2DP, "", "BT A2DP Out")),
		a2dp.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutBluetoothA2DPHeadphone, "", "BT A2DP Headphones")),
		a2dp.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutBluetoothA2DPSpeaker, "", "BT A2DP Speaker"))))

	usb := inventory.NewHwModule(inventory.ModuleNameUSB)
	usbAccessory := inventory.NewOutputProfile("usb_accessory output", audio.OutputFlagNone)
	withProfiles(usbAccessory, inventory.NewProfile(audio.FormatPCM16Bit, []uint32{44100}, outStereo))
	usb.AddOutputProfile(supports(usbAccessory,
		usb.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutUSBAccessory, "", "USB Host Out"))))
	usbDevice := inventory.NewOutputProfile("usb_device output", audio.OutputFlagNone)
	withProfiles(usbDevice, inventory.NewDynamicProfile())
	usb.AddOutputProfile(supports(usbDevice,
		usb.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutUSBDevice, "", "USB Device Out")),
		usb.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutUSBHeadset, "", "USB Headset Out"))))
	usbIn := inventory.NewInputProfile("usb_device input", audio.InputFlagNone)
	withProfiles(usbIn, inventory.NewDynamicProfile())
	usb.AddInputProfile(supports(usbIn,
		usb.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceInUSBDevice, "", "USB Device In")),
		usb.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceInUSBHeadset, "", "USB Headset In"))))

	submix := inventory.NewHwModule(inventory.ModuleNameRemoteSubmix)
	submixOut := inventory.NewOutputProfile("r_submix output", audio.OutputFlagNone)
	withProfiles(submixOut, inventory.NewProfile(audio.FormatPCM16Bit, []uint32{48000}, outStereo))
	submix.AddOutputProfile(supports(submixOut,
		submix.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutRemoteSubmix, "0", "Remote Submix Out"))))
	submixIn := inventory.NewInputProfile("r_submix input", audio.InputFlagNone)
	withProfiles(submixIn, inventory.NewProfile(audio.FormatPCM16Bit, []uint32{48000}, []audio.ChannelMask{audio.ChannelInStereo}))
	submix.AddInputProfile(supports(submixIn,
		submix.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceInRemoteSubmix, "0", "Remote Submix In"))))

	cfg := &inventory.Config{
		Modules:               inventory.Modules{primary, a2dp, usb, submix},
		AttachedOutputDevices: inventory.DeviceVector{earpiece, speaker, telephonyTx},
		AttachedInputDevices:  inventory.DeviceVector{builtinMic, backMic, telephonyRx},
		DefaultOutputDevice:   speaker,
	}

	if po.msd {
		msd := inventory.NewHwModule(inventory.ModuleNameMSD)
		msdOutDevice := msd.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceOutBus, "msd", "MSD Out"))
		msdInDevice := msd.DeclareDevice(inventory.NewDeviceDescriptor(audio.DeviceInBus, "msd", "MSD In"))
		msdOut := inventory.NewOutputProfile("msd output", audio.OutputFlagNone)
		withProfiles(msdOut,
			inventory.NewProfile(audio.FormatPCM16Bit, []uint32{48000}, outStereo),
			inventory.NewProfile(audio.FormatAC3, []uint32{48000}, outStereo),
			inventory.NewProfile(audio.FormatEAC3, []uint32{48000}, outStereo))
		msdOut.MaxOpenCount = 0
		msd.AddOutputProfile(supports(msdOut, msdOutDevice))
		msdIn := inventory.NewInputProfile("msd input", audio.InputFlagNone)
		withProfiles(msdIn,
			inventory.NewProfile(audio.FormatPCM16Bit, []uint32{48000}, []audio.ChannelMask{audio.ChannelInStereo}),
			inventory.NewProfile(audio.FormatAC3, []uint32{48000}, []audio.ChannelMask{audio.ChannelInStereo}))
		msd.AddInputProfile(supports(msdIn, msdInDevice))
		cfg.Modules = append(cfg.Modules, msd)
		cfg.AttachedOutputDevices = cfg.AttachedOutputDevices.Add(msdOutDevice)
		cfg.AttachedInputDevices = cfg.AttachedInputDevices.Add(msdInDevice)
	}
	return cfg
}
