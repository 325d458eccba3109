// Package hal defines the hardware client the policy drives. Every physical
// effect of a routing decision goes through Client: opening streams,
// installing patches and applying volumes.
package hal

import (
	"github.com/tphakala/audiopolicy/internal/audio"
)

// Parameter keys understood by GetParameters and SetParameters.
const (
	KeySupportedFormats     = "sup_formats"
	KeySupportedSampleRates = "sup_sampling_rates"
	KeySupportedChannels    = "sup_channels"
	KeyRouting              = "routing"
	KeyConnect              = "connect"
	KeyDisconnect           = "disconnect"
	KeyMonoOutput           = "mono_output"
	KeyReconfigA2DP         = "reconfigA2dp"
	KeyA2DPSuspended        = "A2dpSuspended"
	KeyFormat               = "format"
	KeyAddress              = "address"
	KeyA2DPSinkAddress      = "a2dp_sink_address"
	KeyMixAddress           = "mix"

	// KeyReconfigA2DPSupported is answered with 1 when the hardware can
	// switch A2DP codecs without a reconnect.
	KeyReconfigA2DPSupported = "isReconfigA2dpSupported"
)

// OutputRequest describes an output stream to open.
type OutputRequest struct {
	Config  audio.Config
	Device  audio.DeviceType
	Address string
	Flags   audio.OutputFlags
}

// OutputResult is what the hardware actually opened.
type OutputResult struct {
	Handle    audio.IOHandle
	Config    audio.Config
	LatencyMs uint32
}

// InputRequest describes an input stream to open.
type InputRequest struct {
	Config  audio.Config
	Device  audio.DeviceType
	Address string
	Source  audio.Source
	Flags   audio.InputFlags
}

// InputResult is what the hardware actually opened.
type InputResult struct {
	Handle audio.IOHandle
	Config audio.Config
}

// Client performs the hardware side of policy decisions. Delays are in
// milliseconds and let the hardware schedule a command after pending audio
// has drained.
type Client interface {
	LoadHwModule(name string) (audio.ModuleHandle, error)

	OpenOutput(module audio.ModuleHandle, req OutputRequest) (OutputResult, error)
	OpenDuplicateOutput(output1, output2 audio.IOHandle) (audio.IOHandle, error)
	CloseOutput(output audio.IOHandle) error
	OpenInput(module audio.ModuleHandle, req InputRequest) (InputResult, error)
	CloseInput(input audio.IOHandle) error

	CreateAudioPatch(patch audio.Patch, handle audio.PatchHandle, delayMs int) (audio.PatchHandle, error)
	ReleaseAudioPatch(handle audio.PatchHandle, delayMs int) error
	SetAudioPortConfig(config audio.PortConfig, delayMs int) error

	SetParameters(io audio.IOHandle, keyValues string, delayMs int)
	GetParameters(io audio.IOHandle, keys string) string

	SetVoiceVolume(volume float64, delayMs int) error
	SetStreamVolume(stream audio.Stream, volume float64, output audio.IOHandle, delayMs int) error
	InvalidateStream(stream audio.Stream) error
	MoveEffects(session audio.Session, src, dst audio.IOHandle) error

	OnAudioPortListUpdate()
	OnAudioPatchListUpdate()
}
