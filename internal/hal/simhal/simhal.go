// Package simhal is an in-memory hal.Client. It backs the simulate command
// and the policy tests: every call is recorded and individual operations can
// be made to fail.
package simhal

import (
	"maps"
	"slices"
	"sync"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/hal"
)

// Op names a failable operation.
type Op string

const (
	OpLoadModule    Op = "load_module"
	OpOpenOutput    Op = "open_output"
	OpOpenDuplicate Op = "open_duplicate_output"
	OpOpenInput     Op = "open_input"
	OpCreatePatch   Op = "create_patch"
)

// Default stream latencies in milliseconds.
const (
	LatencyNormal     = 20
	LatencyDeepBuffer = 80
	LatencyOffload    = 100
)

// Stream is an opened output or input.
type Stream struct {
	Handle    audio.IOHandle
	Module    audio.ModuleHandle
	Device    audio.DeviceType
	Address   string
	Config    audio.Config
	Flags     uint32
	Source    audio.Source
	LatencyMs uint32
	// Duplicated outputs record both legs.
	Output1, Output2 audio.IOHandle
}

// EffectMove records a MoveEffects call.
type EffectMove struct {
	Session  audio.Session
	Src, Dst audio.IOHandle
}

// Capabilities is what the hardware reports for a device with dynamic
// profiles, in GetParameters syntax.
type Capabilities struct {
	Formats     string
	SampleRates string
	Channels    string
}

// Sim is a hal.Client keeping all state in memory. Safe for concurrent use.
type Sim struct {
	mu sync.Mutex

	known   map[string]bool
	modules map[string]audio.ModuleHandle
	next    int32

	outputs map[audio.IOHandle]*Stream
	inputs  map[audio.IOHandle]*Stream
	patches map[audio.PatchHandle]audio.Patch

	params        map[audio.IOHandle]hal.Params
	capabilities  map[audio.DeviceType]Capabilities
	voiceVolume   float64
	streamVolumes map[audio.IOHandle]map[audio.Stream]float64
	invalidated   []audio.Stream
	effectMoves   []EffectMove
	portUpdates   int
	patchUpdates  int

	failures     map[Op]int
	rejectOutput func(hal.OutputRequest) bool
}

var _ hal.Client = (*Sim)(nil)

// New returns a simulator able to load the named modules.
func New(moduleNames ...string) *Sim {
	s := &Sim{
		known:         make(map[string]bool, len(moduleNames)),
		modules:       make(map[string]audio.ModuleHandle),
		outputs:       make(map[audio.IOHandle]*Stream),
		inputs:        make(map[audio.IOHandle]*Stream),
		patches:       make(map[audio.PatchHandle]audio.Patch),
		params:        make(map[audio.IOHandle]hal.Params),
		capabilities:  make(map[audio.DeviceType]Capabilities),
		streamVolumes: make(map[audio.IOHandle]map[audio.Stream]float64),
		failures:      make(map[Op]int),
	}
	for _, name := range moduleNames {
		s.known[name] = true
	}
	return s
}

// FailNext makes the next n calls of op fail.
func (s *Sim) FailNext(op Op, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] += n
}

// RejectOutputs makes OpenOutput fail for every request matching fn. A nil
// fn accepts everything again.
func (s *Sim) RejectOutputs(fn func(hal.OutputRequest) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectOutput = fn
}

// SetCapabilities sets what GetParameters reports for streams opened on device.
func (s *Sim) SetCapabilities(device audio.DeviceType, c Capabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities[device] = c
}

func (s *Sim) shouldFail(op Op) bool {
	if s.failures[op] > 0 {
		s.failures[op]--
		return true
	}
	return false
}

func (s *Sim) nextID() int32 {
	s.next++
	return s.next
}

func (s *Sim) failure(sentinel error, op Op) error {
	return errors.New(sentinel).
		Component(hal.ComponentHAL).
		Context("operation", string(op)).
		Build()
}

// LoadHwModule implements hal.Client.
func (s *Sim) LoadHwModule(name string) (audio.ModuleHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.known[name] || s.shouldFail(OpLoadModule) {
		return audio.ModuleHandleNone, errors.New(hal.ErrModuleNotFound).
			Component(hal.ComponentHAL).
			Context("module", name).
			Build()
	}
	if h, ok := s.modules[name]; ok {
		return h, nil
	}
	h := audio.ModuleHandle(s.nextID())
	s.modules[name] = h
	return h, nil
}

func outputLatency(flags audio.OutputFlags) uint32 {
	switch {
	case flags&audio.OutputFlagCompressOffload != 0:
		return LatencyOffload
	case flags&audio.OutputFlagDeepBuffer != 0:
		return LatencyDeepBuffer
	}
	return LatencyNormal
}

func defaultConfig(cfg audio.Config, out bool) audio.Config {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.SampleRateHzDefault
	}
	if cfg.Format == audio.FormatDefault {
		cfg.Format = audio.FormatPCM16Bit
	}
	if cfg.ChannelMask == audio.ChannelNone {
		cfg.ChannelMask = audio.ChannelInStereo
		if out {
			cfg.ChannelMask = audio.ChannelOutStereo
		}
	}
	return cfg
}

// OpenOutput implements hal.Client.
func (s *Sim) OpenOutput(module audio.ModuleHandle, req hal.OutputRequest) (hal.OutputResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail(OpOpenOutput) || (s.rejectOutput != nil && s.rejectOutput(req)) {
		return hal.OutputResult{}, s.failure(hal.ErrOpenFailed, OpOpenOutput)
	}
	st := &Stream{
		Handle:    audio.IOHandle(s.nextID()),
		Module:    module,
		Device:    req.Device,
		Address:   req.Address,
		Config:    defaultConfig(req.Config, true),
		Flags:     uint32(req.Flags),
		LatencyMs: outputLatency(req.Flags),
	}
	s.outputs[st.Handle] = st
	return hal.OutputResult{Handle: st.Handle, Config: st.Config, LatencyMs: st.LatencyMs}, nil
}

// OpenDuplicateOutput implements hal.Client.
func (s *Sim) OpenDuplicateOutput(output1, output2 audio.IOHandle) (audio.IOHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o1, ok1 := s.outputs[output1]
	o2, ok2 := s.outputs[output2]
	if !ok1 || !ok2 || s.shouldFail(OpOpenDuplicate) {
		return audio.IOHandleNone, s.failure(hal.ErrOpenFailed, OpOpenDuplicate)
	}
	st := &Stream{
		Handle:    audio.IOHandle(s.nextID()),
		Device:    o1.Device | o2.Device,
		Config:    o1.Config,
		LatencyMs: max(o1.LatencyMs, o2.LatencyMs),
		Output1:   output1,
		Output2:   output2,
	}
	s.outputs[st.Handle] = st
	return st.Handle, nil
}

// CloseOutput implements hal.Client.
func (s *Sim) CloseOutput(output audio.IOHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outputs[output]; !ok {
		return s.unknown(output)
	}
	delete(s.outputs, output)
	delete(s.streamVolumes, output)
	return nil
}

func (s *Sim) unknown(h audio.IOHandle) error {
	return errors.New(hal.ErrUnknownHandle).
		Component(hal.ComponentHAL).
		Context("io_handle", int32(h)).
		Build()
}

// OpenInput implements hal.Client.
func (s *Sim) OpenInput(module audio.ModuleHandle, req hal.InputRequest) (hal.InputResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail(OpOpenInput) {
		return hal.InputResult{}, s.failure(hal.ErrOpenFailed, OpOpenInput)
	}
	st := &Stream{
		Handle:  audio.IOHandle(s.nextID()),
		Module:  module,
		Device:  req.Device,
		Address: req.Address,
		Config:  defaultConfig(req.Config, false),
		Flags:   uint32(req.Flags),
		Source:  req.Source,
	}
	s.inputs[st.Handle] = st
	return hal.InputResult{Handle: st.Handle, Config: st.Config}, nil
}

// CloseInput implements hal.Client.
func (s *Sim) CloseInput(input audio.IOHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inputs[input]; !ok {
		return s.unknown(input)
	}
	delete(s.inputs, input)
	return nil
}

// CreateAudioPatch implements hal.Client. A known handle updates the patch in
// place, as hardware does for reroutes.
func (s *Sim) CreateAudioPatch(patch audio.Patch, handle audio.PatchHandle, _ int) (audio.PatchHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A source patch bridges a device into an output and has no sink.
	sourceOnly := len(patch.Sources) == 2 && len(patch.Sinks) == 0
	if s.shouldFail(OpCreatePatch) || len(patch.Sources) == 0 || (len(patch.Sinks) == 0 && !sourceOnly) {
		return audio.PatchHandleNone, s.failure(hal.ErrPatchFailed, OpCreatePatch)
	}
	if _, ok := s.patches[handle]; !ok || handle == audio.PatchHandleNone {
		handle = audio.PatchHandle(s.nextID())
	}
	s.patches[handle] = patch.Clone()
	for _, sink := range patch.Sinks {
		if sink.IsMix() {
			if in, ok := s.inputs[sink.Mix.Handle]; ok && len(patch.Sources) > 0 {
				in.Device = patch.Sources[0].Device.Type
			}
		}
	}
	for _, src := range patch.Sources {
		if src.IsMix() && !sourceOnly {
			if out, ok := s.outputs[src.Mix.Handle]; ok {
				out.Device = audio.DeviceNone
				for _, sink := range patch.Sinks {
					out.Device |= sink.Device.Type
				}
			}
		}
	}
	return handle, nil
}

// ReleaseAudioPatch implements hal.Client.
func (s *Sim) ReleaseAudioPatch(handle audio.PatchHandle, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patches[handle]; !ok {
		return errors.New(hal.ErrPatchFailed).
			Component(hal.ComponentHAL).
			Context("patch", int32(handle)).
			Build()
	}
	delete(s.patches, handle)
	return nil
}

// SetAudioPortConfig implements hal.Client.
func (s *Sim) SetAudioPortConfig(config audio.PortConfig, _ int) error {
	if config.ID == audio.PortHandleNone {
		return errors.New(hal.ErrUnknownHandle).
			Component(hal.ComponentHAL).
			Context("port", 0).
			Build()
	}
	return nil
}

// SetParameters implements hal.Client.
func (s *Sim) SetParameters(io audio.IOHandle, keyValues string, _ int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.params[io]
	if !ok {
		p = hal.Params{}
		s.params[io] = p
	}
	maps.Copy(p, hal.ParseParams(keyValues))
}

// GetParameters implements hal.Client. Capability keys are answered from the
// capabilities of the stream's device, other keys from earlier SetParameters.
func (s *Sim) GetParameters(io audio.IOHandle, keys string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var device audio.DeviceType
	if st, ok := s.outputs[io]; ok {
		device = st.Device
	} else if st, ok := s.inputs[io]; ok {
		device = st.Device
	}
	caps := s.capabilities[device]
	reply := hal.Params{}
	for key := range hal.ParseParams(keys) {
		switch key {
		case hal.KeySupportedFormats:
			reply.Set(key, caps.Formats)
		case hal.KeySupportedSampleRates:
			reply.Set(key, caps.SampleRates)
		case hal.KeySupportedChannels:
			reply.Set(key, caps.Channels)
		default:
			if v, ok := s.params[io][key]; ok {
				reply.Set(key, v)
			}
		}
	}
	return reply.String()
}

// SetVoiceVolume implements hal.Client.
func (s *Sim) SetVoiceVolume(volume float64, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiceVolume = volume
	return nil
}

// SetStreamVolume implements hal.Client.
func (s *Sim) SetStreamVolume(stream audio.Stream, volume float64, output audio.IOHandle, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outputs[output]; !ok {
		return s.unknown(output)
	}
	vols, ok := s.streamVolumes[output]
	if !ok {
		vols = make(map[audio.Stream]float64)
		s.streamVolumes[output] = vols
	}
	vols[stream] = volume
	return nil
}

// InvalidateStream implements hal.Client.
func (s *Sim) InvalidateStream(stream audio.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, stream)
	return nil
}

// MoveEffects implements hal.Client.
func (s *Sim) MoveEffects(session audio.Session, src, dst audio.IOHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.effectMoves = append(s.effectMoves, EffectMove{Session: session, Src: src, Dst: dst})
	return nil
}

// OnAudioPortListUpdate implements hal.Client.
func (s *Sim) OnAudioPortListUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portUpdates++
}

// OnAudioPatchListUpdate implements hal.Client.
func (s *Sim) OnAudioPatchListUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patchUpdates++
}

// Output returns a copy of an open output.
func (s *Sim) Output(h audio.IOHandle) (Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.outputs[h]
	if !ok {
		return Stream{}, false
	}
	return *st, true
}

// Input returns a copy of an open input.
func (s *Sim) Input(h audio.IOHandle) (Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.inputs[h]
	if !ok {
		return Stream{}, false
	}
	return *st, true
}

// OutputHandles returns the open outputs in handle order.
func (s *Sim) OutputHandles() []audio.IOHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.outputs))
}

// InputHandles returns the open inputs in handle order.
func (s *Sim) InputHandles() []audio.IOHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.inputs))
}

// Patches returns a copy of the installed patches.
func (s *Sim) Patches() map[audio.PatchHandle]audio.Patch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[audio.PatchHandle]audio.Patch, len(s.patches))
	for h, p := range s.patches {
		out[h] = p.Clone()
	}
	return out
}

// Params returns a copy of the parameters set on io.
func (s *Sim) Params(io audio.IOHandle) hal.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.params[io])
}

// VoiceVolume returns the last voice volume.
func (s *Sim) VoiceVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voiceVolume
}

// StreamVolume returns the last volume applied to stream on output.
func (s *Sim) StreamVolume(output audio.IOHandle, stream audio.Stream) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.streamVolumes[output][stream]
	return v, ok
}

// Invalidated returns the streams invalidated so far.
func (s *Sim) Invalidated() []audio.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.invalidated)
}

// EffectMoves returns the effect moves so far.
func (s *Sim) EffectMoves() []EffectMove {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.effectMoves)
}

// PortListUpdates returns how many port list notifications were received.
func (s *Sim) PortListUpdates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portUpdates
}

// PatchListUpdates returns how many patch list notifications were received.
func (s *Sim) PatchListUpdates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patchUpdates
}
