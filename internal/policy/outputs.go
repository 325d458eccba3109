package policy

import (
	"time"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/endpoint"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/hal"
	"github.com/tphakala/audiopolicy/internal/inventory"
	"github.com/tphakala/audiopolicy/internal/mix"
	"github.com/tphakala/audiopolicy/internal/volume"
)

// directProfileFlags are the requested flags that drive the choice of a
// direct output profile.
const directProfileFlags = audio.OutputFlagHwAvSync | audio.OutputFlagCompressOffload | audio.OutputFlagVoipRx

// OutputRequest is a playback client asking for an output. A nil Attributes
// selects the legacy path where only Stream is known.
type OutputRequest struct {
	Attributes      *audio.Attributes
	Stream          audio.Stream
	Session         audio.Session
	UID             audio.UID
	Config          audio.Config
	Flags           audio.OutputFlags
	PreferredDevice audio.PortHandle
}

// OutputAssignment is where a playback client was attached.
type OutputAssignment struct {
	Output audio.IOHandle
	Stream audio.Stream
	// Device is the port id of the device the output is expected to use.
	Device audio.PortHandle
	PortID audio.PortHandle
	Flags  audio.OutputFlags
}

func unknownClient(op string, port audio.PortHandle) error {
	return errors.New(ErrUnknownClient).
		Component(ComponentPolicy).
		Context("operation", op).
		Context("port_id", int32(port)).
		Build()
}

// GetOutputForAttr selects or opens the output serving a playback request
// and attaches a new client to it. An explicit device wins over a policy mix,
// which wins over the strategy device.
func (m *Manager) GetOutputForAttr(req OutputRequest) (_ OutputAssignment, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("get_output_for_attr", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return OutputAssignment{}, err
	}
	return m.getOutputForAttr(req)
}

func (m *Manager) getOutputForAttr(req OutputRequest) (OutputAssignment, error) {
	const op = "get_output_for_attr"
	var attr audio.Attributes
	if req.Attributes != nil {
		if !req.Attributes.HasKnownUsage() {
			return OutputAssignment{}, invalidArgument(op, "usage", int(req.Attributes.Usage))
		}
		attr = *req.Attributes
	} else {
		if req.Stream < 0 || req.Stream >= audio.StreamPublicCount {
			return OutputAssignment{}, invalidArgument(op, "stream", int(req.Stream))
		}
		attr = audio.UsageForStream(req.Stream)
	}

	stream := audio.StreamForAttributes(attr)
	strategy := m.strategyForAttr(attr)
	out, selected, flags, err := m.outputForAttr(op, attr, stream, strategy, req)
	if err != nil {
		return OutputAssignment{}, err
	}

	c := &endpoint.TrackClient{
		PortID:          m.ids.Next(),
		UID:             req.UID,
		Session:         req.Session,
		Attributes:      attr,
		Config:          req.Config,
		Stream:          stream,
		Strategy:        strategy,
		Flags:           flags,
		PreferredDevice: req.PreferredDevice,
	}
	out.AddClient(c)
	m.logger.Debug("output assigned",
		"port_id", int32(c.PortID),
		"output", int32(out.Handle()),
		"stream", stream.String(),
		"strategy", strategy.String(),
		"session", int32(req.Session),
		"uid", req.UID)
	return OutputAssignment{
		Output: out.Handle(),
		Stream: stream,
		Device: selected,
		PortID: c.PortID,
		Flags:  flags,
	}, nil
}

// outputForAttr resolves the output and the expected device of a request.
func (m *Manager) outputForAttr(op string, attr audio.Attributes, stream audio.Stream, strategy audio.Strategy, req OutputRequest) (*endpoint.Output, audio.PortHandle, audio.OutputFlags, error) {
	flags := req.Flags
	var device audio.DeviceType
	if req.PreferredDevice != audio.PortHandleNone {
		d := m.availableOutputs.GetDeviceFromID(req.PreferredDevice)
		if d == nil {
			return nil, audio.PortHandleNone, flags, invalidArgument(op, "preferred_device", int32(req.PreferredDevice))
		}
		device = d.Type
	} else {
		pm, err := m.mixes.GetOutputForAttr(attr, req.UID)
		if err != nil {
			return nil, audio.PortHandleNone, flags, errors.New(err).
				Component(ComponentPolicy).
				Context("operation", op).
				Build()
		}
		if pm != nil {
			if !req.Config.Format.IsLinearPCM() {
				return nil, audio.PortHandleNone, flags, invalidArgument(op, "format", req.Config.Format.String())
			}
			out, ok := m.outputs.Get(pm.Output)
			if !ok {
				return nil, audio.PortHandleNone, flags, noOutput(op, pm.DeviceType)
			}
			selected := audio.PortHandleNone
			if d := m.availableOutputs.GetDevice(pm.DeviceType, pm.DeviceAddress); d != nil {
				selected = d.ID
			}
			return out, selected, flags, nil
		}
		// Virtual sources only play through a policy mix.
		if attr.Usage == audio.UsageVirtualSource {
			return nil, audio.PortHandleNone, flags, invalidArgument(op, "usage", "virtual_source")
		}
		device = m.deviceForStrategy(strategy, false)
	}

	if attr.Flags&audio.AttrFlagHwAvSync != 0 {
		flags |= audio.OutputFlagHwAvSync
	}
	// Music into the call uplink needs an explicit route. Without one the
	// engine device is used, bypassing preferences.
	if device == audio.DeviceOutTelephonyTx &&
		(stream == audio.StreamMusic || attr.Usage == audio.UsageVoiceCommunication) &&
		req.Config.Format.IsLinearPCM() && m.isInCall() {
		if req.PreferredDevice != audio.PortHandleNone {
			flags = audio.OutputFlagIncallMusic
		} else {
			device = m.engine.DeviceForStrategy(strategy)
		}
	}

	var out *endpoint.Output
	if msd := m.msdOutDeviceTypes(); msd != audio.DeviceNone {
		out, flags = m.getOutputForDevice(msd, req.Session, stream, req.Config, flags)
		if out != nil && m.setMsdPatch(device) == nil {
			m.logger.Debug("playing through multi stream decoder", "device", device.String())
			device = msd
		} else {
			out = nil
		}
	}
	if out == nil {
		out, flags = m.getOutputForDevice(device, req.Session, stream, req.Config, flags)
	}
	if out == nil {
		return nil, audio.PortHandleNone, flags, noOutput(op, device)
	}
	selected := audio.PortHandleNone
	if d := firstDevice(m.availableOutputs, device); d != nil {
		selected = d.ID
	}
	return out, selected, flags, nil
}

func noOutput(op string, device audio.DeviceType) error {
	return errors.New(ErrNoOutput).
		Component(ComponentPolicy).
		Context("operation", op).
		Context("device", device.String()).
		Build()
}

// getOutputForDevice returns an output reaching device for the request and
// the flags it was selected with. Direct profiles are tried first unless
// the request obviously fits a mixed output. A direct output of the same
// session with the same configuration is shared. A failed direct open falls
// back to a mixed output only for PCM the mixer can take.
func (m *Manager) getOutputForDevice(device audio.DeviceType, session audio.Session, stream audio.Stream, cfg audio.Config, flags audio.OutputFlags) (*endpoint.Output, audio.OutputFlags) {
	// Offload and A/V sync imply a direct output.
	if flags&(audio.OutputFlagCompressOffload|audio.OutputFlagHwAvSync) != 0 {
		flags |= audio.OutputFlagDirect
	}
	if stream != audio.StreamMusic {
		flags &^= audio.OutputFlagDeepBuffer
	} else if flags == audio.OutputFlagNone {
		flags = audio.OutputFlagDeepBuffer
	}
	switch {
	case stream == audio.StreamTTS:
		flags = audio.OutputFlagTTS
	case stream == audio.StreamVoiceCall && cfg.Format.IsLinearPCM() && flags&audio.OutputFlagIncallMusic == 0:
		flags = audio.OutputFlagVoipRx | audio.OutputFlagDirect
	}

	pcmMixable := cfg.Format.IsLinearPCM() && cfg.SampleRate <= m.settings.MaxDirectSampleRate
	if flags&audio.OutputFlagDirect != 0 || !pcmMixable || cfg.ChannelMask.Count() > 2 {
		out, fallback := m.directOutput(device, session, cfg, flags)
		if out != nil {
			return out, flags
		}
		if !fallback {
			return nil, flags
		}
	}

	// Timestamps embedded in A/V sync data and mmap buffers cannot go
	// through the mixer.
	if flags&(audio.OutputFlagHwAvSync|audio.OutputFlagMmapNoIRQ) != 0 {
		return nil, flags
	}
	if !cfg.Format.IsLinearPCM() {
		m.logger.Warn("no output for request",
			"stream", stream.String(),
			"format", cfg.Format.String(),
			"sample_rate", cfg.SampleRate,
			"flags", uint32(flags))
		return nil, flags
	}
	flags &^= audio.OutputFlagDirect
	return m.selectOutput(m.outputs.GetOutputsForDevice(device), flags, cfg.Format), flags
}

// directOutput finds, reuses or opens a direct output. When it returns nil,
// fallback tells whether a mixed output may serve the request instead.
func (m *Manager) directOutput(device audio.DeviceType, session audio.Session, cfg audio.Config, flags audio.OutputFlags) (*endpoint.Output, bool) {
	var profile *inventory.IOProfile
	// Offload is pointless while master mono forces a downmix.
	if flags&audio.OutputFlagCompressOffload == 0 || !m.masterMono {
		profile = m.getProfileForDirectOutput(device, cfg, flags)
	}
	if profile == nil {
		return nil, true
	}

	for _, out := range m.outputs.Values() {
		if out.IsDuplicated() || out.Profile() != profile {
			continue
		}
		if cfg.SampleRate == out.Config.SampleRate &&
			cfg.Format == out.Config.Format &&
			cfg.ChannelMask == out.Config.ChannelMask &&
			session == out.DirectSession {
			out.DirectOpenCount++
			m.logger.Debug("reusing direct output",
				"output", int32(out.Handle()),
				"session", int32(session),
				"open_count", out.DirectOpenCount)
			return out, false
		}
	}
	if !profile.CanOpenNewIO() {
		return nil, true
	}

	address := ""
	if d := firstDevice(m.availableOutputs, device); d != nil {
		address = d.Address
	}
	m.releaseMsdPatchesFor(device, address)

	pcmMixable := cfg.Format.IsLinearPCM() && cfg.SampleRate <= m.settings.MaxDirectSampleRate
	out, err := m.openOutputStream(profile, device, address, cfg, flags)
	if err != nil || !configMatches(cfg, out.Config) {
		m.logger.Warn("direct output unavailable",
			"profile", profile.Name,
			"device", device.String(),
			"format", cfg.Format.String(),
			"sample_rate", cfg.SampleRate,
			"fallback", pcmMixable,
			"error", err)
		if err == nil {
			m.closeOutputStream(out)
		}
		return nil, pcmMixable
	}
	out.DirectOpenCount = 1
	out.DirectSession = session
	m.addOutput(out)
	m.previousOutputs = m.outputs.Clone()
	m.portListChanged()
	m.logger.Info("direct output opened",
		"output", int32(out.Handle()),
		"profile", profile.Name,
		"device", device.String(),
		"session", int32(session))
	return out, false
}

// configMatches reports whether opened honors every field req set.
func configMatches(req, opened audio.Config) bool {
	return (req.SampleRate == 0 || req.SampleRate == opened.SampleRate) &&
		(req.Format == audio.FormatDefault || req.Format == opened.Format) &&
		(req.ChannelMask == audio.ChannelNone || req.ChannelMask == opened.ChannelMask)
}

// getProfileForDirectOutput returns the direct profile able to play cfg on
// device, preferring offload capable profiles. DeviceNone matches any
// available device.
func (m *Manager) getProfileForDirectOutput(device audio.DeviceType, cfg audio.Config, flags audio.OutputFlags) *inventory.IOProfile {
	flags = flags&directProfileFlags | audio.OutputFlagDirect
	available := m.availableOutputs.Types()
	var found *inventory.IOProfile
	for _, profile := range m.modules.OutputProfiles() {
		if _, ok := profile.IsCompatible(device, "", cfg, uint32(flags), false); !ok {
			continue
		}
		if available&profile.SupportedDevices.Types() == audio.DeviceNone {
			continue
		}
		if found != nil && profile.OutputFlags()&audio.OutputFlagCompressOffload == 0 {
			continue
		}
		found = profile
		if profile.OutputFlags()&audio.OutputFlagCompressOffload != 0 {
			break
		}
	}
	return found
}

// selectOutput picks one of several outputs reaching the same devices: most
// flags in common with the request, then closest PCM format, then the
// primary output, then the first one. Direct outputs are never shared.
func (m *Manager) selectOutput(outputs []*endpoint.Output, flags audio.OutputFlags, format audio.Format) *endpoint.Output {
	switch len(outputs) {
	case 0:
		return nil
	case 1:
		return outputs[0]
	}

	maxCommon := 0
	var forFlags, forFormat, forPrimary *endpoint.Output
	bestFormat, bestFormatForFlags := audio.FormatInvalid, audio.FormatInvalid
	for _, out := range outputs {
		if out.IsDuplicated() || out.IsDirect() {
			continue
		}
		if format != audio.FormatInvalid {
			if !format.IsLinearPCM() {
				continue
			}
			if audio.IsBetterFormatMatch(out.Config.Format, bestFormat, format) {
				forFormat = out
				bestFormat = out.Config.Format
			}
		}
		profileFlags := out.Profile().OutputFlags()
		common := profileFlags.CommonCount(flags)
		switch {
		case common > maxCommon:
			forFlags = out
			maxCommon = common
			bestFormatForFlags = out.Config.Format
		case common == maxCommon && format != audio.FormatInvalid &&
			audio.IsBetterFormatMatch(out.Config.Format, bestFormatForFlags, format):
			forFlags = out
			bestFormatForFlags = out.Config.Format
		}
		if profileFlags&audio.OutputFlagPrimary != 0 {
			forPrimary = out
		}
	}

	switch {
	case forFlags != nil:
		return forFlags
	case forFormat != nil:
		return forFormat
	case forPrimary != nil:
		return forPrimary
	}
	return outputs[0]
}

// GetOutput returns the output a legacy stream would use right now.
func (m *Manager) GetOutput(stream audio.Stream) audio.IOHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return audio.IOHandleNone
	}
	device := m.deviceForStrategy(m.strategyForStream(stream), false)
	if out := m.selectOutput(m.outputs.GetOutputsForDevice(device), audio.OutputFlagNone, audio.FormatInvalid); out != nil {
		return out.Handle()
	}
	return audio.IOHandleNone
}

// StartOutput starts a playback client, routes its output and blocks until
// audio already playing elsewhere had time to settle.
func (m *Manager) StartOutput(port audio.PortHandle) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("start_output", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}

	out, ok := m.outputs.GetOutputForClient(port)
	if !ok {
		return unknownClient("start_output", port)
	}
	c, _ := out.Client(port)
	if c.Active() {
		return invalidOperation("start_output", "port_id", int32(port))
	}
	if err := out.Start(m.clock.Now()); err != nil {
		return err
	}
	delayMs, err := m.startSource(out, c)
	if err != nil {
		out.Stop(m.clock.Now())
		return err
	}
	m.logger.Debug("output started",
		"port_id", int32(port),
		"output", int32(out.Handle()),
		"stream", c.Stream.String(),
		"device", out.Device().String(),
		"delay_ms", delayMs)
	if delayMs > 0 {
		m.clock.Sleep(time.Duration(delayMs) * time.Millisecond)
	}
	return nil
}

// startSource marks c active on out and applies the routing, volume and
// muting consequences. Returns how long the caller still has to wait.
func (m *Manager) startSource(out *endpoint.Output, c *endpoint.TrackClient) (int, error) {
	stream := c.Stream
	var beaconMuteLatency int
	if stream == audio.StreamTTS {
		// A beacon cannot share the path with other playback.
		if !m.ttsOutput && !m.settings.TTSOutputAvailable && m.outputs.IsAnyOutputActive(audio.StreamTTS) {
			return 0, invalidOperation("start_output", "stream", stream.String())
		}
		beaconMuteLatency = m.handleEventForBeacon(beaconStartingBeacon)
	} else {
		beaconMuteLatency = m.handleEventForBeacon(beaconStartingOutput)
	}

	now := m.clock.Now()
	// An idle output without a patch was never routed.
	force := !out.IsActive(0, now) && out.PatchHandle() == audio.PatchHandleNone

	device := audio.DeviceNone
	address := ""
	policyMix := out.PolicyMix
	if policyMix != nil {
		address = policyMix.DeviceAddress
		if policyMix.IsRender() {
			device = policyMix.DeviceType
		} else {
			device = audio.DeviceOutRemoteSubmix
		}
	}

	// Audio still draining from this output needs a mute around a switch.
	requiresMuteCheck := out.IsActive(2*latencyOf(out), now)

	out.SetClientActive(c, true)

	if c.HasPreferredDevice(true) {
		device = m.newOutputDevice(out, false)
		if device != out.Device() {
			m.checkStrategyRoute(m.strategyForStream(stream), out.Handle())
		}
	}
	if stream == audio.StreamMusic {
		m.selectOutputForMusicEffects()
	}

	delayMs := 0
	if out.StreamActiveCount(stream) == 1 || device != audio.DeviceNone {
		if device == audio.DeviceNone {
			device = m.newOutputDevice(out, false)
		}
		strategy := m.strategyForStream(stream)
		shouldWait := strategy == audio.StrategySonification ||
			strategy == audio.StrategySonificationRespectful ||
			beaconMuteLatency > 0
		waitMs := beaconMuteLatency
		for _, other := range m.outputs.Values() {
			if other == out {
				continue
			}
			sharedDevice := out.SharesHwModuleWith(other) && other.SupportedDevices()&device != audio.DeviceNone
			// The hardware must hear about a device change made for a
			// sibling output on the same module.
			if sharedDevice && other.Device() != device && other.PatchHandle() != audio.PatchHandleNone {
				force = true
			}
			latencyMs := int(other.Latency())
			active := other.IsActive(2*latencyOf(other), now)
			// Let audio already playing be presented before a notification.
			if shouldWait && active && waitMs < latencyMs {
				waitMs = latencyMs
			}
			requiresMuteCheck = requiresMuteCheck || (sharedDevice && active)
		}

		muteWaitMs := m.setOutputDevice(out, device, force, 0, nil, address, requiresMuteCheck)

		index := m.curves.Index(stream, volume.DeviceForVolume(out.Device()))
		if err := m.checkAndSetVolume(stream, index, out, out.Device(), 0, false); err != nil {
			m.logger.Warn("applying start volume failed", "stream", stream.String(), "error", err)
		}
		m.handleNotificationRoutingForStream(stream)
		// Accessibility follows ringtones and alarms.
		if strategy == audio.StrategySonification {
			m.invalidate(audio.StreamAccessibility)
		}
		if waitMs > muteWaitMs {
			delayMs = waitMs - muteWaitMs
		}
	}

	if stream == audio.StreamEnforcedAudible &&
		m.engine.ForceUse(audio.ForceForSystem) == audio.ForceSystemEnforced {
		m.setStrategyMute(audio.StrategySonification, true, out, 0, audio.DeviceNone)
	}

	// Playback into a recorder mix makes the matching capture device appear.
	if device&audio.DeviceOutRemoteSubmix == audio.DeviceOutRemoteSubmix &&
		policyMix != nil && policyMix.Type == mix.TypeRecorders {
		m.setRemoteSubmixInput(address, audio.DeviceStateAvailable)
	}
	return delayMs, nil
}

func latencyOf(out *endpoint.Output) time.Duration {
	return time.Duration(out.Latency()) * time.Millisecond
}

// setRemoteSubmixInput connects or disconnects the capture side of a
// recorder mix.
func (m *Manager) setRemoteSubmixInput(address string, state audio.DeviceState) {
	err := m.setDeviceConnectionState(audio.DeviceInRemoteSubmix, state, address, "remote-submix")
	m.nextPortGeneration()
	if err != nil {
		m.logger.Debug("remote submix input unchanged", "address", address, "state", state.String(), "error", err)
		return
	}
	m.portListChanged()
	m.notifier.DeviceStateChanged(audio.DeviceInRemoteSubmix, address, state)
}

// StopOutput stops a playback client. The output is re-routed once its last
// client of the stream stopped.
func (m *Manager) StopOutput(port audio.PortHandle) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("stop_output", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}

	out, ok := m.outputs.GetOutputForClient(port)
	if !ok {
		return unknownClient("stop_output", port)
	}
	c, _ := out.Client(port)
	if err := m.stopSource(out, c); err != nil {
		return err
	}
	out.Stop(m.clock.Now())
	m.logger.Debug("output stopped", "port_id", int32(port), "output", int32(out.Handle()), "stream", c.Stream.String())
	return nil
}

// stopSource marks c inactive on out and restores routing for what keeps
// playing.
func (m *Manager) stopSource(out *endpoint.Output, c *endpoint.TrackClient) error {
	stream := c.Stream
	if stream == audio.StreamTTS {
		m.handleEventForBeacon(beaconStoppingBeacon)
	} else {
		m.handleEventForBeacon(beaconStoppingOutput)
	}

	if out.StreamActiveCount(stream) == 0 || !c.Active() {
		m.logger.Warn("stop of idle stream", "port_id", int32(c.PortID), "stream", stream.String())
		return invalidOperation("stop_output", "stream", stream.String())
	}

	if out.StreamActiveCount(stream) == 1 && out.PolicyMix != nil &&
		out.PolicyMix.Type == mix.TypeRecorders &&
		out.Device()&audio.DeviceOutRemoteSubmix == audio.DeviceOutRemoteSubmix {
		m.setRemoteSubmixInput(out.PolicyMix.DeviceAddress, audio.DeviceStateUnavailable)
	}

	forceDeviceUpdate := false
	if c.HasPreferredDevice(true) {
		m.checkStrategyRoute(m.strategyForStream(stream), audio.IOHandleNone)
		forceDeviceUpdate = true
	}

	out.SetClientActive(c, false)

	if out.StreamActiveCount(stream) == 0 || forceDeviceUpdate {
		now := m.clock.Now()
		out.SetStopTime(stream, now)
		newDevice := m.newOutputDevice(out, false)
		// Buffers above the hardware still hold audio when stop arrives.
		delayMs := int(out.Latency()) * 2
		m.setOutputDevice(out, newDevice, false, delayMs, nil, "", true)

		for _, other := range m.outputs.Values() {
			if other == out || !other.IsActive(0, now) || !out.SharesHwModuleWith(other) || newDevice == other.Device() {
				continue
			}
			otherDevice := m.newOutputDevice(other, false)
			force := other.Device() != otherDevice
			m.setOutputDevice(other, otherDevice, force, delayMs, nil, "", true)
			if !force {
				m.applyStreamVolumes(other, otherDevice, delayMs, false)
			}
		}
		m.handleNotificationRoutingForStream(stream)
	}

	if stream == audio.StreamEnforcedAudible &&
		m.engine.ForceUse(audio.ForceForSystem) == audio.ForceSystemEnforced {
		m.setStrategyMute(audio.StrategySonification, false, out, 0, audio.DeviceNone)
	}
	if stream == audio.StreamMusic {
		m.selectOutputForMusicEffects()
	}
	return nil
}

// ReleaseOutput detaches a playback client. A direct output closes with its
// last client.
func (m *Manager) ReleaseOutput(port audio.PortHandle) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("release_output", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}
	return m.releaseOutput(port)
}

func (m *Manager) releaseOutput(port audio.PortHandle) error {
	out, ok := m.outputs.GetOutputForClient(port)
	if !ok {
		// The output may have been closed by a device change already.
		m.logger.Warn("release of unknown playback client", "port_id", int32(port))
		return unknownClient("release_output", port)
	}
	if out.IsDirect() {
		if out.DirectOpenCount <= 0 {
			m.logger.Warn("invalid direct open count", "output", int32(out.Handle()), "open_count", out.DirectOpenCount)
			return invalidOperation("release_output", "open_count", out.DirectOpenCount)
		}
		out.DirectOpenCount--
		if out.DirectOpenCount == 0 {
			m.closeOutput(out.Handle())
			m.portListChanged()
		}
	}
	out.RemoveClient(port)
	m.logger.Debug("output released", "port_id", int32(port), "output", int32(out.Handle()))
	return nil
}

// IsStreamActive reports playback of stream now or within inPast.
func (m *Manager) IsStreamActive(stream audio.Stream, inPast time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outputs.IsStreamActive(stream, inPast, m.clock.Now())
}

// IsStreamActiveRemotely reports playback of stream to a remote device.
func (m *Manager) IsStreamActiveRemotely(stream audio.Stream, inPast time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outputs.IsStreamActiveRemotely(stream, inPast, m.clock.Now())
}

// selectOutputForMusicEffects moves the global music effects to the output
// best suited for them: offloaded, then deep buffer, then primary, looking
// at outputs playing music first.
func (m *Manager) selectOutputForMusicEffects() audio.IOHandle {
	device := m.deviceForStrategy(m.strategyForStream(audio.StreamMusic), false)
	outputs := m.outputs.GetOutputsForDevice(device)
	if len(outputs) == 0 {
		return audio.IOHandleNone
	}

	now := m.clock.Now()
	var selected *endpoint.Output
	for _, activeOnly := range []bool{true, false} {
		var offloaded, deepBuffer, primary *endpoint.Output
		for _, out := range outputs {
			if activeOnly && !out.IsStreamActive(audio.StreamMusic, 0, now) {
				continue
			}
			if out.Flags&audio.OutputFlagCompressOffload != 0 {
				offloaded = out
			}
			if out.Flags&audio.OutputFlagDeepBuffer != 0 {
				deepBuffer = out
			}
			if out.Flags&audio.OutputFlagPrimary != 0 {
				primary = out
			}
		}
		switch {
		case offloaded != nil:
			selected = offloaded
		case deepBuffer != nil:
			selected = deepBuffer
		case primary != nil:
			selected = primary
		case !activeOnly:
			selected = outputs[0]
		}
		if selected != nil {
			break
		}
	}

	if selected.Handle() != m.musicEffectOutput {
		if err := m.hal.MoveEffects(audio.SessionOutputMix, m.musicEffectOutput, selected.Handle()); err != nil {
			m.logger.Warn("moving music effects failed", "from", int32(m.musicEffectOutput), "to", int32(selected.Handle()), "error", err)
		}
		m.musicEffectOutput = selected.Handle()
	}
	return selected.Handle()
}

// MusicEffectOutput returns the output holding the global music effects.
func (m *Manager) MusicEffectOutput() audio.IOHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.musicEffectOutput
}

// SetMasterMono downmixes every output to mono. Enabling it closes the
// offloaded outputs so their clients come back as PCM.
func (m *Manager) SetMasterMono(mono bool) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("set_master_mono", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}
	if m.masterMono == mono {
		return nil
	}
	m.masterMono = mono
	if mono {
		for _, out := range m.outputs.Values() {
			if out.Flags&audio.OutputFlagCompressOffload != 0 {
				m.closeOutput(out.Handle())
			}
		}
	}
	for _, out := range m.outputs.Values() {
		m.updateMono(out)
	}
	m.logger.Info("master mono changed", "mono", mono)
	return nil
}

// MasterMono reports whether outputs are downmixed to mono.
func (m *Manager) MasterMono() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.masterMono
}

func (m *Manager) updateMono(out *endpoint.Output) {
	value := "0"
	if m.masterMono {
		value = "1"
	}
	m.hal.SetParameters(out.Handle(), hal.Params{}.Set(hal.KeyMonoOutput, value).String(), 0)
}

// IsOffloadSupported reports whether a compressed music stream could be
// played by an offload capable output.
func (m *Manager) IsOffloadSupported(info audio.OffloadInfo) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized || m.masterMono {
		return false
	}
	if info.Stream != audio.StreamMusic || info.HasVideo {
		return false
	}
	if time.Duration(info.DurationUs)*time.Microsecond < offloadMinDuration {
		return false
	}
	cfg := audio.Config{SampleRate: info.SampleRate, ChannelMask: info.ChannelMask, Format: info.Format}
	return m.getProfileForDirectOutput(audio.DeviceNone, cfg, audio.OutputFlagCompressOffload) != nil
}
