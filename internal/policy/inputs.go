package policy

import (
	"strings"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/endpoint"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/inventory"
	"github.com/tphakala/audiopolicy/internal/mix"
)

// InputKind tells how a capture client is fed.
type InputKind int

const (
	InputInvalid InputKind = iota
	// InputLegacy captures a physical device, or audio injected into a
	// recorder mix.
	InputLegacy
	// InputMixCapture captures the legacy remote submix.
	InputMixCapture
	// InputMixExtPolicyReroute captures players rerouted by a policy mix.
	InputMixExtPolicyReroute
	// InputTelephonyRx captures the call downlink.
	InputTelephonyRx
)

func (k InputKind) String() string {
	switch k {
	case InputLegacy:
		return "legacy"
	case InputMixCapture:
		return "mix_capture"
	case InputMixExtPolicyReroute:
		return "mix_ext_policy_reroute"
	case InputTelephonyRx:
		return "telephony_rx"
	default:
		return "invalid"
	}
}

// InputRequest is a capture client asking for an input. Input is only set
// to join an existing mmap input.
type InputRequest struct {
	Attributes      audio.Attributes
	Input           audio.IOHandle
	Session         audio.Session
	UID             audio.UID
	Config          audio.Config
	Flags           audio.InputFlags
	PreferredDevice audio.PortHandle
}

// InputAssignment is where a capture client was attached.
type InputAssignment struct {
	Input  audio.IOHandle
	Device audio.PortHandle
	PortID audio.PortHandle
	Kind   InputKind
}

// GetInputForAttr selects or opens the input serving a capture request and
// attaches a new client to it.
func (m *Manager) GetInputForAttr(req InputRequest) (_ InputAssignment, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("get_input_for_attr", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return InputAssignment{}, err
	}
	return m.getInputForAttr(req)
}

func (m *Manager) getInputForAttr(req InputRequest) (InputAssignment, error) {
	const op = "get_input_for_attr"
	attr := req.Attributes
	if attr.Source == audio.SourceDefault {
		attr.Source = audio.SourceMic
	}
	if !attr.Source.IsValid() {
		return InputAssignment{}, invalidArgument(op, "source", int(attr.Source))
	}

	var (
		in     *endpoint.Input
		device audio.DeviceType
		kind   InputKind
	)
	if req.Flags&audio.InputFlagMmapNoIRQ != 0 && req.Input != audio.IOHandleNone {
		var err error
		if in, err = m.mmapInputForSession(op, req); err != nil {
			return InputAssignment{}, err
		}
		device, kind = in.Device, InputLegacy
		m.logger.Info("reusing mmap input", "input", int32(in.Handle()), "session", int32(req.Session))
	} else {
		var (
			address   string
			policyMix *mix.Mix
			err       error
		)
		device, address, policyMix, kind, err = m.captureRoute(op, attr, req.PreferredDevice)
		if err != nil {
			return InputAssignment{}, err
		}
		if in = m.getInputForDevice(device, address, req.Session, attr.Source, req.Config, req.Flags, policyMix); in == nil {
			return InputAssignment{}, errors.New(ErrNoInput).
				Component(ComponentPolicy).
				Context("operation", op).
				Context("device", device.String()).
				Context("source", attr.Source.String()).
				Build()
		}
	}

	selected := audio.PortHandleNone
	if d := firstDevice(m.availableInputs, device); d != nil {
		selected = d.ID
	}
	_, soundTrigger := m.soundTrigger[req.Session]
	c := &endpoint.RecordClient{
		PortID:          m.ids.Next(),
		UID:             req.UID,
		Session:         req.Session,
		Attributes:      attr,
		Config:          req.Config,
		Flags:           req.Flags,
		PreferredDevice: req.PreferredDevice,
		IsSoundTrigger:  attr.Source == audio.SourceHotword && soundTrigger,
		AppState:        audio.AppStateTop,
	}
	in.AddClient(c)
	m.logger.Debug("input assigned",
		"port_id", int32(c.PortID),
		"input", int32(in.Handle()),
		"kind", kind.String(),
		"source", attr.Source.String(),
		"session", int32(req.Session),
		"uid", req.UID)
	return InputAssignment{Input: in.Handle(), Device: selected, PortID: c.PortID, Kind: kind}, nil
}

// mmapInputForSession returns the mmap input a new client of req.Session
// joins. The first client belongs to the stream itself, the second fixes the
// uid and later ones must match it unless the owner was silenced.
func (m *Manager) mmapInputForSession(op string, req InputRequest) (*endpoint.Input, error) {
	in, ok := m.inputs.Get(req.Input)
	if !ok {
		return nil, invalidArgument(op, "input", int32(req.Input))
	}
	clients := in.ClientsForSession(req.Session)
	if len(clients) == 0 {
		return nil, invalidArgument(op, "session", int32(req.Session))
	}
	for _, c := range clients[1:] {
		if c.UID != req.UID && !c.Silenced {
			m.logger.Warn("mmap input owned by another uid", "input", int32(req.Input), "uid", req.UID, "owner", c.UID)
			return nil, invalidOperation(op, "uid", req.UID)
		}
	}
	return in, nil
}

// captureRoute resolves the device, device address, policy mix and kind of
// a capture request.
func (m *Manager) captureRoute(op string, attr audio.Attributes, preferred audio.PortHandle) (audio.DeviceType, string, *mix.Mix, InputKind, error) {
	if attr.Source == audio.SourceRemoteSubmix && strings.HasPrefix(attr.Tags, "addr=") {
		pm, err := m.mixes.GetInputMixForAttr(attr)
		if err != nil {
			return audio.DeviceNone, "", nil, InputInvalid, err
		}
		address, _ := mix.AddressFromTags(attr.Tags)
		return audio.DeviceInRemoteSubmix, address, pm, InputMixExtPolicyReroute, nil
	}

	var (
		device audio.DeviceType
		pm     *mix.Mix
	)
	if preferred != audio.PortHandleNone {
		if d := m.availableInputs.GetDeviceFromID(preferred); d != nil {
			device = d.Type
		}
	}
	if device == audio.DeviceNone {
		device, pm = m.deviceAndMixForInputSource(attr.Source)
	}
	if device == audio.DeviceNone {
		m.logger.Warn("no device for capture source", "source", attr.Source.String())
		return audio.DeviceNone, "", nil, InputInvalid, invalidArgument(op, "source", attr.Source.String())
	}

	switch {
	case pm != nil && pm.Type == mix.TypeRecorders:
		// Audio injected into the framework looks like a device to the
		// recorder.
		return device, pm.DeviceAddress, pm, InputLegacy, nil
	case pm != nil:
		return device, pm.DeviceAddress, pm, InputMixExtPolicyReroute, nil
	case device&audio.DeviceInRemoteSubmix == audio.DeviceInRemoteSubmix:
		return device, remoteSubmixAddress, nil, InputMixCapture, nil
	case device == audio.DeviceInTelephonyRx:
		return device, "", nil, InputTelephonyRx, nil
	}
	return device, "", nil, InputLegacy, nil
}

// getInputForDevice opens an input capturing device for source. The profile
// search relaxes the requested flags, first dropping raw then all of them.
// Only an input opened with exactly the matched configuration is kept.
func (m *Manager) getInputForDevice(device audio.DeviceType, address string, session audio.Session, source audio.Source, cfg audio.Config, flags audio.InputFlags, policyMix *mix.Mix) *endpoint.Input {
	halSource := source
	isSoundTrigger := false
	switch {
	case source == audio.SourceHotword:
		if _, ok := m.soundTrigger[session]; ok {
			isSoundTrigger = true
			flags |= audio.InputFlagHwHotword
		} else {
			halSource = audio.SourceVoiceRecognition
		}
	case source == audio.SourceVoiceCommunication && cfg.Format.IsLinearPCM():
		flags |= audio.InputFlagVoipTx
	}

	if cfg.SampleRate == 0 {
		cfg.SampleRate = m.settings.DefaultCaptureSampleRate
	}
	profile, matched, profileFlags := m.getInputProfile(device, address, cfg, flags)
	if profile == nil {
		m.logger.Warn("no input profile",
			"device", device.String(),
			"sample_rate", cfg.SampleRate,
			"format", cfg.Format.String(),
			"channel_mask", uint32(cfg.ChannelMask),
			"flags", uint32(flags))
		return nil
	}
	if profile.ModuleHandle() == audio.ModuleHandleNone {
		m.logger.Error("input profile module not loaded", "profile", profile.Name)
		return nil
	}
	if !profile.CanOpenNewIO() {
		return nil
	}

	if address == "" {
		if d := firstDevice(m.availableInputs, device); d != nil {
			address = d.Address
		}
	}
	in, err := m.openInputStream(profile, device, address, matched, halSource, profileFlags)
	if err != nil || in.Config.SampleRate != matched.SampleRate ||
		!audio.FormatsMatch(matched.Format, in.Config.Format) ||
		in.Config.ChannelMask != matched.ChannelMask {
		m.logger.Warn("input unavailable",
			"profile", profile.Name,
			"device", device.String(),
			"sample_rate", matched.SampleRate,
			"format", matched.Format.String(),
			"error", err)
		if err == nil {
			m.closeInputStream(in)
		}
		return nil
	}

	in.PolicyMix = policyMix
	in.IsSoundTrigger = isSoundTrigger
	if isSoundTrigger {
		m.soundTrigger[session] = in.Handle()
	}
	m.addInput(in)
	m.portListChanged()
	m.logger.Info("input opened",
		"input", int32(in.Handle()),
		"profile", profile.Name,
		"device", device.String(),
		"source", source.String(),
		"session", int32(session))
	return in
}

// getInputProfile returns the first input profile able to capture cfg from
// device, with the configuration and flags it matched.
func (m *Manager) getInputProfile(device audio.DeviceType, address string, cfg audio.Config, flags audio.InputFlags) (*inventory.IOProfile, audio.Config, audio.InputFlags) {
	for {
		for _, profile := range m.modules.InputProfiles() {
			if matched, ok := profile.IsCompatible(device, address, cfg, uint32(flags), false); ok {
				return profile, matched, flags
			}
		}
		switch {
		case flags&audio.InputFlagRaw != 0:
			flags &^= audio.InputFlagRaw
		case flags != audio.InputFlagNone:
			flags = audio.InputFlagNone
		default:
			return nil, audio.Config{}, flags
		}
	}
}

// StopInput stops a capture client. An input left without active clients
// is unrouted.
func (m *Manager) StopInput(port audio.PortHandle) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("stop_input", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}
	return m.stopInput(port)
}

func (m *Manager) stopInput(port audio.PortHandle) error {
	in, ok := m.inputs.GetInputForClient(port)
	if !ok {
		return unknownClient("stop_input", port)
	}
	c, _ := in.Client(port)
	if !c.Active() {
		m.logger.Warn("input client already stopped", "input", int32(in.Handle()), "port_id", int32(port))
		return invalidOperation("stop_input", "port_id", int32(port))
	}

	in.SetClientActive(c, false)
	in.Stop()
	m.notifyRecording(in, c, false)
	if in.IsActive() {
		m.setInputDevice(in, m.newInputDevice(in), false, nil)
		return nil
	}

	if in.PolicyMix != nil {
		m.notifier.MixStateChanged(in.PolicyMix.DeviceAddress, mix.StateIdle)
	}
	if address, ok := submixOutputAddress(in); ok {
		m.setRemoteSubmixOutput(address, audio.DeviceStateUnavailable)
	}
	m.resetInputDevice(in, nil)
	in.ClearPreemptedSessions()
	m.logger.Debug("input stopped", "input", int32(in.Handle()), "port_id", int32(port))
	return nil
}

// submixOutputAddress returns the remote submix output that feeds a remote
// submix capture. Recorder mixes are fed by their players instead.
func submixOutputAddress(in *endpoint.Input) (string, bool) {
	if in.Device&audio.DeviceInRemoteSubmix != audio.DeviceInRemoteSubmix {
		return "", false
	}
	switch {
	case in.PolicyMix == nil:
		return remoteSubmixAddress, true
	case in.PolicyMix.Type == mix.TypePlayers:
		return in.PolicyMix.DeviceAddress, true
	}
	return "", false
}

// setRemoteSubmixOutput connects or disconnects the playback side of a
// remote submix capture.
func (m *Manager) setRemoteSubmixOutput(address string, state audio.DeviceState) {
	if err := m.setDeviceConnectionState(audio.DeviceOutRemoteSubmix, state, address, "remote-submix"); err != nil {
		m.logger.Debug("remote submix output unchanged", "address", address, "state", state.String(), "error", err)
		return
	}
	m.notifier.DeviceStateChanged(audio.DeviceOutRemoteSubmix, address, state)
}

// ReleaseInput detaches a capture client. The input closes with its last
// client.
func (m *Manager) ReleaseInput(port audio.PortHandle) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("release_input", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}
	if _, ok := m.inputs.GetInputForClient(port); !ok {
		return unknownClient("release_input", port)
	}
	m.releaseInput(port)
	return nil
}

func (m *Manager) releaseInput(port audio.PortHandle) {
	in, ok := m.inputs.GetInputForClient(port)
	if !ok {
		m.logger.Warn("release of unknown capture client", "port_id", int32(port))
		return
	}
	in.RemoveClient(port)
	if n := in.ClientCount(); n > 0 {
		m.logger.Debug("input client released", "input", int32(in.Handle()), "port_id", int32(port), "remaining", n)
		return
	}
	m.closeInput(in.Handle())
	m.portListChanged()
}

// notifyRecording reports a capture client starting or stopping.
func (m *Manager) notifyRecording(in *endpoint.Input, c *endpoint.RecordClient, active bool) {
	m.notifier.RecordingConfigChanged(RecordingEvent{
		PortID:  c.PortID,
		UID:     c.UID,
		Session: c.Session,
		Source:  c.Source(),
		Input:   in.Handle(),
		Device:  in.Device,
		Active:  active,
	})
}

// IsSourceActive reports whether any input captures source.
func (m *Manager) IsSourceActive(source audio.Source) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputs.IsSourceActive(source)
}

// AcquireSoundTriggerSession reserves a session for hotword capture by the
// sound trigger hardware and returns the device it will listen on. Inputs
// opened for the session are flagged as hardware hotword inputs.
func (m *Manager) AcquireSoundTriggerSession() (audio.Session, audio.DeviceType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInitialized(); err != nil {
		return audio.SessionNone, audio.DeviceNone, err
	}
	session := m.newSession()
	m.soundTrigger[session] = audio.IOHandleNone
	device, _ := m.deviceAndMixForInputSource(audio.SourceHotword)
	m.logger.Debug("sound trigger session acquired", "session", int32(session), "device", device.String())
	return session, device, nil
}

// ReleaseSoundTriggerSession gives a sound trigger session back.
func (m *Manager) ReleaseSoundTriggerSession(session audio.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.soundTrigger[session]; !ok {
		return invalidArgument("release_sound_trigger_session", "session", int32(session))
	}
	delete(m.soundTrigger, session)
	return nil
}
