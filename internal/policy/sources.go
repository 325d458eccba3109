package policy

import (
	"time"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/endpoint"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/inventory"
	"github.com/tphakala/audiopolicy/internal/patch"
)

// sourceClient is an audio source: a capture device played through an
// output as if it were a track of the output.
type sourceClient struct {
	portID    audio.PortHandle
	uid       audio.UID
	attr      audio.Attributes
	stream    audio.Stream
	strategy  audio.Strategy
	srcDevice *inventory.DeviceDescriptor

	// Set while connected.
	output audio.IOHandle
	track  *endpoint.TrackClient
	patch  *patch.Descriptor
}

// AudioSource describes a running audio source.
type AudioSource struct {
	PortID   audio.PortHandle
	UID      audio.UID
	Device   audio.DeviceType
	Address  string
	Stream   audio.Stream
	Strategy audio.Strategy
	Output   audio.IOHandle
}

// StartAudioSource plays the capture device described by source through the
// output serving attr, without an application moving the audio. The source
// follows its strategy when routing changes.
func (m *Manager) StartAudioSource(source audio.PortConfig, attr audio.Attributes, uid audio.UID) (_ audio.PortHandle, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("start_audio_source", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return audio.PortHandleNone, err
	}

	if source.Role != audio.PortRoleSource || source.Type != audio.PortTypeDevice {
		return audio.PortHandleNone, invalidOperation("start_audio_source", "port_type", source.Type.String())
	}
	src := m.availableInputs.GetDevice(source.Device.Type, source.Device.Address)
	if src == nil {
		return audio.PortHandleNone, invalidArgument("start_audio_source", "device", source.Device.Type.String())
	}

	s := &sourceClient{
		portID:    m.ids.Next(),
		uid:       uid,
		attr:      attr,
		stream:    audio.StreamForAttributes(attr),
		strategy:  m.strategyForAttr(attr),
		srcDevice: src,
	}
	if err := m.connectAudioSource(s); err != nil {
		return audio.PortHandleNone, err
	}
	m.sources.Add(s.portID, s)
	m.logger.Info("audio source started",
		"port_id", int32(s.portID),
		"device", src.Type.String(),
		"strategy", s.strategy.String(),
		"output", int32(s.output))
	return s.portID, nil
}

// connectAudioSource routes s through the output currently serving its
// strategy, replacing any previous connection.
func (m *Manager) connectAudioSource(s *sourceClient) error {
	const op = "connect_audio_source"
	m.disconnectAudioSource(s)

	sink := m.deviceForStrategy(s.strategy, true)
	out := m.selectOutput(m.outputs.GetOutputsForDevice(sink), audio.OutputFlagNone, audio.FormatInvalid)
	if out == nil {
		return noOutput(op, sink)
	}
	if out.IsDuplicated() {
		return invalidOperation(op, "output", int32(out.Handle()))
	}
	if err := out.Start(m.clock.Now()); err != nil {
		return err
	}

	// A patch without sink: the output says which mix carries the device
	// and with which stream volume, the sink is whatever the output uses.
	pc := out.PortConfig()
	pc.Mix.Stream = s.stream
	p := patch.NewBuilder().AddSource(s.srcDevice.PortConfig()).AddSource(pc).Patch()
	halHandle, err := m.hal.CreateAudioPatch(p, audio.PatchHandleNone, 0)
	if err != nil {
		out.Stop(m.clock.Now())
		return errors.New(err).
			Component(ComponentPolicy).
			Category(errors.CategoryHAL).
			Context("operation", op).
			Context("device", s.srcDevice.Type.String()).
			Build()
	}

	track := &endpoint.TrackClient{
		PortID:     s.portID,
		UID:        s.uid,
		Attributes: s.attr,
		Stream:     s.stream,
		Strategy:   s.strategy,
	}
	out.AddClient(track)
	delayMs, err := m.startSource(out, track)
	if err != nil {
		out.RemoveClient(track.PortID)
		out.Stop(m.clock.Now())
		if rerr := m.hal.ReleaseAudioPatch(halHandle, 0); rerr != nil {
			m.logger.Warn("releasing audio source patch failed", "error", rerr)
		}
		return err
	}

	s.output, s.track = out.Handle(), track
	s.patch = &patch.Descriptor{
		Handle:    m.newPatchHandle(),
		HALHandle: halHandle,
		UID:       s.uid,
		Patch:     p,
	}
	m.patches.Add(s.patch)
	m.nextPortGeneration()
	m.patchListChanged()
	if delayMs > 0 {
		m.clock.Sleep(time.Duration(delayMs) * time.Millisecond)
	}
	return nil
}

// disconnectAudioSource undoes connectAudioSource. A source that is not
// connected is left alone.
func (m *Manager) disconnectAudioSource(s *sourceClient) {
	if s.patch == nil {
		return
	}
	if err := m.patches.Remove(s.patch.Handle); err == nil {
		m.nextPortGeneration()
		m.patchListChanged()
	}
	if out, ok := m.outputs.Get(s.output); ok && s.track != nil {
		if err := m.stopSource(out, s.track); err == nil {
			out.Stop(m.clock.Now())
		}
		out.RemoveClient(s.track.PortID)
	}
	if err := m.hal.ReleaseAudioPatch(s.patch.HALHandle, 0); err != nil {
		m.logger.Warn("releasing audio source patch failed", "port_id", int32(s.portID), "error", err)
	}
	s.patch, s.track, s.output = nil, nil, audio.IOHandleNone
}

// StopAudioSource stops an audio source started by StartAudioSource.
func (m *Manager) StopAudioSource(port audio.PortHandle) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("stop_audio_source", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}
	return m.stopAudioSource(port)
}

func (m *Manager) stopAudioSource(port audio.PortHandle) error {
	s, ok := m.sources.Get(port)
	if !ok {
		m.logger.Warn("stop of unknown audio source", "port_id", int32(port))
		return errors.New(ErrUnknownSource).
			Component(ComponentPolicy).
			Context("port_id", int32(port)).
			Build()
	}
	m.disconnectAudioSource(s)
	m.sources.Remove(port)
	m.logger.Info("audio source stopped", "port_id", int32(port))
	return nil
}

// sourceForStrategyOnOutput returns the audio source of strategy playing
// through output h.
func (m *Manager) sourceForStrategyOnOutput(h audio.IOHandle, strategy audio.Strategy) *sourceClient {
	for _, s := range m.sources.Values() {
		if s.strategy == strategy && s.patch != nil && s.output == h {
			return s
		}
	}
	return nil
}

// clearAudioSources stops the audio sources started by uid.
func (m *Manager) clearAudioSources(uid audio.UID) {
	sources := m.sources.Values()
	for i := len(sources) - 1; i >= 0; i-- {
		if sources[i].uid != uid {
			continue
		}
		if err := m.stopAudioSource(sources[i].portID); err != nil {
			m.logger.Warn("stopping audio source failed", "port_id", int32(sources[i].portID), "error", err)
		}
	}
}

// AudioSources lists the running audio sources.
func (m *Manager) AudioSources() []AudioSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []AudioSource
	for _, s := range m.sources.Values() {
		list = append(list, AudioSource{
			PortID:   s.portID,
			UID:      s.uid,
			Device:   s.srcDevice.Type,
			Address:  s.srcDevice.Address,
			Stream:   s.stream,
			Strategy: s.strategy,
			Output:   s.output,
		})
	}
	return list
}
