package policy

import (
	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/endpoint"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/patch"
)

// patchedEndpoint is the part of an endpoint the patch manager touches.
type patchedEndpoint interface {
	Handle() audio.IOHandle
	PatchHandle() audio.PatchHandle
	SetPatchHandle(h audio.PatchHandle)
}

// installPatch creates or updates the patch realizing p. The patch to update
// is *handle when set, otherwise the patch ep currently owns. A patch whose
// routing is unchanged is left untouched: neither the handle nor the list
// generation moves. ep may be nil for device to device patches.
func (m *Manager) installPatch(op string, handle *audio.PatchHandle, ep patchedEndpoint, p audio.Patch, delayMs int, uid audio.UID) (*patch.Descriptor, error) {
	if err := patch.Validate(p); err != nil {
		return nil, err
	}
	key := audio.PatchHandleNone
	if handle != nil {
		key = *handle
	}
	if key == audio.PatchHandleNone && ep != nil {
		key = ep.PatchHandle()
	}
	existing, found := m.patches.Get(key)

	if found && existing.Patch.SameRouting(p) {
		if handle != nil {
			*handle = existing.Handle
		}
		if ep != nil {
			ep.SetPatchHandle(existing.Handle)
		}
		m.logger.Debug("patch unchanged", "operation", op, "patch", int32(existing.Handle))
		return existing, nil
	}

	halHandle := audio.PatchHandleNone
	if found {
		halHandle = existing.HALHandle
	}
	newHALHandle, err := m.hal.CreateAudioPatch(p, halHandle, delayMs)
	if err != nil {
		m.logger.Warn("hardware rejected patch", "operation", op, "error", err)
		return nil, errors.New(err).
			Component(ComponentPolicy).
			Category(errors.CategoryHAL).
			Context("operation", op).
			Build()
	}

	var d *patch.Descriptor
	if found {
		d = existing
		d.Patch = p.Clone()
		d.HALHandle = newHALHandle
	} else {
		d = &patch.Descriptor{
			Handle:    m.newPatchHandle(),
			HALHandle: newHALHandle,
			UID:       uid,
			Patch:     p.Clone(),
		}
	}
	m.patches.Add(d)
	if handle != nil {
		*handle = d.Handle
	}
	if ep != nil {
		ep.SetPatchHandle(d.Handle)
	}
	m.nextPortGeneration()
	m.patchListChanged()
	m.logger.Debug("patch installed",
		"operation", op,
		"patch", int32(d.Handle),
		"hal_patch", int32(d.HALHandle),
		"sources", len(p.Sources),
		"sinks", len(p.Sinks),
		"updated", found)
	return d, nil
}

// releasePatch removes d from the hardware and the patch list.
func (m *Manager) releasePatch(d *patch.Descriptor, delayMs int) {
	if err := m.hal.ReleaseAudioPatch(d.HALHandle, delayMs); err != nil {
		m.logger.Warn("releasing patch failed", "patch", int32(d.Handle), "error", err)
	}
	_ = m.patches.Remove(d.Handle)
	m.nextPortGeneration()
	m.patchListChanged()
}

// resetOutputDevice disconnects out from every device.
func (m *Manager) resetOutputDevice(out *endpoint.Output, delayMs int, handle *audio.PatchHandle) {
	key := out.PatchHandle()
	if handle != nil && *handle != audio.PatchHandleNone {
		key = *handle
	}
	d, ok := m.patches.Get(key)
	if !ok {
		return
	}
	m.releasePatch(d, delayMs)
	out.SetPatchHandle(audio.PatchHandleNone)
}

// resetInputDevice disconnects in from its capture device.
func (m *Manager) resetInputDevice(in *endpoint.Input, handle *audio.PatchHandle) {
	key := in.PatchHandle()
	if handle != nil && *handle != audio.PatchHandleNone {
		key = *handle
	}
	d, ok := m.patches.Get(key)
	if !ok {
		return
	}
	m.releasePatch(d, 0)
	in.SetPatchHandle(audio.PatchHandleNone)
}

// CreateAudioPatch installs a client patch. Mix to device patches reroute
// the output, device to mix patches reroute the input, device to device
// patches go to the hardware directly, bridged through an open output when
// the devices sit on different modules. handle selects an existing patch to
// update and may be audio.PatchHandleNone.
func (m *Manager) CreateAudioPatch(p audio.Patch, handle audio.PatchHandle, uid audio.UID) (_ audio.PatchHandle, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("create_audio_patch", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return audio.PatchHandleNone, err
	}
	return m.createAudioPatch(p, handle, uid)
}

func (m *Manager) createAudioPatch(p audio.Patch, handle audio.PatchHandle, uid audio.UID) (audio.PatchHandle, error) {
	if err := patch.Validate(p); err != nil {
		return audio.PatchHandleNone, errors.New(err).
			Component(ComponentPolicy).
			Category(errors.CategoryValidation).
			Build()
	}
	if len(p.Sources) > 1 {
		return audio.PatchHandleNone, invalidOperation("create_audio_patch", "sources", len(p.Sources))
	}
	if p.Sources[0].Role != audio.PortRoleSource {
		return audio.PatchHandleNone, invalidOperation("create_audio_patch", "source_role", p.Sources[0].Role)
	}
	for _, s := range p.Sinks {
		if s.Role != audio.PortRoleSink {
			return audio.PatchHandleNone, invalidOperation("create_audio_patch", "sink_role", s.Role)
		}
	}

	existing, found := m.patches.Get(handle)
	if found {
		if existing.UID != UIDCached && existing.UID != uid {
			return audio.PatchHandleNone, errors.New(ErrPatchOwnership).
				Component(ComponentPolicy).
				Context("patch", int32(handle)).
				Context("owner", existing.UID).
				Context("uid", uid).
				Build()
		}
	} else {
		handle = audio.PatchHandleNone
	}

	src := p.Sources[0]
	switch {
	case src.IsMix():
		return m.createMixToDevicePatch(p, existing, handle, uid)
	case src.IsDevice() && p.Sinks[0].IsMix():
		return m.createDeviceToMixPatch(p, existing, handle, uid)
	case src.IsDevice() && p.Sinks[0].IsDevice():
		return m.createDeviceToDevicePatch(p, existing, handle, uid)
	}
	return audio.PatchHandleNone, invalidArgument("create_audio_patch", "source_type", src.Type.String())
}

func (m *Manager) createMixToDevicePatch(p audio.Patch, existing *patch.Descriptor, handle audio.PatchHandle, uid audio.UID) (audio.PatchHandle, error) {
	src := p.Sources[0]
	out, ok := m.outputs.GetOutputFromID(src.ID)
	if !ok || out.IsDuplicated() {
		return audio.PatchHandleNone, unknownPort(src.ID)
	}
	if existing != nil && existing.Patch.Sources[0].ID != src.ID {
		return audio.PatchHandleNone, invalidArgument("create_audio_patch", "source_changed", src.ID)
	}
	device := audio.DeviceNone
	for _, sink := range p.Sinks {
		if !sink.IsDevice() {
			return audio.PatchHandleNone, invalidOperation("create_audio_patch", "sink_type", sink.Type.String())
		}
		d := m.availableOutputs.GetDeviceFromID(sink.ID)
		if d == nil {
			return audio.PatchHandleNone, unknownPort(sink.ID)
		}
		cfg := audio.Config{SampleRate: src.SampleRate, ChannelMask: src.ChannelMask, Format: src.Format}
		if _, ok := out.Profile().IsCompatible(d.Type, d.Address, cfg, uint32(audio.OutputFlagNone), false); !ok {
			return audio.PatchHandleNone, invalidOperation("create_audio_patch", "device", d.String())
		}
		device |= d.Type
	}
	if device == audio.DeviceNone {
		return audio.PatchHandleNone, invalidOperation("create_audio_patch", "sinks", 0)
	}
	m.setOutputDevice(out, device, true, 0, &handle, "", true)
	d, ok := m.patches.Get(handle)
	if !ok {
		m.logger.Warn("output reroute did not install a patch", "output", int32(out.Handle()))
		return audio.PatchHandleNone, invalidOperation("create_audio_patch", "output", int32(out.Handle()))
	}
	d.UID = uid
	return d.Handle, nil
}

func (m *Manager) createDeviceToMixPatch(p audio.Patch, existing *patch.Descriptor, handle audio.PatchHandle, uid audio.UID) (audio.PatchHandle, error) {
	if len(p.Sinks) > 1 {
		return audio.PatchHandleNone, invalidOperation("create_audio_patch", "sinks", len(p.Sinks))
	}
	sink := p.Sinks[0]
	in, ok := m.inputs.GetInputFromID(sink.ID)
	if !ok {
		return audio.PatchHandleNone, unknownPort(sink.ID)
	}
	if existing != nil && existing.Patch.Sinks[0].ID != sink.ID {
		return audio.PatchHandleNone, invalidArgument("create_audio_patch", "sink_changed", sink.ID)
	}
	d := m.availableInputs.GetDeviceFromID(p.Sources[0].ID)
	if d == nil {
		return audio.PatchHandleNone, unknownPort(p.Sources[0].ID)
	}
	cfg := audio.Config{SampleRate: sink.SampleRate, ChannelMask: sink.ChannelMask, Format: sink.Format}
	if _, ok := in.Profile().IsCompatible(d.Type, d.Address, cfg, uint32(audio.InputFlagNone), false); !ok {
		return audio.PatchHandleNone, invalidOperation("create_audio_patch", "device", d.String())
	}
	m.setInputDevice(in, d.Type, true, &handle)
	desc, ok := m.patches.Get(handle)
	if !ok {
		m.logger.Warn("input reroute did not install a patch", "input", int32(in.Handle()))
		return audio.PatchHandleNone, invalidOperation("create_audio_patch", "input", int32(in.Handle()))
	}
	desc.UID = uid
	return desc.Handle, nil
}

func (m *Manager) createDeviceToDevicePatch(p audio.Patch, existing *patch.Descriptor, handle audio.PatchHandle, uid audio.UID) (audio.PatchHandle, error) {
	src := p.Sources[0]
	if existing != nil && existing.Patch.Sources[0].ID != src.ID {
		return audio.PatchHandleNone, invalidArgument("create_audio_patch", "source_changed", src.ID)
	}
	srcDevice := m.availableInputs.GetDeviceFromID(src.ID)
	if srcDevice == nil {
		return audio.PatchHandleNone, unknownPort(src.ID)
	}

	b := patch.NewBuilder().AddSource(srcDevice.PortConfig())
	var bridge *endpoint.Output
	for _, sink := range p.Sinks {
		if !sink.IsDevice() {
			return audio.PatchHandleNone, invalidOperation("create_audio_patch", "sink_type", sink.Type.String())
		}
		sinkDevice := m.availableOutputs.GetDeviceFromID(sink.ID)
		if sinkDevice == nil {
			return audio.PatchHandleNone, unknownPort(sink.ID)
		}
		b.AddSink(sinkDevice.PortConfig())

		if srcDevice.Module == sinkDevice.Module {
			continue
		}
		// Devices on different modules are bridged in software through an
		// output already reaching the sink.
		if len(p.Sinks) > 1 {
			return audio.PatchHandleNone, invalidOperation("create_audio_patch", "bridged_sinks", len(p.Sinks))
		}
		out := m.selectOutput(m.outputs.GetOutputsForDevice(sinkDevice.Type), audio.OutputFlagNone, audio.FormatInvalid)
		if out != nil {
			if out.IsDuplicated() {
				return audio.PatchHandleNone, invalidOperation("create_audio_patch", "bridge_output", int32(out.Handle()))
			}
			bridge = out
		}
	}
	if bridge != nil {
		pc := bridge.PortConfig()
		pc.Mix.Stream = audio.StreamPatch
		b.AddSource(pc)
	}

	d, err := m.installPatch("create_audio_patch", &handle, nil, b.Patch(), 0, uid)
	if err != nil {
		return audio.PatchHandleNone, invalidOperation("create_audio_patch", "hal", err.Error())
	}
	return d.Handle, nil
}

// ReleaseAudioPatch releases a patch installed by CreateAudioPatch. Only the
// uid that created it may release it, unless the policy owns it.
func (m *Manager) ReleaseAudioPatch(handle audio.PatchHandle, uid audio.UID) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("release_audio_patch", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}
	return m.releaseAudioPatch(handle, uid)
}

func (m *Manager) releaseAudioPatch(handle audio.PatchHandle, uid audio.UID) error {
	d, ok := m.patches.Get(handle)
	if !ok {
		return errors.New(ErrUnknownPatch).
			Component(ComponentPolicy).
			Context("patch", int32(handle)).
			Build()
	}
	if d.UID != UIDCached && d.UID != uid {
		return errors.New(ErrPatchOwnership).
			Component(ComponentPolicy).
			Context("patch", int32(handle)).
			Context("owner", d.UID).
			Context("uid", uid).
			Build()
	}
	// Audio source patches have no sink and go away with their source.
	if len(d.Patch.Sinks) == 0 {
		return invalidOperation("release_audio_patch", "patch", int32(handle))
	}
	d.UID = UIDCached

	src := d.Patch.Sources[0]
	switch {
	case src.IsMix():
		out, ok := m.outputs.GetOutputFromID(src.ID)
		if !ok {
			return unknownPort(src.ID)
		}
		m.setOutputDevice(out, m.newOutputDevice(out, true), true, 0, nil, "", true)
	case src.IsDevice() && d.Patch.Sinks[0].IsMix():
		in, ok := m.inputs.GetInputFromID(d.Patch.Sinks[0].ID)
		if !ok {
			return unknownPort(d.Patch.Sinks[0].ID)
		}
		m.setInputDevice(in, m.newInputDevice(in), true, nil)
	case src.IsDevice() && d.Patch.Sinks[0].IsDevice():
		m.releasePatch(d, 0)
	default:
		return invalidArgument("release_audio_patch", "source_type", src.Type.String())
	}
	return nil
}

// ListAudioPatches returns the installed patches and the port generation.
func (m *Manager) ListAudioPatches() ([]audio.Patch, uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patches.Patches(), m.portGeneration
}

// PatchGeneration returns the patch list generation. It changes on every
// install, update or release.
func (m *Manager) PatchGeneration() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patches.Generation()
}

// SetAudioPortConfig applies a gain configuration to a port. Other port
// settings cannot be changed.
func (m *Manager) SetAudioPortConfig(cfg audio.PortConfig) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("set_audio_port_config", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}
	if cfg.Gain == nil {
		return invalidOperation("set_audio_port_config", "gain", "missing")
	}

	switch cfg.Type {
	case audio.PortTypeMix:
		switch cfg.Role {
		case audio.PortRoleSource:
			out, ok := m.outputs.GetOutputFromID(cfg.ID)
			if !ok || out.IsDuplicated() {
				return unknownPort(cfg.ID)
			}
			pc := out.PortConfig()
			pc.Gain = cfg.Gain
			return m.applyPortConfig(pc)
		case audio.PortRoleSink:
			in, ok := m.inputs.GetInputFromID(cfg.ID)
			if !ok {
				return unknownPort(cfg.ID)
			}
			pc := in.PortConfig()
			pc.Gain = cfg.Gain
			return m.applyPortConfig(pc)
		}
	case audio.PortTypeDevice:
		devices := m.availableOutputs
		switch cfg.Role {
		case audio.PortRoleSource:
			devices = m.availableInputs
		case audio.PortRoleSink:
		default:
			return invalidArgument("set_audio_port_config", "role", cfg.Role)
		}
		d := devices.GetDeviceFromID(cfg.ID)
		if d == nil {
			return unknownPort(cfg.ID)
		}
		backup := d.ActiveConfig.Gain
		d.ActiveConfig.Gain = cfg.Gain
		if err := m.applyPortConfig(d.PortConfig()); err != nil {
			d.ActiveConfig.Gain = backup
			return err
		}
		return nil
	}
	return invalidArgument("set_audio_port_config", "type", cfg.Type.String())
}

func (m *Manager) applyPortConfig(pc audio.PortConfig) error {
	if err := m.hal.SetAudioPortConfig(pc, 0); err != nil {
		return errors.New(err).
			Component(ComponentPolicy).
			Category(errors.CategoryHAL).
			Context("port", int32(pc.ID)).
			Build()
	}
	return nil
}

// clearAudioPatches releases every patch uid created.
func (m *Manager) clearAudioPatches(uid audio.UID) {
	for _, d := range m.patches.OwnedBy(uid) {
		if err := m.releaseAudioPatch(d.Handle, uid); err != nil {
			m.logger.Warn("releasing client patch failed", "patch", int32(d.Handle), "uid", uid, "error", err)
		}
	}
}

func invalidArgument(op, key string, value any) error {
	return errors.New(ErrInvalidArgument).
		Component(ComponentPolicy).
		Context("operation", op).
		Context(key, value).
		Build()
}

func invalidOperation(op, key string, value any) error {
	return errors.New(ErrInvalidOperation).
		Component(ComponentPolicy).
		Context("operation", op).
		Context(key, value).
		Build()
}

func unknownPort(id audio.PortHandle) error {
	return errors.New(ErrUnknownPort).
		Component(ComponentPolicy).
		Context("port", int32(id)).
		Build()
}
