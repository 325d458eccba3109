package policy

import (
	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/endpoint"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/hal"
	"github.com/tphakala/audiopolicy/internal/inventory"
)

// pickConfig returns the configuration a stream opened on profile uses when
// the caller leaves fields unset: the first valid profile, its highest rate
// and its first channel mask.
func pickConfig(profile *inventory.IOProfile, cfg audio.Config) audio.Config {
	for _, p := range profile.Profiles {
		if !p.IsValid() {
			continue
		}
		if cfg.Format == audio.FormatDefault {
			cfg.Format = p.Format
		}
		if cfg.SampleRate == 0 {
			cfg.SampleRate = p.SampleRates[len(p.SampleRates)-1]
		}
		if cfg.ChannelMask == audio.ChannelNone {
			cfg.ChannelMask = p.ChannelMasks[0]
		}
		break
	}
	return cfg
}

// openOutputStream opens an output on profile routed to device. The profile
// flags are always requested in addition to flags.
func (m *Manager) openOutputStream(profile *inventory.IOProfile, device audio.DeviceType, address string, cfg audio.Config, flags audio.OutputFlags) (*endpoint.Output, error) {
	if !profile.CanOpenNewIO() {
		return nil, errors.New(endpoint.ErrTooManyActive).
			Component(ComponentPolicy).
			Context("profile", profile.Name).
			Context("max_open", profile.MaxOpenCount).
			Build()
	}
	flags |= profile.OutputFlags()
	req := hal.OutputRequest{
		Config:  pickConfig(profile, cfg),
		Device:  device,
		Address: address,
		Flags:   flags,
	}
	res, err := m.hal.OpenOutput(profile.ModuleHandle(), req)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentPolicy).
			Category(errors.CategoryHAL).
			Context("profile", profile.Name).
			Context("device", device.String()).
			Build()
	}
	profile.CurOpenCount++
	out := endpoint.NewOutput(res.Handle, profile, res.Config, flags, device, res.LatencyMs)
	out.Address = address
	out.ID = m.ids.Next()
	m.logger.Debug("output opened",
		"output", int32(res.Handle),
		"profile", profile.Name,
		"device", device.String(),
		"sample_rate", res.Config.SampleRate,
		"format", res.Config.Format.String(),
		"latency_ms", res.LatencyMs)
	return out, nil
}

// closeOutputStream closes the hardware stream of out and gives back its
// profile counters without touching the policy registries.
func (m *Manager) closeOutputStream(out *endpoint.Output) {
	out.ReleaseActiveSlot(m.clock.Now())
	if err := m.hal.CloseOutput(out.Handle()); err != nil {
		m.logger.Warn("closing output failed", "output", int32(out.Handle()), "error", err)
	}
	if p := out.Profile(); p != nil && p.CurOpenCount > 0 {
		p.CurOpenCount--
	}
}

// openDuplicatedOutput opens an output mixing into both out1 and out2.
func (m *Manager) openDuplicatedOutput(out1, out2 *endpoint.Output) (*endpoint.Output, error) {
	h, err := m.hal.OpenDuplicateOutput(out1.Handle(), out2.Handle())
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentPolicy).
			Category(errors.CategoryHAL).
			Context("output1", int32(out1.Handle())).
			Context("output2", int32(out2.Handle())).
			Build()
	}
	dup := endpoint.NewDuplicatedOutput(h, out1, out2)
	dup.ID = m.ids.Next()
	return dup, nil
}

// openInputStream opens an input on profile capturing from device.
func (m *Manager) openInputStream(profile *inventory.IOProfile, device audio.DeviceType, address string, cfg audio.Config, source audio.Source, flags audio.InputFlags) (*endpoint.Input, error) {
	if !profile.CanOpenNewIO() {
		return nil, errors.New(endpoint.ErrTooManyActive).
			Component(ComponentPolicy).
			Context("profile", profile.Name).
			Context("max_open", profile.MaxOpenCount).
			Build()
	}
	req := hal.InputRequest{
		Config:  pickConfig(profile, cfg),
		Device:  device,
		Address: address,
		Source:  source,
		Flags:   flags,
	}
	res, err := m.hal.OpenInput(profile.ModuleHandle(), req)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentPolicy).
			Category(errors.CategoryHAL).
			Context("profile", profile.Name).
			Context("device", device.String()).
			Build()
	}
	profile.CurOpenCount++
	in := endpoint.NewInput(res.Handle, profile, res.Config, flags, device, address)
	in.ID = m.ids.Next()
	m.logger.Debug("input opened",
		"input", int32(res.Handle),
		"profile", profile.Name,
		"device", device.String(),
		"source", source.String())
	return in, nil
}

// closeInputStream closes the hardware stream of in and gives back its
// profile counters without touching the policy registries.
func (m *Manager) closeInputStream(in *endpoint.Input) {
	in.ReleaseActiveSlot()
	if err := m.hal.CloseInput(in.Handle()); err != nil {
		m.logger.Warn("closing input failed", "input", int32(in.Handle()), "error", err)
	}
	if p := in.Profile(); p != nil && p.CurOpenCount > 0 {
		p.CurOpenCount--
	}
}

// addOutput registers an opened output and brings its volumes and mono
// state in line with the policy.
func (m *Manager) addOutput(out *endpoint.Output) {
	m.outputs.Add(out.Handle(), out)
	m.applyStreamVolumes(out, audio.DeviceNone, 0, true)
	m.updateMono(out)
	m.selectOutputForMusicEffects()
	m.nextPortGeneration()
}

// removeOutput forgets an output.
func (m *Manager) removeOutput(h audio.IOHandle) {
	m.outputs.Remove(h)
	m.selectOutputForMusicEffects()
}

// addInput registers an opened input.
func (m *Manager) addInput(in *endpoint.Input) {
	m.inputs.Add(in.Handle(), in)
	m.nextPortGeneration()
}

// closeOutput closes an output, the duplicated outputs built on it and the
// patch routing it. Activity the duplicated outputs forwarded to the
// surviving leg is withdrawn.
func (m *Manager) closeOutput(h audio.IOHandle) {
	out, ok := m.outputs.Get(h)
	if !ok {
		m.logger.Warn("close of unknown output", "output", int32(h))
		return
	}
	m.mixes.CloseOutput(h)

	for _, dup := range m.outputs.Values() {
		if !dup.IsDuplicated() {
			continue
		}
		out1, out2 := dup.SubOutputs()
		if out1 != out && out2 != out {
			continue
		}
		other := out1
		if out1 == out {
			other = out2
		}
		now := m.clock.Now()
		wasActive := other.IsActive(0, now)
		for _, c := range dup.ActiveClients() {
			other.ChangeStreamActiveCount(c.Stream, -1)
		}
		if wasActive {
			other.Stop(now)
		}
		m.logger.Debug("closing duplicated output", "output", int32(dup.Handle()), "leg", int32(h))
		m.closeOutputStream(dup)
		m.removeOutput(dup.Handle())
	}

	m.nextPortGeneration()

	if d, ok := m.patches.Get(out.PatchHandle()); ok {
		if err := m.hal.ReleaseAudioPatch(d.HALHandle, 0); err != nil {
			m.logger.Warn("releasing output patch failed", "patch", int32(d.Handle), "error", err)
		}
		_ = m.patches.Remove(d.Handle)
		m.patchListChanged()
	}

	m.closeOutputStream(out)
	m.removeOutput(h)
	m.previousOutputs = m.outputs.Clone()
	if m.musicEffectOutput == h {
		m.musicEffectOutput = audio.IOHandleNone
	}
	m.logger.Debug("output closed", "output", int32(h))

	// A multi stream decoder patch released for a direct output comes back
	// once no direct output is left.
	if m.msdOutDeviceTypes() != audio.DeviceNone && !m.outputs.HasDirectOutput() {
		if err := m.setMsdPatch(audio.DeviceNone); err != nil {
			m.logger.Warn("restoring msd patch failed", "error", err)
		}
	}
}

// closeInput closes an input and releases the patch routing it.
func (m *Manager) closeInput(h audio.IOHandle) {
	in, ok := m.inputs.Get(h)
	if !ok {
		m.logger.Warn("close of unknown input", "input", int32(h))
		return
	}
	m.nextPortGeneration()

	if d, ok := m.patches.Get(in.PatchHandle()); ok {
		if err := m.hal.ReleaseAudioPatch(d.HALHandle, 0); err != nil {
			m.logger.Warn("releasing input patch failed", "patch", int32(d.Handle), "error", err)
		}
		_ = m.patches.Remove(d.Handle)
		m.patchListChanged()
	}

	for _, c := range in.Clients(true, audio.SourceDefault) {
		m.notifyRecording(in, c, false)
	}
	m.closeInputStream(in)
	m.inputs.Remove(h)
	for session, input := range m.soundTrigger {
		if input == h {
			delete(m.soundTrigger, session)
		}
	}
	m.logger.Debug("input closed", "input", int32(h))
}

// closeActiveClients stops and drops every started client of in.
func (m *Manager) closeActiveClients(in *endpoint.Input) {
	for _, c := range in.Clients(true, audio.SourceDefault) {
		m.closeClient(c.PortID)
	}
}

// closeClient stops and releases a capture client.
func (m *Manager) closeClient(port audio.PortHandle) {
	_ = m.stopInput(port)
	m.releaseInput(port)
}

// closeAllInputs closes every input, for example after the capture device
// list changed.
func (m *Manager) closeAllInputs() {
	patchesReleased := false
	for _, in := range m.inputs.Values() {
		if d, ok := m.patches.Get(in.PatchHandle()); ok {
			if err := m.hal.ReleaseAudioPatch(d.HALHandle, 0); err != nil {
				m.logger.Warn("releasing input patch failed", "patch", int32(d.Handle), "error", err)
			}
			_ = m.patches.Remove(d.Handle)
			patchesReleased = true
		}
		for _, c := range in.Clients(true, audio.SourceDefault) {
			m.notifyRecording(in, c, false)
		}
		m.closeInputStream(in)
	}
	m.inputs.Clear()
	clear(m.soundTrigger)
	m.nextPortGeneration()
	if patchesReleased {
		m.patchListChanged()
	}
}
