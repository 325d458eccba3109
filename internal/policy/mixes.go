package policy

import (
	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/inventory"
	"github.com/tphakala/audiopolicy/internal/mix"
)

const remoteSubmixName = "remote-submix"

// RegisterPolicyMixes registers dynamic policy mixes. A loop back mix gets
// its own remote submix profiles and device at the mix address. A render mix
// is bound to the output currently patched to its device. Either all mixes
// are registered or none.
func (m *Manager) RegisterPolicyMixes(mixes []*mix.Mix) (err error) {
	const op = "register_policy_mixes"
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe(op, m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}

	for i, pm := range mixes {
		if err = m.registerMix(pm); err != nil {
			m.logger.Error("policy mix registration failed",
				"index", i,
				"address", pm.DeviceAddress,
				"route_flags", uint32(pm.RouteFlags),
				"error", err)
			m.unregisterPolicyMixes(mixes)
			return err
		}
	}
	m.nextPortGeneration()
	m.portListChanged()
	m.logger.Info("policy mixes registered", "count", len(mixes))
	return nil
}

func (m *Manager) registerMix(pm *mix.Mix) error {
	const op = "register_policy_mix"
	switch {
	case pm.IsLoopBack() && pm.IsRender():
		return invalidOperation(op, "route_flags", uint32(pm.RouteFlags))
	case pm.IsLoopBack():
		module := m.modules.GetModuleFromName(inventory.ModuleNameRemoteSubmix)
		if module == nil || !module.IsLoaded() {
			return invalidOperation(op, "module", inventory.ModuleNameRemoteSubmix)
		}
		// Players are captured from the input side, recorders are fed
		// from the output side.
		if pm.Type == mix.TypePlayers {
			pm.DeviceType = audio.DeviceInRemoteSubmix
		} else {
			pm.DeviceType = audio.DeviceOutRemoteSubmix
		}
		if err := m.mixes.Register(pm, audio.IOHandleNone); err != nil {
			return err
		}
		addSubmixProfiles(module, pm)
		if err := m.setDeviceConnectionState(pm.DeviceType, audio.DeviceStateAvailable, pm.DeviceAddress, remoteSubmixName); err != nil {
			m.logger.Warn("remote submix for policy mix not connected", "address", pm.DeviceAddress, "error", err)
		}
		return nil
	case pm.IsRender():
		for _, out := range m.outputs.Values() {
			d, ok := m.patches.Get(out.PatchHandle())
			if !ok || len(d.Patch.Sinks) == 0 {
				continue
			}
			sink := d.Patch.Sinks[0]
			if sink.IsDevice() && sink.Device.Type == pm.DeviceType && sink.Device.Address == pm.DeviceAddress {
				return m.mixes.Register(pm, out.Handle())
			}
		}
		return errors.New(ErrNoOutput).
			Component(ComponentPolicy).
			Context("operation", op).
			Context("device", pm.DeviceType.String()).
			Context("address", pm.DeviceAddress).
			Build()
	}
	return invalidArgument(op, "route_flags", uint32(pm.RouteFlags))
}

// addSubmixProfiles declares the stereo remote submix mix ports serving a
// loop back mix. The mixer does not produce mono so the channel
// conversion is left to the client.
func addSubmixProfiles(module *inventory.HwModule, pm *mix.Mix) {
	format, rate := pm.Format.Format, pm.Format.SampleRate
	if !format.IsValid() {
		format = audio.FormatPCM16Bit
	}
	if rate == 0 {
		rate = audio.SampleRateHzDefault
	}

	outDevice := inventory.NewDeviceDescriptor(audio.DeviceOutRemoteSubmix, pm.DeviceAddress, remoteSubmixName)
	outDevice.Module = module.Handle
	out := inventory.NewOutputProfile(pm.DeviceAddress, audio.OutputFlagNone)
	out.Profiles = inventory.Profiles{inventory.NewProfile(format, []uint32{rate}, []audio.ChannelMask{audio.ChannelOutStereo})}
	out.SupportedDevices = inventory.DeviceVector{outDevice}
	module.AddOutputProfile(out)

	inDevice := inventory.NewDeviceDescriptor(audio.DeviceInRemoteSubmix, pm.DeviceAddress, remoteSubmixName)
	inDevice.Module = module.Handle
	in := inventory.NewInputProfile(pm.DeviceAddress, audio.InputFlagNone)
	in.Profiles = inventory.Profiles{inventory.NewProfile(format, []uint32{rate}, []audio.ChannelMask{audio.ChannelInStereo})}
	in.SupportedDevices = inventory.DeviceVector{inDevice}
	module.AddInputProfile(in)
}

// UnregisterPolicyMixes removes policy mixes and disconnects the remote
// submix devices of loop back mixes. Every mix is attempted; the first
// failure is returned.
func (m *Manager) UnregisterPolicyMixes(mixes []*mix.Mix) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("unregister_policy_mixes", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}
	err = m.unregisterPolicyMixes(mixes)
	m.nextPortGeneration()
	m.portListChanged()
	return err
}

func (m *Manager) unregisterPolicyMixes(mixes []*mix.Mix) error {
	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}
	for _, pm := range mixes {
		if pm.IsLoopBack() {
			module := m.modules.GetModuleFromName(inventory.ModuleNameRemoteSubmix)
			if module == nil {
				keep(invalidOperation("unregister_policy_mix", "module", inventory.ModuleNameRemoteSubmix))
				continue
			}
			if err := m.mixes.Unregister(pm.DeviceAddress); err != nil {
				keep(err)
				continue
			}
			for _, device := range []audio.DeviceType{audio.DeviceInRemoteSubmix, audio.DeviceOutRemoteSubmix} {
				if m.deviceConnectionState(device, pm.DeviceAddress) != audio.DeviceStateAvailable {
					continue
				}
				if err := m.setDeviceConnectionState(device, audio.DeviceStateUnavailable, pm.DeviceAddress, remoteSubmixName); err != nil {
					m.logger.Warn("remote submix disconnect failed", "address", pm.DeviceAddress, "error", err)
				}
			}
			module.RemoveOutputProfile(pm.DeviceAddress)
			module.RemoveInputProfile(pm.DeviceAddress)
			continue
		}
		if pm.IsRender() {
			if err := m.mixes.Unregister(pm.DeviceAddress); err != nil {
				keep(err)
			}
		}
	}
	return firstErr
}

// PolicyMixes returns the registered policy mixes.
func (m *Manager) PolicyMixes() []*mix.Mix {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mixes.All()
}
