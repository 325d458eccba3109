package policy

import (
	"slices"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/inventory"
	"github.com/tphakala/audiopolicy/internal/patch"
)

// msdFormatOrder ranks the formats a multi stream decoder patch may carry,
// encoded first.
var msdFormatOrder = []audio.Format{
	audio.FormatEAC3JOC,
	audio.FormatEAC3,
	audio.FormatAC3,
	audio.FormatPCMFloat,
	audio.FormatPCM32Bit,
	audio.FormatPCM24BitPacked,
	audio.FormatPCM16Bit,
}

func (m *Manager) msdModule() *inventory.HwModule {
	module := m.modules.GetModuleFromName(inventory.ModuleNameMSD)
	if module == nil || !module.IsLoaded() {
		return nil
	}
	return module
}

// msdOutDeviceTypes returns the available output devices of the multi
// stream decoder module.
func (m *Manager) msdOutDeviceTypes() audio.DeviceType {
	module := m.msdModule()
	if module == nil {
		return audio.DeviceNone
	}
	return m.availableOutputs.GetDevicesFromModule(module.Handle).Types()
}

// msdInDevice returns the capture device the decoder output is read from.
func (m *Manager) msdInDevice() *inventory.DeviceDescriptor {
	module := m.msdModule()
	if module == nil {
		return nil
	}
	if devices := m.availableInputs.GetDevicesFromModule(module.Handle); len(devices) > 0 {
		return devices[0]
	}
	return nil
}

// msdPatches returns the patches fed by the decoder module.
func (m *Manager) msdPatches() []*patch.Descriptor {
	module := m.msdModule()
	if module == nil {
		return nil
	}
	var found []*patch.Descriptor
	for _, d := range m.patches.All() {
		for _, src := range d.Patch.Sources {
			if src.IsDevice() && src.Device.Module == module.Handle {
				found = append(found, d)
				break
			}
		}
	}
	return found
}

// msdConfig returns the best configuration both the decoder and the sink
// module can carry: preferred format, most channels, highest rate. hwAvSync
// restricts the search to A/V sync profiles.
func (m *Manager) msdConfig(device audio.DeviceType, hwAvSync bool) (source, sink audio.Config, ok bool) {
	module := m.msdModule()
	sinkModule := m.modules.GetModuleForDeviceType(device)
	if module == nil || sinkModule == nil {
		return audio.Config{}, audio.Config{}, false
	}

	var decoder, renderer inventory.Profiles
	for _, p := range module.InputProfiles {
		if hwAvSync == (p.InputFlags()&audio.InputFlagHwAvSync != 0) {
			decoder = append(decoder, p.Profiles...)
		}
	}
	for _, p := range sinkModule.OutputProfiles {
		if hwAvSync == (p.OutputFlags()&audio.OutputFlagHwAvSync != 0) {
			renderer = append(renderer, p.Profiles...)
		}
	}

	for _, format := range msdFormatOrder {
		var best struct {
			rate    uint32
			in, out audio.ChannelMask
		}
		for _, dp := range decoder {
			if dp.Format != format {
				continue
			}
			for _, rp := range renderer {
				if rp.Format != format {
					continue
				}
				for _, rate := range dp.SampleRates {
					if !slices.Contains(rp.SampleRates, rate) {
						continue
					}
					for _, in := range dp.ChannelMasks {
						for _, out := range rp.ChannelMasks {
							if in.Count() != out.Count() {
								continue
							}
							if out.Count() > best.out.Count() || (out.Count() == best.out.Count() && rate > best.rate) {
								best.rate, best.in, best.out = rate, in, out
							}
						}
					}
				}
			}
		}
		if best.rate != 0 {
			return audio.Config{SampleRate: best.rate, ChannelMask: best.in, Format: format},
				audio.Config{SampleRate: best.rate, ChannelMask: best.out, Format: format}, true
		}
	}
	return audio.Config{}, audio.Config{}, false
}

// buildMsdPatch connects the decoder to device. Without a common encoded
// configuration the patch carries PCM and the hardware converts.
func (m *Manager) buildMsdPatch(device audio.DeviceType) (audio.Patch, bool) {
	in := m.msdInDevice()
	out := firstDevice(m.availableOutputs, device)
	if in == nil || out == nil {
		return audio.Patch{}, false
	}
	src, sink := in.PortConfig(), out.PortConfig()
	// A/V sync profiles are tried first since the configuration does not
	// tell whether the decoder supports it.
	srcCfg, sinkCfg, ok := m.msdConfig(device, true)
	if !ok {
		srcCfg, sinkCfg, ok = m.msdConfig(device, false)
	}
	if ok {
		src.SampleRate, src.ChannelMask, src.Format = srcCfg.SampleRate, srcCfg.ChannelMask, srcCfg.Format
		sink.SampleRate, sink.ChannelMask, sink.Format = sinkCfg.SampleRate, sinkCfg.ChannelMask, sinkCfg.Format
	}
	return patch.NewBuilder().AddSource(src).AddSink(sink).Patch(), true
}

// setMsdPatch routes the decoder to device, or to the media device when
// device is DeviceNone. Only one decoder patch may exist.
func (m *Manager) setMsdPatch(device audio.DeviceType) error {
	if device == audio.DeviceNone {
		device = m.deviceForStrategy(audio.StrategyMedia, false)
	}
	p, ok := m.buildMsdPatch(device)
	if !ok {
		return invalidOperation("set_msd_patch", "device", device.String())
	}

	current := m.msdPatches()
	if len(current) > 1 {
		m.logger.Error("more than one msd patch", "count", len(current))
		return errors.New(ErrMSDPatchExists).
			Component(ComponentPolicy).
			Context("count", len(current)).
			Build()
	}
	if len(current) == 1 {
		if samePatchConfig(current[0].Patch, p) {
			return nil
		}
		if err := m.releaseAudioPatch(current[0].Handle, UIDCached); err != nil {
			return err
		}
	}
	if _, err := m.installPatch("set_msd_patch", nil, nil, p, 0, UIDCached); err != nil {
		m.logger.Error("creating msd patch failed", "device", device.String(), "error", err)
		return err
	}
	m.logger.Info("msd patch created",
		"device", device.String(),
		"format", p.Sources[0].Format.String(),
		"channel_mask", uint32(p.Sources[0].ChannelMask),
		"sample_rate", p.Sources[0].SampleRate)
	return nil
}

// releaseMsdPatchesFor releases the decoder patches rendering to device so a
// direct output can take the sink.
func (m *Manager) releaseMsdPatchesFor(device audio.DeviceType, address string) {
	for _, d := range m.msdPatches() {
		for _, sink := range d.Patch.Sinks {
			if sink.IsDevice() && sink.Device.Type&device != audio.DeviceNone &&
				(address == "" || sink.Device.Address == address) {
				if err := m.releaseAudioPatch(d.Handle, UIDCached); err != nil {
					m.logger.Warn("releasing msd patch failed", "patch", int32(d.Handle), "error", err)
				}
				break
			}
		}
	}
}

// samePatchConfig reports whether two patches connect the same ports with
// the same stream configuration.
func samePatchConfig(a, b audio.Patch) bool {
	if !a.SameRouting(b) {
		return false
	}
	same := func(x, y audio.PortConfig) bool {
		return x.SampleRate == y.SampleRate && x.ChannelMask == y.ChannelMask && x.Format == y.Format
	}
	return slices.EqualFunc(a.Sources, b.Sources, same) && slices.EqualFunc(a.Sinks, b.Sinks, same)
}
