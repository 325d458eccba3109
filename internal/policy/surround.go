package policy

import (
	"slices"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/errors"
)

// SurroundFormat is one encoded surround format and whether it is enabled.
type SurroundFormat struct {
	Format  audio.Format `json:"format"`
	Enabled bool         `json:"enabled"`
}

// GetSurroundFormats lists the surround formats. With reported set only the
// formats an HDMI sink reports are listed, otherwise every known one. HDMI
// must be connected.
func (m *Manager) GetSurroundFormats(reported bool) ([]SurroundFormat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.availableOutputs.Types()&audio.DeviceOutHDMI == 0 {
		return nil, invalidOperation("get_surround_formats", "device", audio.DeviceOutHDMI.String())
	}

	var formats []audio.Format
	if reported {
		for _, d := range m.availableOutputs.GetDevicesFromTypeMask(audio.DeviceOutHDMI) {
			for _, f := range d.Profiles.Formats() {
				if f.IsSurround() && !slices.Contains(formats, f) {
					formats = append(formats, f)
				}
			}
		}
	} else {
		formats = slices.Clone(audio.SurroundFormats)
	}

	list := make([]SurroundFormat, 0, len(formats))
	for _, f := range formats {
		list = append(list, SurroundFormat{Format: f, Enabled: m.surroundFormats[f]})
	}
	return list, nil
}

// SetSurroundFormatEnabled enables or disables one surround format. It only
// applies in manual encoded surround mode, and takes effect by reconnecting
// the HDMI devices. The change is undone when no device could be
// reconnected.
func (m *Manager) SetSurroundFormatEnabled(format audio.Format, enabled bool) (err error) {
	const op = "set_surround_format_enabled"
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe(op, m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return err
	}

	if !format.IsSurround() {
		return invalidArgument(op, "format", format.String())
	}
	if m.engine.ForceUse(audio.ForceForEncodedSurround) != audio.ForceEncodedSurroundManual {
		m.logger.Warn("surround format selection outside manual mode", "format", format.String())
		return invalidOperation(op, "force_use", int(m.engine.ForceUse(audio.ForceForEncodedSurround)))
	}
	if m.surroundFormats[format] == enabled {
		return nil
	}
	if m.availableOutputs.Types()&audio.DeviceOutHDMI == 0 {
		return invalidOperation(op, "device", audio.DeviceOutHDMI.String())
	}

	backup := make(map[audio.Format]bool, len(m.surroundFormats))
	for f, on := range m.surroundFormats {
		backup[f] = on
	}
	if enabled {
		m.surroundFormats[format] = true
	} else {
		delete(m.surroundFormats, format)
	}

	updated := m.reconnectHDMI(audio.DeviceOutHDMI) || m.reconnectHDMI(audio.DeviceInHDMI)
	if !updated {
		m.logger.Warn("no audio profile updated, surround format change undone", "format", format.String())
		m.surroundFormats = backup
		return errors.New(ErrInvalidOperation).
			Component(ComponentPolicy).
			Context("operation", op).
			Context("format", format.String()).
			Build()
	}
	m.nextPortGeneration()
	m.portListChanged()
	m.logger.Info("surround format changed", "format", format.String(), "enabled", enabled)
	return nil
}

// reconnectHDMI disconnects and reconnects every available device of type
// so its dynamic profiles are read again. It reports whether at least one
// device came back.
func (m *Manager) reconnectHDMI(device audio.DeviceType) bool {
	available := m.availableOutputs
	if device.IsInput() {
		available = m.availableInputs
	}
	reconnected := false
	for _, d := range slices.Clone(available.GetDevicesFromTypeMask(device)) {
		address, name := d.Address, d.Name
		if err := m.setDeviceConnectionState(device, audio.DeviceStateUnavailable, address, name); err != nil {
			continue
		}
		if err := m.setDeviceConnectionState(device, audio.DeviceStateAvailable, address, name); err != nil {
			m.logger.Warn("hdmi reconnection failed", "device", device.String(), "address", address, "error", err)
			continue
		}
		reconnected = true
	}
	return reconnected
}

// filterSurroundFormats adjusts the formats an HDMI sink reports to the
// encoded surround setting. In manual mode the enabled formats replace the
// report. Otherwise the reported surround formats become the enabled ones.
func (m *Manager) filterSurroundFormats(formats []audio.Format) []audio.Format {
	forceUse := m.engine.ForceUse(audio.ForceForEncodedSurround)
	if forceUse == audio.ForceEncodedSurroundManual {
		var enabled []audio.Format
		for _, f := range audio.SurroundFormats {
			if m.surroundFormats[f] {
				enabled = append(enabled, f)
			}
		}
		return append(enabled, audio.FormatIEC61937)
	}

	rawSurround := func(f audio.Format) bool {
		switch f {
		case audio.FormatEAC3, audio.FormatDTS, audio.FormatDTSHD:
			return true
		}
		return false
	}
	supportsAC3 := slices.Contains(formats, audio.FormatAC3)
	supportsOther := slices.ContainsFunc(formats, rawSurround)
	supportsIEC := slices.Contains(formats, audio.FormatIEC61937)
	clear(m.surroundFormats)

	if forceUse == audio.ForceEncodedSurroundNever {
		return slices.DeleteFunc(formats, func(f audio.Format) bool {
			return f == audio.FormatAC3 || f == audio.FormatIEC61937 || rawSurround(f)
		})
	}

	if forceUse == audio.ForceEncodedSurroundAlways {
		formats = slices.DeleteFunc(formats, rawSurround)
	}
	// Most sinks decode AC3 without reporting it.
	if !supportsAC3 {
		formats = append(formats, audio.FormatAC3)
		supportsAC3 = true
	}
	if forceUse == audio.ForceEncodedSurroundAlways {
		formats = append(formats, audio.FormatEAC3, audio.FormatDTS, audio.FormatDTSHD)
		supportsOther = true
	}
	if (supportsAC3 || supportsOther) && !supportsIEC {
		formats = append(formats, audio.FormatIEC61937)
	}
	for _, f := range formats {
		if f.IsSurround() {
			m.surroundFormats[f] = true
		}
	}
	return formats
}

// filterSurroundChannelMasks drops multichannel masks when surround is
// disabled, and guarantees 5.1 when it is forced or manual.
func (m *Manager) filterSurroundChannelMasks(masks []audio.ChannelMask) []audio.ChannelMask {
	switch m.engine.ForceUse(audio.ForceForEncodedSurround) {
	case audio.ForceEncodedSurroundNever:
		return slices.DeleteFunc(masks, func(c audio.ChannelMask) bool {
			return c&^audio.ChannelOutStereo != 0
		})
	case audio.ForceEncodedSurroundAlways, audio.ForceEncodedSurroundManual:
		has51 := slices.ContainsFunc(masks, func(c audio.ChannelMask) bool {
			return c&audio.ChannelOut5Point1 == audio.ChannelOut5Point1
		})
		if !has51 {
			masks = append(masks, audio.ChannelOut5Point1)
		}
	}
	return masks
}
