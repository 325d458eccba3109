package policy

import (
	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/endpoint"
	"github.com/tphakala/audiopolicy/internal/mix"
)

// StartInput starts a capture client. Captures on hardware devices are
// arbitrated: a call on the module wins, concurrent regular captures are
// refused, and a starting capture preempts active hotword sessions. The
// returned Concurrency tells what the arbitration ran into, also on success.
func (m *Manager) StartInput(port audio.PortHandle, silenced bool) (_ Concurrency, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.observe("start_input", m.clock.Now(), &err)
	if err := m.checkInitialized(); err != nil {
		return ConcurrencyNone, err
	}

	in, ok := m.inputs.GetInputForClient(port)
	if !ok {
		return ConcurrencyNone, unknownClient("start_input", port)
	}
	c, _ := in.Client(port)
	if c.Active() {
		m.logger.Warn("input client already started", "input", int32(in.Handle()), "port_id", int32(port))
		return ConcurrencyNone, invalidOperation("start_input", "port_id", int32(port))
	}

	var concurrency Concurrency
	if !in.Device.IsVirtualInput() {
		if concurrency, err = m.arbitrateCapture(in, c, silenced); err != nil {
			m.recorder.CaptureRejected(concurrency.String())
			m.logger.Info("capture rejected",
				"input", int32(in.Handle()),
				"port_id", int32(port),
				"source", c.Source().String(),
				"concurrency", concurrency.String())
			return concurrency, err
		}
	}

	c.Silenced = silenced
	// Device selection only looks at active clients.
	in.SetClientActive(c, true)
	device := m.newInputDevice(in)
	m.setInputDevice(in, device, true, nil)

	if err := in.Start(); err != nil {
		in.SetClientActive(c, false)
		return concurrency, err
	}
	m.notifyRecording(in, c, true)

	if in.ActiveCount() == 1 {
		if in.PolicyMix != nil {
			m.notifier.MixStateChanged(in.PolicyMix.DeviceAddress, mix.StateMixing)
		}
		// A remote submix capture makes its playback side appear.
		if address, ok := submixOutputAddress(in); ok {
			m.setRemoteSubmixOutput(address, audio.DeviceStateAvailable)
		}
	}
	m.logger.Debug("input started",
		"input", int32(in.Handle()),
		"port_id", int32(port),
		"source", c.Source().String(),
		"device", device.String(),
		"concurrency", concurrency.String())
	return concurrency, nil
}

// arbitrateCapture applies the capture concurrency rules for c starting on
// in. Rival clients it evicts are stopped and released.
func (m *Manager) arbitrateCapture(in *endpoint.Input, c *endpoint.RecordClient, silenced bool) (Concurrency, error) {
	portID := int32(c.PortID)
	if m.callTxPatch != nil && len(m.callTxPatch.Patch.Sources) > 0 &&
		in.ModuleHandle() == m.callTxPatch.Patch.Sources[0].Device.Module {
		return ConcurrencyCall, concurrencyError(ErrCallCapture, ConcurrencyCall, portID)
	}

	active := m.inputs.ActiveInputs(false)
	// The last capture that is not silenced wins over silenced ones.
	if !silenced {
		evicted := false
		for _, other := range active {
			if other.IsMmap() && other == in {
				continue
			}
			for _, rival := range other.Clients(true, audio.SourceDefault) {
				if rival.Silenced {
					m.logger.Debug("stopping silenced capture", "port_id", int32(rival.PortID), "for", portID)
					m.closeClient(rival.PortID)
					evicted = true
				}
			}
		}
		if evicted {
			active = m.inputs.ActiveInputs(false)
		}
	}

	concurrentTrigger := in.IsSoundTrigger && m.settings.ConcurrentCaptureSupport
	for _, other := range active {
		if c.Flags&audio.InputFlagMmapNoIRQ != 0 && other == in {
			continue
		}
		activeSource := other.HighestPrioritySource(true)
		switch {
		case c.Source() == audio.SourceHotword && activeSource == audio.SourceHotword:
			// A session preempted by the active hotword input must not take
			// it back, and two hotword captures only coexist on hardware
			// built for it.
			if other.HasPreemptedSession(c.Session) || !concurrentTrigger {
				return ConcurrencyHotword, concurrencyError(ErrHotwordConflict, ConcurrencyHotword, portID)
			}
		case c.Source() == audio.SourceHotword:
			return ConcurrencyCapture, concurrencyError(ErrCaptureConflict, ConcurrencyCapture, portID)
		case activeSource != audio.SourceHotword:
			return ConcurrencyCapture, concurrencyError(ErrCaptureConflict, ConcurrencyCapture, portID)
		}
	}

	var concurrency Concurrency
	for _, other := range active {
		if concurrentTrigger && other.IsSoundTrigger {
			continue
		}
		hotword := other.Clients(true, audio.SourceHotword)
		if len(hotword) == 0 {
			continue
		}
		sessions := other.PreemptedSessions()
		for _, rival := range hotword {
			concurrency |= ConcurrencyPreempt
			sessions = append(sessions, rival.Session)
			m.logger.Debug("preempting hotword capture",
				"port_id", int32(rival.PortID),
				"input", int32(other.Handle()),
				"for", portID)
			m.closeClient(rival.PortID)
		}
		in.SetPreemptedSessions(sessions)
	}
	return concurrency, nil
}

// SetAppState records the importance of a uid. Captures of idle uids are
// silenced, captures of other uids are not.
func (m *Manager) SetAppState(uid audio.UID, state audio.AppState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	silenced := state == audio.AppStateIdle
	for _, in := range m.inputs.Values() {
		for _, c := range in.Clients(false, audio.SourceDefault) {
			if c.UID != uid {
				continue
			}
			c.AppState = state
			if c.Silenced != silenced {
				c.Silenced = silenced
				m.logger.Debug("capture silence changed",
					"port_id", int32(c.PortID),
					"uid", uid,
					"silenced", silenced)
			}
		}
	}
}
