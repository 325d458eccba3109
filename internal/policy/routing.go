package policy

import (
	"slices"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/endpoint"
	"github.com/tphakala/audiopolicy/internal/hal"
	"github.com/tphakala/audiopolicy/internal/inventory"
	"github.com/tphakala/audiopolicy/internal/mix"
)

// routingRule is one step of the output device priority ladder. The first
// rule that applies to an output picks the strategy whose device the output
// is routed to.
type routingRule struct {
	name     string
	strategy audio.Strategy
	applies  func(m *Manager, out *endpoint.Output) bool
}

// outputRoutingRules is evaluated in order. A ringing call must never lose
// its route to background music.
var outputRoutingRules = []routingRule{
	{
		name:     "enforced_audible_system",
		strategy: audio.StrategyEnforcedAudible,
		applies: func(m *Manager, out *endpoint.Output) bool {
			return m.isStrategyActive(out, audio.StrategyEnforcedAudible, 0) &&
				m.engine.ForceUse(audio.ForceForSystem) == audio.ForceSystemEnforced
		},
	},
	{
		name:     "call",
		strategy: audio.StrategyPhone,
		applies: func(m *Manager, out *endpoint.Output) bool {
			return m.isInCall() || m.isStrategyActiveOnSameModule(out, audio.StrategyPhone)
		},
	},
	{
		name:     "sonification",
		strategy: audio.StrategySonification,
		applies: func(m *Manager, out *endpoint.Output) bool {
			return m.isStrategyActiveOnSameModule(out, audio.StrategySonification)
		},
	},
	activeStrategyRule("enforced_audible", audio.StrategyEnforcedAudible),
	activeStrategyRule("accessibility", audio.StrategyAccessibility),
	activeStrategyRule("sonification_respectful", audio.StrategySonificationRespectful),
	activeStrategyRule("media", audio.StrategyMedia),
	activeStrategyRule("dtmf", audio.StrategyDTMF),
	activeStrategyRule("beacon", audio.StrategyTransmittedThroughSpeaker),
	activeStrategyRule("rerouting", audio.StrategyRerouting),
}

func activeStrategyRule(name string, strategy audio.Strategy) routingRule {
	return routingRule{
		name:     name,
		strategy: strategy,
		applies: func(m *Manager, out *endpoint.Output) bool {
			return m.isStrategyActive(out, strategy, 0)
		},
	}
}

// strategyCheckOrder is the order strategies are re-evaluated after a
// device or forced use change. Enforced audible goes first when the system
// enforces it.
func (m *Manager) strategyCheckOrder() []audio.Strategy {
	order := make([]audio.Strategy, 0, audio.NumStrategies)
	enforced := m.engine.ForceUse(audio.ForceForSystem) == audio.ForceSystemEnforced
	if enforced {
		order = append(order, audio.StrategyEnforcedAudible)
	}
	order = append(order, audio.StrategyPhone)
	if !enforced {
		order = append(order, audio.StrategyEnforcedAudible)
	}
	return append(order,
		audio.StrategySonification,
		audio.StrategySonificationRespectful,
		audio.StrategyAccessibility,
		audio.StrategyMedia,
		audio.StrategyDTMF,
		audio.StrategyRerouting)
}

// preferredOutputDevice returns the device every active client of out with
// strategy asked for. The second result reports whether out has any active
// client.
func (m *Manager) preferredOutputDevice(out *endpoint.Output, strategy audio.Strategy) (*inventory.DeviceDescriptor, bool) {
	active := out.ActiveClients()
	if len(active) == 0 {
		return nil, false
	}
	var routed []*endpoint.TrackClient
	for _, c := range active {
		if (strategy == audio.StrategyNone || c.Strategy == strategy) && c.HasPreferredDevice(true) {
			routed = append(routed, c)
		}
	}
	if len(routed) != len(active) {
		return nil, true
	}
	return m.availableOutputs.GetDeviceFromID(routed[0].PreferredDevice), true
}

// preferredInputDevice is preferredOutputDevice for capture clients.
// SourceDefault matches every source.
func (m *Manager) preferredInputDevice(in *endpoint.Input, source audio.Source) (*inventory.DeviceDescriptor, bool) {
	active := in.Clients(true, audio.SourceDefault)
	if len(active) == 0 {
		return nil, false
	}
	var routed []*endpoint.RecordClient
	for _, c := range active {
		if (source == audio.SourceDefault || c.Source() == source) && c.HasPreferredDevice(true) {
			routed = append(routed, c)
		}
	}
	if len(routed) != len(active) {
		return nil, true
	}
	return m.availableInputs.GetDeviceFromID(routed[0].PreferredDevice), true
}

// findPreferredOutputDevice honors explicit routing only when every active
// output agrees. The last routed output wins.
func (m *Manager) findPreferredOutputDevice(strategy audio.Strategy) *inventory.DeviceDescriptor {
	var found *inventory.DeviceDescriptor
	for _, out := range m.outputs.Values() {
		d, active := m.preferredOutputDevice(out, strategy)
		if active && d == nil {
			return nil
		}
		if d != nil {
			found = d
		}
	}
	return found
}

// findPreferredInputDevice is findPreferredOutputDevice for inputs.
func (m *Manager) findPreferredInputDevice(source audio.Source) *inventory.DeviceDescriptor {
	var found *inventory.DeviceDescriptor
	for _, in := range m.inputs.Values() {
		d, active := m.preferredInputDevice(in, source)
		if active && d == nil {
			return nil
		}
		if d != nil {
			found = d
		}
	}
	return found
}

// deviceForStrategy returns the devices strategy plays to. fromCache
// answers from the last full re-evaluation instead of asking the engine.
func (m *Manager) deviceForStrategy(strategy audio.Strategy, fromCache bool) audio.DeviceType {
	if d := m.findPreferredOutputDevice(strategy); d != nil {
		return d.Type
	}
	if strategy < 0 || strategy >= audio.NumStrategies {
		return audio.DeviceNone
	}
	if fromCache {
		return m.strategyDevices[strategy]
	}
	return m.engine.DeviceForStrategy(strategy)
}

// DeviceForStrategy returns the devices strategy currently plays to.
func (m *Manager) DeviceForStrategy(strategy audio.Strategy, fromCache bool) audio.DeviceType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceForStrategy(strategy, fromCache)
}

// newOutputDevice returns the device out should be routed to given the
// streams active on it.
func (m *Manager) newOutputDevice(out *endpoint.Output, fromCache bool) audio.DeviceType {
	if d, ok := m.patches.Get(out.PatchHandle()); ok && d.UID != UIDCached {
		return out.Device()
	}
	// A client may not force the route of other clients: explicit routing
	// applies only when every active client asked for it.
	if d, _ := m.preferredOutputDevice(out, audio.StrategyNone); d != nil {
		return d.Type
	}
	rule, ok := m.outputRoutingRule(out)
	if !ok {
		return audio.DeviceNone
	}
	device := m.deviceForStrategy(rule.strategy, fromCache)
	m.logger.Debug("output routing rule matched",
		"output", int32(out.Handle()),
		"rule", rule.name,
		"device", device.String())
	return device
}

// outputRoutingRule returns the first rule of the ladder applying to out.
func (m *Manager) outputRoutingRule(out *endpoint.Output) (routingRule, bool) {
	for _, rule := range outputRoutingRules {
		if rule.applies(m, out) {
			return rule, true
		}
	}
	return routingRule{}, false
}

// NewOutputDevice returns the device the output with handle h would be
// routed to now.
func (m *Manager) NewOutputDevice(h audio.IOHandle, fromCache bool) audio.DeviceType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.outputs.Get(h)
	if !ok {
		return audio.DeviceNone
	}
	return m.newOutputDevice(out, fromCache)
}

// newInputDevice returns the device in should capture from. An input with
// no active client and no call gets none, releasing its patch.
func (m *Manager) newInputDevice(in *endpoint.Input) audio.DeviceType {
	if d, ok := m.patches.Get(in.PatchHandle()); ok && d.UID != UIDCached {
		return in.Device
	}
	if d, _ := m.preferredInputDevice(in, audio.SourceDefault); d != nil {
		return d.Type
	}
	source := in.HighestPrioritySource(true)
	if source == audio.SourceDefault && m.isInCall() {
		source = audio.SourceVoiceCommunication
	}
	if source == audio.SourceDefault {
		return audio.DeviceNone
	}
	device, _ := m.deviceAndMixForInputSource(source)
	return device
}

// deviceAndMixForInputSource resolves the capture device of source and the
// policy mix capturing it, if any.
func (m *Manager) deviceAndMixForInputSource(source audio.Source) (audio.DeviceType, *mix.Mix) {
	if d := m.findPreferredInputDevice(source); d != nil {
		return d.Type, nil
	}
	if device, pm := m.mixes.GetDeviceAndMixForInputSource(source, m.availableInputs.Types()); device != audio.DeviceNone {
		return device, pm
	}
	return m.engine.DeviceForInputSource(source), nil
}

// updateDevicesAndOutputs refreshes the per strategy device cache and
// snapshots the outputs for the next change detection.
func (m *Manager) updateDevicesAndOutputs() {
	for s := audio.Strategy(0); s < audio.NumStrategies; s++ {
		m.strategyDevices[s] = m.deviceForStrategy(s, false)
	}
	m.previousOutputs = m.outputs.Clone()
}

// checkForDeviceAndOutputChanges re-evaluates every strategy after a device
// or endpoint change. onOutputsChecked runs between the strategy pass and
// the cache refresh and reports whether outputs were closed.
func (m *Manager) checkForDeviceAndOutputChanges(onOutputsChecked func() bool) {
	// A2DP is suspended before tracks can move to it.
	m.checkA2DPSuspend()
	m.checkOutputForAllStrategies()
	if onOutputsChecked != nil && onOutputsChecked() {
		m.checkA2DPSuspend()
	}
	m.updateDevicesAndOutputs()
	if m.modules.GetModuleFromName(inventory.ModuleNameMSD) != nil {
		if err := m.setMsdPatch(audio.DeviceNone); err != nil {
			m.logger.Warn("msd patch update failed", "error", err)
		}
	}
}

// outputsForDevice returns the outputs of collection reaching device plus
// every output attached to a policy mix.
func outputsForDevice(collection *endpoint.Outputs, device audio.DeviceType) []audio.IOHandle {
	var handles []audio.IOHandle
	for _, out := range collection.GetOutputsForDevice(device) {
		handles = append(handles, out.Handle())
	}
	for _, out := range collection.Values() {
		if out.PolicyMix != nil && !slices.Contains(handles, out.Handle()) {
			handles = append(handles, out.Handle())
		}
	}
	slices.Sort(handles)
	return handles
}

// checkOutputForStrategy moves strategy to other outputs when its device
// changed output. Tracks are muted on the old output until the moved audio
// has drained, then invalidated so clients reconnect.
func (m *Manager) checkOutputForStrategy(strategy audio.Strategy) {
	oldDevice := m.deviceForStrategy(strategy, true)
	newDevice := m.deviceForStrategy(strategy, false)
	src := outputsForDevice(m.previousOutputs, oldDevice)
	dst := outputsForDevice(m.outputs, newDevice)
	if slices.Equal(src, dst) {
		return
	}

	maxLatency := 0
	for _, h := range src {
		if out, ok := m.previousOutputs.Get(h); ok {
			maxLatency = max(maxLatency, int(out.Latency()))
		}
	}
	m.logger.Debug("strategy moving outputs",
		"strategy", strategy.String(),
		"from", src,
		"to", dst,
		"device", newDevice.String())

	for _, h := range src {
		out, ok := m.previousOutputs.Get(h)
		if ok && m.isStrategyActive(out, strategy, 0) {
			m.setStrategyMute(strategy, true, out, 0, audio.DeviceNone)
			m.setStrategyMute(strategy, false, out, maxLatency*m.settings.MuteLatencyFactor, newDevice)
		}
		if source := m.sourceForStrategyOnOutput(h, strategy); source != nil {
			if err := m.connectAudioSource(source); err != nil {
				m.logger.Warn("reconnecting audio source failed", "port", int32(source.portID), "error", err)
			}
		}
	}

	if strategy == audio.StrategyMedia {
		m.selectOutputForMusicEffects()
	}
	m.invalidateStrategy(strategy)
}

// invalidateStrategy makes every client of strategy reconnect.
func (m *Manager) invalidateStrategy(strategy audio.Strategy) {
	for _, s := range m.streamsForStrategy(strategy) {
		if err := m.hal.InvalidateStream(s); err != nil {
			m.logger.Warn("invalidating stream failed", "stream", s.String(), "error", err)
		}
	}
}

// checkOutputForAllStrategies runs checkOutputForStrategy in priority order.
func (m *Manager) checkOutputForAllStrategies() {
	for _, s := range m.strategyCheckOrder() {
		m.checkOutputForStrategy(s)
	}
}

// checkStrategyRoute reroutes the outputs where strategy is active, except
// skip. Outputs that cannot reach the new device get their tracks
// invalidated instead.
func (m *Manager) checkStrategyRoute(strategy audio.Strategy, skip audio.IOHandle) {
	device := m.deviceForStrategy(strategy, false)
	reaching := m.outputs.GetOutputsForDevice(device)
	for _, out := range m.outputs.Values() {
		if out.Handle() == skip || !m.isStrategyActive(out, strategy, 0) {
			continue
		}
		if !slices.Contains(reaching, out) {
			m.invalidateStrategy(strategy)
			continue
		}
		m.setOutputDevice(out, m.newOutputDevice(out, false), false, 0, nil, "", true)
	}
}

// handleNotificationRoutingForStream keeps notifications off the speaker
// while music plays on a headset.
func (m *Manager) handleNotificationRoutingForStream(stream audio.Stream) {
	if stream != audio.StreamMusic {
		return
	}
	m.checkOutputForStrategy(audio.StrategySonificationRespectful)
	m.updateDevicesAndOutputs()
}

// checkA2DPSuspend suspends A2DP playback while a SCO link is in use and
// restores it once the link is released.
func (m *Manager) checkA2DPSuspend() {
	a2dp, ok := m.outputs.GetA2DPOutput()
	if !ok {
		m.a2dpSuspended = false
		return
	}
	scoConnected := m.availableInputs.Types()&audio.DeviceInBluetoothSCOHeadset&^audio.DeviceBitIn != 0 ||
		m.availableOutputs.Types()&audio.DeviceOutAllSCO != 0
	mode := m.engine.PhoneState()
	scoInUse := m.engine.ForceUse(audio.ForceForCommunication) == audio.ForceBTSCO ||
		m.engine.ForceUse(audio.ForceForRecord) == audio.ForceBTSCO ||
		mode == audio.ModeInCall ||
		mode == audio.ModeRingtone

	switch {
	case m.a2dpSuspended && (!scoConnected || !scoInUse):
		m.hal.SetParameters(a2dp.Handle(), hal.Params{}.Set(hal.KeyA2DPSuspended, "false").String(), 0)
		m.a2dpSuspended = false
		m.logger.Debug("a2dp output restored", "output", int32(a2dp.Handle()))
	case !m.a2dpSuspended && scoConnected && scoInUse:
		m.hal.SetParameters(a2dp.Handle(), hal.Params{}.Set(hal.KeyA2DPSuspended, "true").String(), 0)
		m.a2dpSuspended = true
		m.logger.Debug("a2dp output suspended", "output", int32(a2dp.Handle()))
	}
}

// DevicesForStream returns the devices stream plays to. Devices of outputs
// where the stream is active win over the strategy default.
func (m *Manager) DevicesForStream(stream audio.Stream) audio.DeviceType {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stream < 0 || stream >= audio.StreamPublicCount {
		return audio.DeviceNone
	}
	now := m.clock.Now()
	devices := m.deviceForStrategy(m.strategyForStream(stream), false)
	active := audio.DeviceNone
	for _, out := range m.outputs.GetOutputsForDevice(devices) {
		if out.IsStreamActive(stream, 0, now) {
			active |= out.Device()
		}
	}
	if active != audio.DeviceNone {
		devices = active
	}
	// Callers know the safe speaker as the speaker.
	if devices&audio.DeviceOutSpeakerSafe != 0 {
		devices = (devices | audio.DeviceOutSpeaker) &^ audio.DeviceOutSpeakerSafe
	}
	return devices
}

// StrategyForStream returns the strategy of stream.
func (m *Manager) StrategyForStream(stream audio.Stream) audio.Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategyForStream(stream)
}
