// Package policy is the routing decision core. The Manager owns every
// registry of the policy (available devices, open endpoints, patches, policy
// mixes, audio sources) and serializes all operations behind one lock, so
// each public call runs to completion before the next one starts.
//
// Physical effects go through a hal.Client, strategy and device resolution
// through an engine.Resolver and volume curves through a volume.Curves
// store. Waits required for glitch free switching block the caller through
// the injected Clock.
package policy

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/conf"
	"github.com/tphakala/audiopolicy/internal/endpoint"
	"github.com/tphakala/audiopolicy/internal/engine"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/hal"
	"github.com/tphakala/audiopolicy/internal/inventory"
	"github.com/tphakala/audiopolicy/internal/logging"
	"github.com/tphakala/audiopolicy/internal/mix"
	"github.com/tphakala/audiopolicy/internal/patch"
	"github.com/tphakala/audiopolicy/internal/registry"
	"github.com/tphakala/audiopolicy/internal/volume"
)

// Timing constants of the transition choreography.
const (
	// sonificationHeadsetMusicDelay keeps media counted as recently active
	// when a call starts or a notification plays over a headset.
	sonificationHeadsetMusicDelay = 5 * time.Second
	// muteTimeMs is how long media and sonification stay muted when a call
	// starts.
	muteTimeMs = 2000
	// maxDelayMs bounds the device switch delay applied at call start.
	maxDelayMs = 5000
	// offloadMinDuration is the shortest stream worth offloading.
	offloadMinDuration = 60 * time.Second
	// systemVolumeDelayMs defers system stream volume changes so the click
	// that follows is played at the new volume.
	systemVolumeDelayMs = 100
	// bottomMicAddress and backMicAddress name the builtin microphones.
	bottomMicAddress = "bottom"
	backMicAddress   = "back"
	// remoteSubmixAddress is the address of the legacy remote submix device.
	remoteSubmixAddress = "0"
)

// UIDCached owns every patch the policy installs on its own behalf.
const UIDCached audio.UID = 0xFFFFFFFF

// Clock abstracts time so tests can observe waits without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Option configures a Manager.
type Option func(*Manager)

// WithSettings overrides the policy tuning knobs.
func WithSettings(s conf.PolicySettings) Option {
	return func(m *Manager) { m.settings = s }
}

// WithEngine replaces the default strategy engine. The factory receives the
// manager as the engine's observer.
func WithEngine(factory func(engine.Observer) engine.Resolver) Option {
	return func(m *Manager) { m.engineFactory = factory }
}

// WithCurves replaces the default volume curve table.
func WithCurves(c volume.Curves) Option {
	return func(m *Manager) { m.curves = c }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithNotifier registers the receiver of policy notifications.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithRecorder registers the receiver of policy metrics.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// DefaultSettings returns the tuning the policy uses unless configured.
func DefaultSettings() conf.PolicySettings {
	return conf.PolicySettings{
		MaxDirectSampleRate:      conf.DefaultMaxDirectSampleRate,
		DefaultCaptureSampleRate: conf.DefaultCaptureSampleRate,
		MuteLatencyFactor:        conf.DefaultMuteLatencyFactor,
		RecentlyActiveWindow:     conf.SonificationRespectfulAfterMusicDelay,
	}
}

// Manager is the audio policy manager.
type Manager struct {
	mu sync.Mutex

	config        *inventory.Config
	settings      conf.PolicySettings
	hal           hal.Client
	engine        engine.Resolver
	engineFactory func(engine.Observer) engine.Resolver
	curves        volume.Curves
	clock         Clock
	notifier      Notifier
	recorder      Recorder
	logger        *slog.Logger

	modules          inventory.Modules
	availableOutputs inventory.DeviceVector
	availableInputs  inventory.DeviceVector
	defaultOutput    *inventory.DeviceDescriptor
	ids              inventory.IDGenerator

	outputs         *endpoint.Outputs
	previousOutputs *endpoint.Outputs
	inputs          *endpoint.Inputs
	primary         *endpoint.Output

	patches     *patch.Collection
	nextPatch   audio.PatchHandle
	callRxPatch *patch.Descriptor
	callTxPatch *patch.Descriptor

	mixes   *mix.Collection
	sources *registry.Registry[audio.PortHandle, *sourceClient]

	portGeneration    uint32
	strategyDevices   [audio.NumStrategies]audio.DeviceType
	a2dpSuspended     bool
	masterMono        bool
	ttsOutput         bool
	beaconMuted       bool
	beaconMuteRefs    int
	beaconPlayingRefs int
	musicEffectOutput audio.IOHandle
	surroundFormats   map[audio.Format]bool
	nextSession       audio.Session
	soundTrigger      map[audio.Session]audio.IOHandle
	lastVoiceVolume   float64
	limitRingtone     bool
	initialized       bool
}

var _ engine.Observer = (*Manager)(nil)

// New returns a manager for the platform described by cfg driving client.
// Initialize must be called before any other operation.
func New(cfg *inventory.Config, client hal.Client, opts ...Option) *Manager {
	logger := logging.ForService("policy")
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		config:          cfg,
		settings:        DefaultSettings(),
		hal:             client,
		clock:           realClock{},
		notifier:        nopNotifier{},
		recorder:        nopRecorder{},
		logger:          logger,
		outputs:         endpoint.NewOutputs(),
		previousOutputs: endpoint.NewOutputs(),
		inputs:          endpoint.NewInputs(),
		patches:         patch.NewCollection(),
		mixes:           mix.NewCollection(),
		sources:         registry.New[audio.PortHandle, *sourceClient](),
		surroundFormats: make(map[audio.Format]bool),
		soundTrigger:    make(map[audio.Session]audio.IOHandle),
		nextSession:     1000,
		lastVoiceVolume: -1,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.curves == nil {
		m.curves = volume.NewTable()
	}
	if m.engineFactory != nil {
		m.engine = m.engineFactory(m)
	} else {
		m.engine = engine.New(m)
	}
	if m.settings.MuteLatencyFactor <= 0 {
		m.settings.MuteLatencyFactor = conf.DefaultMuteLatencyFactor
	}
	if m.settings.MaxDirectSampleRate == 0 {
		m.settings.MaxDirectSampleRate = conf.DefaultMaxDirectSampleRate
	}
	if m.settings.DefaultCaptureSampleRate == 0 {
		m.settings.DefaultCaptureSampleRate = conf.DefaultCaptureSampleRate
	}
	return m
}

// AvailableOutputDevices implements engine.Observer. Called with the lock held.
func (m *Manager) AvailableOutputDevices() inventory.DeviceVector { return m.availableOutputs }

// AvailableInputDevices implements engine.Observer. Called with the lock held.
func (m *Manager) AvailableInputDevices() inventory.DeviceVector { return m.availableInputs }

// DefaultOutputDevice implements engine.Observer.
func (m *Manager) DefaultOutputDevice() *inventory.DeviceDescriptor { return m.defaultOutput }

// Outputs implements engine.Observer. Called with the lock held.
func (m *Manager) Outputs() *endpoint.Outputs { return m.outputs }

// Now implements engine.Observer.
func (m *Manager) Now() time.Time { return m.clock.Now() }

// Initialize loads the hardware modules, opens the outputs reaching the
// attached devices and validates the startup invariants. A missing default
// output device or primary output is fatal.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := m.clock.Now()

	if m.initialized {
		return errors.New(ErrAlreadyInitialized).
			Component(ComponentPolicy).
			Build()
	}
	if err := m.config.Validate(); err != nil {
		return m.fatal(err)
	}

	m.defaultOutput = m.config.DefaultOutputDevice
	m.availableOutputs = append(inventory.DeviceVector(nil), m.config.AttachedOutputDevices...)
	m.availableInputs = append(inventory.DeviceVector(nil), m.config.AttachedInputDevices...)

	reachable := make(map[*inventory.DeviceDescriptor]bool)
	for _, module := range m.config.Modules {
		handle, err := m.hal.LoadHwModule(module.Name)
		if err != nil {
			m.logger.Warn("could not load hardware module", "module", module.Name, "error", err)
			continue
		}
		module.SetHandle(handle)
		m.modules = append(m.modules, module)
		m.ids.AssignIDs(inventory.Modules{module})

		m.openAttachedOutputs(module, reachable)
		m.checkAttachedInputs(module, reachable)
	}

	m.availableOutputs = m.keepReachable(m.availableOutputs, reachable)
	m.availableInputs = m.keepReachable(m.availableInputs, reachable)

	if m.defaultOutput == nil || !m.availableOutputs.Contains(m.defaultOutput) {
		return m.fatal(errors.New(ErrDefaultDeviceUnreachable).
			Component(ComponentPolicy).
			Context("device", m.config.DefaultOutputDevice.String()).
			Build())
	}
	for _, d := range m.availableInputs {
		if d.Address != "" {
			continue
		}
		switch d.Type {
		case audio.DeviceInBuiltinMic:
			d.Address = bottomMicAddress
		case audio.DeviceInBackMic:
			d.Address = backMicAddress
		}
	}
	if m.primary == nil {
		return m.fatal(errors.New(ErrNoPrimaryOutput).
			Component(ComponentPolicy).
			Build())
	}

	m.updateDevicesAndOutputs()
	m.initialized = true
	m.recordEndpoints()
	m.logger.Info("audio policy initialized",
		"modules", len(m.modules),
		"outputs", m.outputs.Len(),
		"output_devices", m.availableOutputs.Types().String(),
		"input_devices", m.availableInputs.Types().String(),
		"duration_ms", m.clock.Now().Sub(start).Milliseconds())
	return nil
}

// fatal marks a startup failure critical so the telemetry reporter sees it.
func (m *Manager) fatal(err error) error {
	m.logger.Error("audio policy initialization failed", "error", err)
	return errors.New(err).
		Component(ComponentPolicy).
		Priority(errors.PriorityCritical).
		Build()
}

// openAttachedOutputs opens one output per mixed profile reaching an
// attached device. Direct profiles are opened on demand only.
func (m *Manager) openAttachedOutputs(module *inventory.HwModule, reachable map[*inventory.DeviceDescriptor]bool) {
	outputTypes := m.availableOutputs.Types()
	for _, profile := range module.OutputProfiles {
		if !profile.CanOpenNewIO() {
			m.logger.Error("invalid output profile open count", "profile", profile.Name, "max_open", profile.MaxOpenCount)
			continue
		}
		if len(profile.SupportedDevices) == 0 {
			m.logger.Warn("output profile has no device", "module", module.Name, "profile", profile.Name)
			continue
		}
		if profile.OutputFlags()&audio.OutputFlagTTS != 0 {
			m.ttsOutput = true
		}
		if profile.OutputFlags()&audio.OutputFlagDirect != 0 {
			continue
		}
		profileType := supportedDeviceForType(profile, m.defaultOutput.Type)
		if profileType == audio.DeviceNone {
			profileType = supportedDeviceForType(profile, outputTypes)
		}
		if profileType&outputTypes == 0 {
			continue
		}
		address := ""
		if devs := profile.SupportedDevices.GetDevicesFromTypeMask(profileType); len(devs) > 0 {
			address = devs[0].Address
		}
		out, err := m.openOutputStream(profile, profileType, address, audio.Config{}, audio.OutputFlagNone)
		if err != nil {
			m.logger.Warn("cannot open output for attached device", "module", module.Name, "device", profileType.String(), "error", err)
			continue
		}
		for _, d := range profile.SupportedDevices {
			if i := m.availableOutputs.IndexOf(d); i >= 0 {
				reachable[m.availableOutputs[i]] = true
				m.availableOutputs[i].Module = module.Handle
			}
		}
		if m.primary == nil && profile.OutputFlags()&audio.OutputFlagPrimary != 0 {
			m.primary = out
		}
		m.addOutput(out)
		m.setOutputDevice(out, profileType, true, 0, nil, address, true)
	}
}

// checkAttachedInputs opens and closes one input per profile reaching an
// attached capture device to confirm the device is usable.
func (m *Manager) checkAttachedInputs(module *inventory.HwModule, reachable map[*inventory.DeviceDescriptor]bool) {
	inputTypes := m.availableInputs.Types() &^ audio.DeviceBitIn
	for _, profile := range module.InputProfiles {
		if !profile.CanOpenNewIO() || len(profile.SupportedDevices) == 0 {
			continue
		}
		profileType := supportedDeviceForType(profile, audio.DeviceBitIn|inputTypes)
		if profileType&^audio.DeviceBitIn&inputTypes == 0 {
			continue
		}
		address := ""
		if devs := m.availableInputs.GetDevicesFromTypeMask(profileType); len(devs) > 0 {
			address = devs[0].Address
		}
		in, err := m.openInputStream(profile, profileType, address, audio.Config{}, audio.SourceMic, audio.InputFlagNone)
		if err != nil {
			m.logger.Warn("cannot open input for attached device", "module", module.Name, "device", profileType.String(), "error", err)
			continue
		}
		for _, d := range profile.SupportedDevices {
			if i := m.availableInputs.IndexOf(d); i >= 0 {
				dev := m.availableInputs[i]
				if !reachable[dev] {
					reachable[dev] = true
					dev.Module = module.Handle
					if len(dev.Profiles) == 0 {
						dev.Profiles = profile.Profiles
					}
				}
			}
		}
		m.closeInputStream(in)
	}
}

// keepReachable drops the devices no stream could reach and announces the
// remaining ones to the engine.
func (m *Manager) keepReachable(devices inventory.DeviceVector, reachable map[*inventory.DeviceDescriptor]bool) inventory.DeviceVector {
	var out inventory.DeviceVector
	for _, d := range devices {
		if !reachable[d] {
			m.logger.Warn("attached device unreachable", "device", d.String())
			continue
		}
		if err := m.engine.SetDeviceConnectionState(d, audio.DeviceStateAvailable); err != nil {
			m.logger.Warn("engine rejected device", "device", d.String(), "error", err)
		}
		out = append(out, d)
	}
	return out
}

// supportedDeviceForType returns the first supported device type of the
// profile present in mask.
func supportedDeviceForType(profile *inventory.IOProfile, mask audio.DeviceType) audio.DeviceType {
	for _, d := range profile.SupportedDevices {
		if mask.Intersects(d.Type) && mask&d.Type == d.Type {
			return d.Type
		}
	}
	return audio.DeviceNone
}

// checkInitialized guards every public operation but Initialize.
func (m *Manager) checkInitialized() error {
	if m.initialized {
		return nil
	}
	return errors.New(ErrNotInitialized).
		Component(ComponentPolicy).
		Build()
}

// nextPortGeneration bumps the port list generation.
func (m *Manager) nextPortGeneration() uint32 {
	m.portGeneration++
	return m.portGeneration
}

// newPatchHandle allocates a policy side patch handle.
func (m *Manager) newPatchHandle() audio.PatchHandle {
	m.nextPatch++
	return m.nextPatch
}

// newSession allocates an audio session.
func (m *Manager) newSession() audio.Session {
	m.nextSession++
	return m.nextSession
}

// isInCall reports a telephony or VoIP call.
func (m *Manager) isInCall() bool {
	return m.engine.PhoneState().IsInCall()
}

// strategyForStream resolves the strategy of a legacy stream.
func (m *Manager) strategyForStream(stream audio.Stream) audio.Strategy {
	return m.engine.StrategyForStream(stream)
}

// strategyForAttr resolves the strategy of playback attributes. Strategy
// flags win over the usage.
func (m *Manager) strategyForAttr(attr audio.Attributes) audio.Strategy {
	switch {
	case attr.Flags&audio.AttrFlagBeacon != 0:
		return audio.StrategyTransmittedThroughSpeaker
	case attr.Flags&audio.AttrFlagAudibilityEnforced != 0:
		return audio.StrategyEnforcedAudible
	}
	return m.engine.StrategyForUsage(attr.Usage)
}

// streamsForStrategy lists the policy streams resolving to strategy.
func (m *Manager) streamsForStrategy(strategy audio.Strategy) []audio.Stream {
	var out []audio.Stream
	for s := audio.Stream(0); s < audio.StreamForPolicyCount; s++ {
		if m.strategyForStream(s) == strategy {
			out = append(out, s)
		}
	}
	return out
}

// availablePrimaryOutputDevices returns the available devices the primary
// output can reach.
func (m *Manager) availablePrimaryOutputDevices() audio.DeviceType {
	if m.primary == nil {
		return audio.DeviceNone
	}
	return m.primary.SupportedDevices() & m.availableOutputs.Types()
}

// availablePrimaryInputDevices returns the available capture devices of the
// primary module.
func (m *Manager) availablePrimaryInputDevices() audio.DeviceType {
	if m.primary == nil {
		return audio.DeviceNone
	}
	return m.availableInputs.GetDevicesFromModule(m.primary.ModuleHandle()).Types()
}
