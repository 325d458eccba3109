package policy

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/endpoint"
	"github.com/tphakala/audiopolicy/internal/hal/simhal"
	"github.com/tphakala/audiopolicy/internal/inventory"
	"github.com/tphakala/audiopolicy/internal/mix"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock advances on Sleep and records every wait.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type deviceEvent struct {
	device  audio.DeviceType
	address string
	state   audio.DeviceState
}

type recordingNotifier struct {
	portUpdates  []uint32
	patchUpdates []uint32
	devices      []deviceEvent
	mixStates    map[string]mix.State
	recordings   []RecordingEvent
}

func (n *recordingNotifier) PortListUpdated(g uint32)  { n.portUpdates = append(n.portUpdates, g) }
func (n *recordingNotifier) PatchListUpdated(g uint32) { n.patchUpdates = append(n.patchUpdates, g) }
func (n *recordingNotifier) DeviceStateChanged(d audio.DeviceType, addr string, s audio.DeviceState) {
	n.devices = append(n.devices, deviceEvent{d, addr, s})
}
func (n *recordingNotifier) MixStateChanged(addr string, s mix.State) {
	if n.mixStates == nil {
		n.mixStates = make(map[string]mix.State)
	}
	n.mixStates[addr] = s
}
func (n *recordingNotifier) RecordingConfigChanged(e RecordingEvent) {
	n.recordings = append(n.recordings, e)
}

type recordingRecorder struct {
	ops       map[string]int
	failures  map[string]int
	outputs   int
	inputs    int
	patches   int
	rejected  []string
	muteWaits []time.Duration
}

func (r *recordingRecorder) ObserveOperation(op string, err error, _ time.Duration) {
	if r.ops == nil {
		r.ops = make(map[string]int)
		r.failures = make(map[string]int)
	}
	r.ops[op]++
	if err != nil {
		r.failures[op]++
	}
}
func (r *recordingRecorder) SetEndpoints(outputs, inputs int) { r.outputs, r.inputs = outputs, inputs }
func (r *recordingRecorder) SetPatches(n int)                 { r.patches = n }
func (r *recordingRecorder) CaptureRejected(kind string)      { r.rejected = append(r.rejected, kind) }
func (r *recordingRecorder) MuteWait(d time.Duration)         { r.muteWaits = append(r.muteWaits, d) }

type testEnv struct {
	m        *Manager
	sim      *simhal.Sim
	clock    *fakeClock
	notifier *recordingNotifier
	recorder *recordingRecorder
}

func newTestEnv(t *testing.T, opts ...simhal.PlatformOption) *testEnv {
	t.Helper()
	cfg := simhal.DefaultPlatform(opts...)
	env := &testEnv{
		sim:      simhal.New(simhal.ModuleNames(cfg)...),
		clock:    &fakeClock{now: epoch},
		notifier: &recordingNotifier{},
		recorder: &recordingRecorder{},
	}
	env.m = New(cfg, env.sim,
		WithClock(env.clock),
		WithNotifier(env.notifier),
		WithRecorder(env.recorder))
	require.NoError(t, env.m.Initialize())
	return env
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return newTestEnv(t).m
}

// outputByProfile returns the open output created from the named profile.
func outputByProfile(t *testing.T, m *Manager, name string) *endpoint.Output {
	t.Helper()
	out, ok := m.outputs.Find(func(o *endpoint.Output) bool {
		return o.Profile() != nil && o.Profile().Name == name
	})
	require.True(t, ok, "no open output for profile %q", name)
	return out
}

func availableOutput(t *testing.T, m *Manager, device audio.DeviceType) *inventory.DeviceDescriptor {
	t.Helper()
	d := m.availableOutputs.GetDevice(device, "")
	require.NotNil(t, d, "%s not available", device)
	return d
}

func media() *audio.Attributes {
	return &audio.Attributes{Usage: audio.UsageMedia}
}

// playMusic attaches and starts a media client with no flags.
func playMusic(t *testing.T, m *Manager, session audio.Session) OutputAssignment {
	t.Helper()
	a, err := m.GetOutputForAttr(OutputRequest{
		Attributes: media(),
		Session:    session,
		UID:        10001,
	})
	require.NoError(t, err)
	require.NoError(t, m.StartOutput(a.PortID))
	return a
}

func TestInitializeOpensAttachedOutputs(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m

	require.NotNil(t, m.primary)
	assert.Equal(t, "primary output", m.primary.Profile().Name)
	assert.Equal(t, 2, m.outputs.Len())
	assert.Equal(t, 0, m.inputs.Len())
	assert.Len(t, env.sim.OutputHandles(), 2)
	assert.Empty(t, env.sim.InputHandles(), "inputs opened at load are closed again")

	deep := outputByProfile(t, m, "deep_buffer")
	for _, out := range []*endpoint.Output{m.primary, deep} {
		stream, ok := env.sim.Output(out.Handle())
		require.True(t, ok)
		assert.Equal(t, audio.DeviceOutSpeaker, stream.Device)
		assert.NotEqual(t, audio.PatchHandleNone, out.PatchHandle())
	}
	assert.Equal(t, 2, m.patches.Len())

	assert.True(t, m.availableOutputs.Types().Intersects(audio.DeviceOutSpeaker))
	assert.True(t, m.availableOutputs.Types().Intersects(audio.DeviceOutEarpiece))
	assert.False(t, m.availableOutputs.Types().Intersects(audio.DeviceOutWiredHeadset))

	mic := m.availableInputs.GetDevice(audio.DeviceInBuiltinMic, bottomMicAddress)
	require.NotNil(t, mic, "builtin mic gets its default address")
	assert.NotNil(t, m.availableInputs.GetDevice(audio.DeviceInBackMic, backMicAddress))

	assert.Equal(t, 2, env.recorder.outputs)
	assert.Equal(t, 0, env.recorder.inputs)
}

func TestInitializeTwice(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	err := m.Initialize()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestOperationsBeforeInitialize(t *testing.T) {
	t.Parallel()
	cfg := simhal.DefaultPlatform()
	m := New(cfg, simhal.New(simhal.ModuleNames(cfg)...), WithClock(&fakeClock{now: epoch}))

	_, err := m.GetOutputForAttr(OutputRequest{Attributes: media()})
	require.ErrorIs(t, err, ErrNotInitialized)

	err = m.SetDeviceConnectionState(audio.DeviceOutWiredHeadset, audio.DeviceStateAvailable, "", "")
	require.ErrorIs(t, err, ErrNotInitialized)

	err = m.SetPhoneState(audio.ModeInCall)
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitializeWithoutPrimaryModule(t *testing.T) {
	t.Parallel()
	cfg := simhal.DefaultPlatform()
	// The simulator knows none of the modules, so nothing can be opened.
	m := New(cfg, simhal.New(), WithClock(&fakeClock{now: epoch}))
	err := m.Initialize()
	require.Error(t, err)

	_, err = m.GetOutputForAttr(OutputRequest{Attributes: media()})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestOperationsAreObserved(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	playMusic(t, env.m, 100)
	err := env.m.SetDeviceConnectionState(audio.DeviceOutSpeaker, audio.DeviceStateAvailable, "", "")
	require.Error(t, err)

	assert.Equal(t, 1, env.recorder.ops["get_output_for_attr"])
	assert.Equal(t, 1, env.recorder.ops["start_output"])
	assert.Equal(t, 1, env.recorder.failures["set_device_connection_state"])
	assert.Zero(t, env.recorder.failures["start_output"])
}
