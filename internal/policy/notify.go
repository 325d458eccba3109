package policy

import (
	"time"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/mix"
)

// RecordingEvent describes a capture client starting or stopping.
type RecordingEvent struct {
	PortID  audio.PortHandle
	UID     audio.UID
	Session audio.Session
	Source  audio.Source
	Input   audio.IOHandle
	Device  audio.DeviceType
	Active  bool
}

// Notifier receives policy notifications. Calls are made with the manager
// lock held and must not call back into the manager.
type Notifier interface {
	PortListUpdated(generation uint32)
	PatchListUpdated(generation uint32)
	DeviceStateChanged(device audio.DeviceType, address string, state audio.DeviceState)
	MixStateChanged(address string, state mix.State)
	RecordingConfigChanged(event RecordingEvent)
}

// Recorder receives policy metrics.
type Recorder interface {
	ObserveOperation(op string, err error, duration time.Duration)
	SetEndpoints(outputs, inputs int)
	SetPatches(count int)
	CaptureRejected(kind string)
	MuteWait(duration time.Duration)
}

type nopNotifier struct{}

func (nopNotifier) PortListUpdated(uint32)                                         {}
func (nopNotifier) PatchListUpdated(uint32)                                        {}
func (nopNotifier) DeviceStateChanged(audio.DeviceType, string, audio.DeviceState) {}
func (nopNotifier) MixStateChanged(string, mix.State)                              {}
func (nopNotifier) RecordingConfigChanged(RecordingEvent)                          {}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, error, time.Duration) {}
func (nopRecorder) SetEndpoints(int, int)                         {}
func (nopRecorder) SetPatches(int)                                {}
func (nopRecorder) CaptureRejected(string)                        {}
func (nopRecorder) MuteWait(time.Duration)                        {}

// portListChanged tells the hardware client and the notifier that the port
// list changed.
func (m *Manager) portListChanged() {
	m.hal.OnAudioPortListUpdate()
	m.notifier.PortListUpdated(m.portGeneration)
	m.recordEndpoints()
}

// patchListChanged tells the hardware client and the notifier that the patch
// list changed.
func (m *Manager) patchListChanged() {
	m.hal.OnAudioPatchListUpdate()
	m.notifier.PatchListUpdated(m.patches.Generation())
	m.recorder.SetPatches(m.patches.Len())
}

func (m *Manager) recordEndpoints() {
	m.recorder.SetEndpoints(m.outputs.Len(), m.inputs.Len())
}

// observe records the outcome of a public operation. Use with defer and a
// named error result.
func (m *Manager) observe(op string, start time.Time, err *error) {
	var e error
	if err != nil {
		e = *err
	}
	m.recorder.ObserveOperation(op, e, m.clock.Now().Sub(start))
	if e != nil {
		m.logger.Debug("operation failed", "operation", op, "error", e)
	}
}
