package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/mix"
	"github.com/tphakala/audiopolicy/internal/policy"
)

// Publisher accepts events without blocking.
type Publisher interface {
	TryPublish(event Event) bool
}

// PolicyNotifier turns policy notifications into bus events. It is called
// with the policy lock held and never blocks.
type PolicyNotifier struct {
	bus Publisher
	now func() time.Time
}

var _ policy.Notifier = (*PolicyNotifier)(nil)

// NewPolicyNotifier returns a notifier publishing to bus. A nil now uses the
// wall clock.
func NewPolicyNotifier(bus Publisher, now func() time.Time) *PolicyNotifier {
	if now == nil {
		now = time.Now
	}
	return &PolicyNotifier{bus: bus, now: now}
}

func (n *PolicyNotifier) publish(e Event) {
	e.ID = uuid.NewString()
	e.Timestamp = n.now()
	n.bus.TryPublish(e)
}

// PortListUpdated implements policy.Notifier.
func (n *PolicyNotifier) PortListUpdated(generation uint32) {
	n.publish(Event{Kind: KindPortList, Generation: generation})
}

// PatchListUpdated implements policy.Notifier.
func (n *PolicyNotifier) PatchListUpdated(generation uint32) {
	n.publish(Event{Kind: KindPatchList, Generation: generation})
}

// DeviceStateChanged implements policy.Notifier.
func (n *PolicyNotifier) DeviceStateChanged(device audio.DeviceType, address string, state audio.DeviceState) {
	n.publish(Event{
		Kind:    KindDeviceState,
		Device:  device.String(),
		Address: address,
		State:   state.String(),
	})
}

// MixStateChanged implements policy.Notifier.
func (n *PolicyNotifier) MixStateChanged(address string, state mix.State) {
	n.publish(Event{Kind: KindMixState, Address: address, State: mixStateName(state)})
}

// RecordingConfigChanged implements policy.Notifier.
func (n *PolicyNotifier) RecordingConfigChanged(event policy.RecordingEvent) {
	n.publish(Event{
		Kind: KindRecording,
		Recording: &Recording{
			PortID:  event.PortID,
			UID:     event.UID,
			Session: event.Session,
			Source:  event.Source.String(),
			Input:   event.Input,
			Device:  event.Device.String(),
			Active:  event.Active,
		},
	})
}

func mixStateName(s mix.State) string {
	switch s {
	case mix.StateMixing:
		return "mixing"
	case mix.StateIdle:
		return "idle"
	default:
		return "disabled"
	}
}
