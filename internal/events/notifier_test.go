package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/mix"
	"github.com/tphakala/audiopolicy/internal/policy"
)

type capturePublisher struct {
	events []Event
}

func (c *capturePublisher) TryPublish(e Event) bool {
	c.events = append(c.events, e)
	return true
}

func TestPolicyNotifierEvents(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pub := &capturePublisher{}
	n := NewPolicyNotifier(pub, func() time.Time { return at })

	n.PortListUpdated(4)
	n.PatchListUpdated(9)
	n.DeviceStateChanged(audio.DeviceOutWiredHeadset, "", audio.DeviceStateAvailable)
	n.MixStateChanged("cast", mix.StateMixing)
	n.RecordingConfigChanged(policy.RecordingEvent{
		PortID:  12,
		UID:     10001,
		Session: 33,
		Source:  audio.SourceMic,
		Input:   5,
		Device:  audio.DeviceInBuiltinMic,
		Active:  true,
	})

	require.Len(t, pub.events, 5)
	ids := make(map[string]bool)
	for _, e := range pub.events {
		_, err := uuid.Parse(e.ID)
		require.NoError(t, err)
		ids[e.ID] = true
		assert.Equal(t, at, e.Timestamp)
	}
	assert.Len(t, ids, 5, "every event gets its own id")

	assert.Equal(t, Event{ID: pub.events[0].ID, Kind: KindPortList, Timestamp: at, Generation: 4}, pub.events[0])
	assert.Equal(t, uint32(9), pub.events[1].Generation)

	device := pub.events[2]
	assert.Equal(t, KindDeviceState, device.Kind)
	assert.Equal(t, audio.DeviceOutWiredHeadset.String(), device.Device)
	assert.Equal(t, audio.DeviceStateAvailable.String(), device.State)

	assert.Equal(t, "mixing", pub.events[3].State)
	assert.Equal(t, "cast", pub.events[3].Address)

	rec := pub.events[4].Recording
	require.NotNil(t, rec)
	assert.Equal(t, audio.PortHandle(12), rec.PortID)
	assert.Equal(t, audio.SourceMic.String(), rec.Source)
	assert.True(t, rec.Active)
}

func TestMixStateNames(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "idle", mixStateName(mix.StateIdle))
	assert.Equal(t, "disabled", mixStateName(mix.StateDisabled))
}
