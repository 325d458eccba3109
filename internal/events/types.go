// Package events provides an asynchronous bus carrying routing notifications
// from the policy manager to consumers such as the history store and the MQTT
// publisher. Publishing never blocks the policy.
package events

import (
	"strconv"
	"strings"
	"time"

	"github.com/tphakala/audiopolicy/internal/audio"
)

// Kind identifies the type of a notification.
type Kind string

const (
	KindPortList    Kind = "port_list"
	KindPatchList   Kind = "patch_list"
	KindDeviceState Kind = "device_state"
	KindMixState    Kind = "mix_state"
	KindRecording   Kind = "recording"
)

// Recording is the payload of a recording configuration notification.
type Recording struct {
	PortID  audio.PortHandle `json:"port_id"`
	UID     audio.UID        `json:"uid"`
	Session audio.Session    `json:"session"`
	Source  string           `json:"source"`
	Input   audio.IOHandle   `json:"input"`
	Device  string           `json:"device"`
	Active  bool             `json:"active"`
}

// Event is one routing notification.
type Event struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Timestamp  time.Time  `json:"timestamp"`
	Generation uint32     `json:"generation,omitempty"`
	Device     string     `json:"device,omitempty"`
	Address    string     `json:"address,omitempty"`
	State      string     `json:"state,omitempty"`
	Recording  *Recording `json:"recording,omitempty"`
}

// key identifies the content of an event, leaving out its id and time.
func (e *Event) key() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(uint64(e.Generation), 10))
	b.WriteByte('|')
	b.WriteString(e.Device)
	b.WriteByte('|')
	b.WriteString(e.Address)
	b.WriteByte('|')
	b.WriteString(e.State)
	if r := e.Recording; r != nil {
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(int64(r.PortID), 10))
		b.WriteByte('|')
		b.WriteString(strconv.FormatBool(r.Active))
		b.WriteByte('|')
		b.WriteString(r.Device)
	}
	return b.String()
}

// EventConsumer processes notifications delivered by the bus.
type EventConsumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessEvent processes a single event
	ProcessEvent(event Event) error
}

// Observer receives bus metrics.
type Observer interface {
	EventPublished(kind string)
	EventSuppressed()
	EventDropped()
	ConsumerFailed(consumer string)
}

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived   uint64
	EventsSuppressed uint64
	EventsProcessed  uint64
	EventsDropped    uint64
	ConsumerErrors   uint64
}

type nopObserver struct{}

func (nopObserver) EventPublished(string) {}
func (nopObserver) EventSuppressed()      {}
func (nopObserver) EventDropped()         {}
func (nopObserver) ConsumerFailed(string) {}
