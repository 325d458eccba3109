package datastore

import (
	"github.com/tphakala/audiopolicy/internal/events"
)

// HistoryConsumer stores every routing notification it receives.
type HistoryConsumer struct {
	store Interface
}

var _ events.EventConsumer = (*HistoryConsumer)(nil)

// NewHistoryConsumer returns a bus consumer writing to store.
func NewHistoryConsumer(store Interface) *HistoryConsumer {
	return &HistoryConsumer{store: store}
}

// Name implements events.EventConsumer.
func (c *HistoryConsumer) Name() string { return "history" }

// ProcessEvent implements events.EventConsumer.
func (c *HistoryConsumer) ProcessEvent(event events.Event) error {
	return c.store.Save(FromEvent(&event))
}

// FromEvent converts a bus event to its stored form.
func FromEvent(e *events.Event) *RoutingEvent {
	r := &RoutingEvent{
		EventID:    e.ID,
		Kind:       string(e.Kind),
		Timestamp:  e.Timestamp,
		Generation: e.Generation,
		Device:     e.Device,
		Address:    e.Address,
		State:      e.State,
	}
	if rec := e.Recording; rec != nil {
		r.PortID = int32(rec.PortID)
		r.UID = uint32(rec.UID)
		r.Session = int32(rec.Session)
		r.Source = rec.Source
		r.Input = int32(rec.Input)
		r.Device = rec.Device
		r.Active = rec.Active
	}
	return r
}
