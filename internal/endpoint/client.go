package endpoint

import (
	"github.com/tphakala/audiopolicy/internal/audio"
)

// TrackClient is one playback client attached to an output.
type TrackClient struct {
	PortID          audio.PortHandle
	UID             audio.UID
	Session         audio.Session
	Attributes      audio.Attributes
	Config          audio.Config
	Stream          audio.Stream
	Strategy        audio.Strategy
	Flags           audio.OutputFlags
	PreferredDevice audio.PortHandle

	active bool
}

// Active reports whether the client is started.
func (c *TrackClient) Active() bool { return c.active }

// HasPreferredDevice reports an explicit device preference. With activeOnly
// only started clients count.
func (c *TrackClient) HasPreferredDevice(activeOnly bool) bool {
	return c.PreferredDevice != audio.PortHandleNone && (!activeOnly || c.active)
}

// RecordClient is one capture client attached to an input.
type RecordClient struct {
	PortID          audio.PortHandle
	UID             audio.UID
	Session         audio.Session
	Attributes      audio.Attributes
	Config          audio.Config
	Flags           audio.InputFlags
	PreferredDevice audio.PortHandle
	IsSoundTrigger  bool
	Silenced        bool
	AppState        audio.AppState

	active bool
}

// Active reports whether the client is started.
func (c *RecordClient) Active() bool { return c.active }

// Source returns the capture source of the client.
func (c *RecordClient) Source() audio.Source { return c.Attributes.Source }

// HasPreferredDevice reports an explicit device preference. With activeOnly
// only started clients count.
func (c *RecordClient) HasPreferredDevice(activeOnly bool) bool {
	return c.PreferredDevice != audio.PortHandleNone && (!activeOnly || c.active)
}
