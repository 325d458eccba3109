package inventory

import "github.com/tphakala/audiopolicy/internal/audio"

// IDGenerator hands out port ids unique within one policy instance.
type IDGenerator struct {
	last audio.PortHandle
}

// Next returns a fresh port id. Zero is never returned.
func (g *IDGenerator) Next() audio.PortHandle {
	g.last++
	return g.last
}

// AssignIDs gives every mix port and declared device of the modules an id.
func (g *IDGenerator) AssignIDs(ms Modules) {
	for _, m := range ms {
		for _, p := range m.OutputProfiles {
			if p.ID == audio.PortHandleNone {
				p.ID = g.Next()
			}
		}
		for _, p := range m.InputProfiles {
			if p.ID == audio.PortHandleNone {
				p.ID = g.Next()
			}
		}
		for _, d := range m.DeclaredDevices {
			if d.ID == audio.PortHandleNone {
				d.ID = g.Next()
			}
		}
	}
}
