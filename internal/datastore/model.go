// model.go defines the data model of the routing history
package datastore

import "time"

// RoutingEvent is one stored routing notification.
type RoutingEvent struct {
	ID         uint      `gorm:"primaryKey"`
	EventID    string    `gorm:"uniqueIndex;size:36"`
	Kind       string    `gorm:"index:idx_routing_events_kind_timestamp;size:32"`
	Timestamp  time.Time `gorm:"index;index:idx_routing_events_kind_timestamp"`
	Generation uint32
	Device     string
	Address    string
	State      string

	// Recording configuration notifications only
	PortID  int32
	UID     uint32
	Session int32
	Source  string
	Input   int32
	Active  bool
}
