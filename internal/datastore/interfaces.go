// interfaces.go defines the interface for the routing history operations
package datastore

import (
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/audiopolicy/internal/conf"
	"github.com/tphakala/audiopolicy/internal/errors"
)

// ComponentDatastore identifies errors of this package.
const ComponentDatastore = "datastore"

// ErrNotOpen is returned when the store is used before Open.
var ErrNotOpen = errors.New(nil).
	Component(ComponentDatastore).
	Category(errors.CategoryDatabase).
	Context("resource", "connection").
	Build()

// Interface abstracts the underlying database implementation.
type Interface interface {
	Open() error
	Save(event *RoutingEvent) error
	Recent(limit int) ([]RoutingEvent, error)
	ByKind(kind string, limit int) ([]RoutingEvent, error)
	Prune(before time.Time) (int64, error)
	Close() error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB
}

// New returns the store configured in settings, or nil when history is off.
func New(settings *conf.Settings) Interface {
	if !settings.History.Enabled {
		return nil
	}
	return &SQLiteStore{Path: settings.History.Path, Debug: settings.Debug}
}

func dbError(err error, operation string) error {
	return errors.New(err).
		Component(ComponentDatastore).
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}

// Save inserts one event.
func (ds *DataStore) Save(event *RoutingEvent) error {
	if ds.DB == nil {
		return ErrNotOpen
	}
	if err := ds.DB.Create(event).Error; err != nil {
		return dbError(err, "save_routing_event")
	}
	return nil
}

// Recent returns the newest events first.
func (ds *DataStore) Recent(limit int) ([]RoutingEvent, error) {
	if ds.DB == nil {
		return nil, ErrNotOpen
	}
	var events []RoutingEvent
	if err := ds.DB.Order("timestamp DESC, id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, dbError(err, "recent_routing_events")
	}
	return events, nil
}

// ByKind returns the newest events of one kind first.
func (ds *DataStore) ByKind(kind string, limit int) ([]RoutingEvent, error) {
	if ds.DB == nil {
		return nil, ErrNotOpen
	}
	var events []RoutingEvent
	err := ds.DB.Where("kind = ?", kind).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, dbError(err, "routing_events_by_kind")
	}
	return events, nil
}

// Prune deletes events older than before and returns how many were removed.
func (ds *DataStore) Prune(before time.Time) (int64, error) {
	if ds.DB == nil {
		return 0, ErrNotOpen
	}
	result := ds.DB.Where("timestamp < ?", before).Delete(&RoutingEvent{})
	if result.Error != nil {
		return 0, dbError(result.Error, "prune_routing_events")
	}
	return result.RowsAffected, nil
}

// Close closes the underlying connection pool.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close")
	}
	ds.DB = nil
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	return nil
}

// performAutoMigration creates or updates the history schema.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&RoutingEvent{}); err != nil {
		return errors.New(err).
			Component(ComponentDatastore).
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Context("db_type", dbType).
			Build()
	}
	if debug {
		GetLogger().Debug("database connection initialized", "db_type", dbType, "path", connectionInfo)
	}
	return nil
}
