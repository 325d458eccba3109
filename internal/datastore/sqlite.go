package datastore

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/audiopolicy/internal/errors"
)

// SQLiteStore implements Interface for SQLite
type SQLiteStore struct {
	DataStore
	Path  string
	Debug bool
}

// Open creates the database file and its directory when missing and
// migrates the schema.
func (store *SQLiteStore) Open() error {
	if store.Path == "" {
		return errors.Newf("sqlite path is empty").
			Component(ComponentDatastore).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if dir := filepath.Dir(store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Component(ComponentDatastore).
				Category(errors.CategoryFileIO).
				Context("path", dir).
				Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(store.Path), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		return errors.New(err).
			Component(ComponentDatastore).
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Context("path", store.Path).
			Build()
	}

	store.DB = db
	return performAutoMigration(db, store.Debug, "SQLite", store.Path)
}
