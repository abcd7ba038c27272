package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory builds repositories for a service-tier handle and a restricted
// read-only handle. Reads initiated by clients go through Reader.
type Factory struct {
	db     *gorm.DB
	readDB *gorm.DB

	repos  *Repositories
	reader *Repositories
	once   sync.Once
}

// NewFactory creates a new repository factory. readDB may be nil, in which
// case reads share the service handle.
func NewFactory(db, readDB *gorm.DB) *Factory {
	if readDB == nil {
		readDB = db
	}
	return &Factory{
		db:     db,
		readDB: readDB,
	}
}

func (f *Factory) init() {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
		f.reader = NewRepositories(f.readDB)
	})
}

// Writer returns repositories bound to the service credential.
func (f *Factory) Writer() *Repositories {
	f.init()
	return f.repos
}

// Reader returns repositories bound to the restricted credential.
func (f *Factory) Reader() *Repositories {
	f.init()
	return f.reader
}
