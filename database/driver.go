// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package database selects and opens the key/value engine backing the
// daemon's persistent indexes.
package database

import (
	"errors"
	"fmt"
	"os"

	"github.com/silknetwork/silkd/database/engine"
	"github.com/silknetwork/silkd/database/engine/leveldb"
	"github.com/silknetwork/silkd/database/engine/pebbledb"
)

// Errors that the various database functions may return.
var (
	ErrDbDoesNotExist = errors.New("non-existent database")
	ErrDbUnknownType  = errors.New("non-existent database type")
)

// Driver describes a backend that can be selected by name.
type Driver struct {
	// DbType is the name used to select the backend.
	DbType string

	// Open opens the database at path.  When create is set the database
	// must not exist yet.
	Open func(path string, create bool) (engine.Engine, error)
}

var drivers = []Driver{
	{
		DbType: "leveldb",
		Open:   leveldb.NewDB,
	},
	{
		DbType: "pebble",
		Open: func(path string, create bool) (engine.Engine, error) {
			return pebbledb.NewDB(path, create, pebbledb.DefaultCache,
				pebbledb.DefaultHandles)
		},
	},
}

func lookupDriver(dbType string) (*Driver, error) {
	for i := range drivers {
		if drivers[i].DbType == dbType {
			return &drivers[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDbUnknownType, dbType)
}

// Create creates and opens a new database of the given type at path.
func Create(dbType, path string) (engine.Engine, error) {
	drv, err := lookupDriver(dbType)
	if err != nil {
		return nil, err
	}
	log.Infof("Creating %s database at %s", dbType, path)
	return drv.Open(path, true)
}

// Open opens an existing database of the given type at path.
// ErrDbDoesNotExist is returned when nothing exists there.
func Open(dbType, path string) (engine.Engine, error) {
	drv, err := lookupDriver(dbType)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, ErrDbDoesNotExist
	}
	log.Debugf("Opening %s database at %s", dbType, path)
	return drv.Open(path, false)
}

// OpenOrCreate opens the database at path, creating it when it does not
// exist yet.
func OpenOrCreate(dbType, path string) (engine.Engine, error) {
	db, err := Open(dbType, path)
	if errors.Is(err, ErrDbDoesNotExist) {
		return Create(dbType, path)
	}
	return db, err
}

// SupportedDrivers returns the names of the available backends.
func SupportedDrivers() []string {
	names := make([]string, 0, len(drivers))
	for _, drv := range drivers {
		names = append(names, drv.DbType)
	}
	return names
}
