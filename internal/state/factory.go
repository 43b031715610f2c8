// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

package state

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Backend selects where watermarks are persisted.
type Backend string

const (
	// BackendJSON stores watermarks in a JSON file (default).
	BackendJSON Backend = "json"

	// BackendBadger stores watermarks in a BadgerDB directory.
	BackendBadger Backend = "badger"
)

// Opened bundles a Store with the resources it holds.
type Opened struct {
	Store *Store
	db    *badger.DB
}

// Close releases the underlying database, if any.
func (o *Opened) Close() error {
	if o.db != nil {
		return o.db.Close()
	}
	return nil
}

// Open builds the Store for backend. For BackendJSON path is the state
// file; for BackendBadger it is the database directory.
func Open(backend Backend, path string) (*Opened, error) {
	switch backend {
	case BackendJSON, "":
		fs, err := NewJSONFileStorage(path)
		if err != nil {
			return nil, err
		}
		return &Opened{Store: NewStore(fs)}, nil
	case BackendBadger:
		db, err := OpenBadger(path)
		if err != nil {
			return nil, err
		}
		return &Opened{Store: NewStore(NewBadgerStorage(db)), db: db}, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}
