// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

package state

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// documentKey holds the whole watermark document.
var documentKey = []byte("filmindex:watermarks")

// BadgerStorage keeps the watermark document under a single BadgerDB key.
type BadgerStorage struct {
	db *badger.DB
}

// NewBadgerStorage wraps an already opened database.
func NewBadgerStorage(db *badger.DB) *BadgerStorage {
	return &BadgerStorage{db: db}
}

// OpenBadger opens (or creates) a BadgerDB directory at dir.
func OpenBadger(dir string) (*badger.DB, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStateDir, dir, err)
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger state db: %w", err)
	}
	return db, nil
}

// Retrieve loads the document; a missing key is an empty state.
func (s *BadgerStorage) Retrieve(_ context.Context) (map[string]string, error) {
	var doc map[string]string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get state: %w", err)
		}
		return item.Value(func(val []byte) error {
			doc = decodeDocument(val, "badger")
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]string{}
	}
	return doc, nil
}

// Save replaces the document in a single transaction.
func (s *BadgerStorage) Save(_ context.Context, doc map[string]string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(documentKey, data)
	})
}
