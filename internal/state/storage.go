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
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/tomtom215/filmindex/internal/logging"
)

// ErrStateDir is returned when the directory holding the state cannot be
// created. It is a startup failure.
var ErrStateDir = errors.New("state directory unavailable")

// Storage persists the whole watermark document. Implementations replace
// the document on every Save; there are no partial writes.
type Storage interface {
	// Retrieve returns the stored document. A missing or unreadable
	// document yields an empty map and a nil error.
	Retrieve(ctx context.Context) (map[string]string, error)

	// Save replaces the stored document.
	Save(ctx context.Context, doc map[string]string) error
}

// JSONFileStorage keeps the document as a single JSON object on disk.
type JSONFileStorage struct {
	path string
}

// NewJSONFileStorage returns a file storage at path, creating the parent
// directory if needed.
func NewJSONFileStorage(path string) (*JSONFileStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty state path", ErrStateDir)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStateDir, dir, err)
	}
	return &JSONFileStorage{path: path}, nil
}

// Path returns the file location.
func (s *JSONFileStorage) Path() string {
	return s.path
}

// Retrieve reads the state file. A missing file is a first run; a corrupt
// file is logged and treated the same way.
func (s *JSONFileStorage) Retrieve(_ context.Context) (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		logging.Warn().Err(err).Str("path", s.path).Msg("Cannot read state file, starting from empty state")
		return map[string]string{}, nil
	}
	return decodeDocument(data, s.path), nil
}

// Save writes the document to a temporary file next to the target and
// renames it into place.
func (s *JSONFileStorage) Save(_ context.Context, doc map[string]string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// decodeDocument parses a stored document. Non-string values are dropped
// and anything that is not a JSON object counts as corrupt.
func decodeDocument(data []byte, source string) map[string]string {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		logging.Warn().Err(err).Str("source", source).Msg("Corrupt state document, starting from empty state")
		return map[string]string{}
	}
	doc := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			doc[k] = s
		}
	}
	return doc
}
