// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

// Package state persists the per-stream watermarks: the updated_at of the
// newest record of each stream that has been delivered to the index.
//
// The document is small and always rewritten whole. A single process owns
// it; the Store mutex only protects readers such as the ops status
// endpoint from observing a half-applied update.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/filmindex/internal/logging"
	"github.com/tomtom215/filmindex/internal/models"
)

// timeLayouts are tried in order when parsing stored watermarks. The last
// two accept timestamps written without a zone, read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
}

// Store reads and advances watermarks on top of a Storage.
type Store struct {
	storage Storage
	mu      sync.Mutex
}

// NewStore creates a Store backed by storage.
func NewStore(storage Storage) *Store {
	return &Store{storage: storage}
}

// Get returns the watermark of stream, or models.BeginningOfTime when it
// was never set or cannot be parsed.
func (s *Store) Get(ctx context.Context, stream models.Stream) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.storage.Retrieve(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("retrieve state: %w", err)
	}
	return watermarkOf(doc, stream), nil
}

// Set records t as the watermark of stream. Watermarks never move
// backwards: an older t is ignored with a warning.
func (s *Store) Set(ctx context.Context, stream models.Stream, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.storage.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("retrieve state: %w", err)
	}

	current := watermarkOf(doc, stream)
	if !t.After(current) {
		if t.Before(current) {
			logging.Ctx(ctx).Warn().
				Str("stream", stream.String()).
				Time("current", current).
				Time("proposed", t).
				Msg("Refusing to move watermark backwards")
		}
		return nil
	}

	doc[stream.StateKey()] = formatTime(t)
	if err := s.storage.Save(ctx, doc); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Snapshot returns the watermark of every stream.
func (s *Store) Snapshot(ctx context.Context) (map[models.Stream]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.storage.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve state: %w", err)
	}
	out := make(map[models.Stream]time.Time, len(models.AllStreams))
	for _, stream := range models.AllStreams {
		out[stream] = watermarkOf(doc, stream)
	}
	return out, nil
}

// Bootstrap seeds all watermarks with since so that a first run does not
// backfill the whole catalog. Without force only unset watermarks are
// written; with force every watermark is overwritten, even if that moves it
// backwards. It returns the streams that were written.
func (s *Store) Bootstrap(ctx context.Context, since time.Time, force bool) ([]models.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.storage.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve state: %w", err)
	}

	var written []models.Stream
	for _, stream := range models.AllStreams {
		if _, ok := parseTime(doc[stream.StateKey()]); ok && !force {
			continue
		}
		doc[stream.StateKey()] = formatTime(since)
		written = append(written, stream)
	}
	if len(written) == 0 {
		return nil, nil
	}
	if err := s.storage.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	return written, nil
}

func watermarkOf(doc map[string]string, stream models.Stream) time.Time {
	raw, present := doc[stream.StateKey()]
	if !present {
		return models.BeginningOfTime
	}
	t, ok := parseTime(raw)
	if !ok {
		logging.Warn().Str("stream", stream.String()).Str("value", raw).Msg("Unparsable watermark, starting from the beginning")
		return models.BeginningOfTime
	}
	return t
}

func parseTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
