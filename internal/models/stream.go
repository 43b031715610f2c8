// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

// Package models defines the typed records that flow through the indexing
// pipeline: change records read from the content store, the flat film rows
// produced by the merge query, and the documents written to the search index.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Stream identifies one independently tracked source entity.
type Stream string

const (
	StreamFilm   Stream = "film"
	StreamPerson Stream = "person"
	StreamGenre  Stream = "genre"
)

// AllStreams lists the streams in processing order.
var AllStreams = []Stream{StreamFilm, StreamPerson, StreamGenre}

// BeginningOfTime is the watermark of a stream that has never been indexed.
var BeginningOfTime = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// StateKey returns the key under which the stream's watermark is persisted.
func (s Stream) StateKey() string {
	return "last_" + string(s) + "_update"
}

// Valid reports whether s is a known stream.
func (s Stream) Valid() bool {
	switch s {
	case StreamFilm, StreamPerson, StreamGenre:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (s Stream) String() string {
	return string(s)
}

// ParseStream converts a case-insensitive name into a Stream.
func ParseStream(name string) (Stream, error) {
	s := Stream(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown stream %q (expected film, person or genre)", name)
	}
	return s, nil
}

// ParseStreams parses a list of stream names, dropping duplicates while
// keeping the first-seen order.
func ParseStreams(names []string) ([]Stream, error) {
	seen := make(map[Stream]bool, len(names))
	out := make([]Stream, 0, len(names))
	for _, n := range names {
		s, err := ParseStream(n)
		if err != nil {
			return nil, err
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}
