// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

// Package sink writes film documents to the search index. Every document is
// keyed by its film id, so delivering the same batch twice leaves the index
// unchanged.
//
// Two backends exist: ElasticSink (the production Elasticsearch index) and
// DuckDBSink, a local single-file index for development and offline runs.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/filmindex/internal/models"
)

// ErrRejected marks documents the index refused for reasons retrying cannot
// fix, such as a mapping conflict. The stream stalls until the data or the
// mapping is corrected.
var ErrRejected = errors.New("documents rejected by index")

// Backend names a sink implementation.
type Backend string

const (
	BackendElasticsearch Backend = "elasticsearch"
	BackendDuckDB        Backend = "duckdb"
)

// Sink is implemented by every backend.
type Sink interface {
	// Upsert writes docs into index keyed by id and returns how many were
	// accepted. An empty batch is a no-op.
	Upsert(ctx context.Context, index string, docs []models.FilmDocument) (int, error)

	// EnsureIndex creates index if it does not exist.
	EnsureIndex(ctx context.Context, index string) error

	// Close releases the backend.
	Close() error
}

// rejection describes one refused document.
type rejection struct {
	id     string
	status int
	reason string
}

func rejectedError(items []rejection) error {
	first := items[0]
	return fmt.Errorf("%w: %d documents, first %s (status %d): %s",
		ErrRejected, len(items), first.id, first.status, first.reason)
}
