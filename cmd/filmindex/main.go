// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

// Package main is the entry point for the filmindex indexer.
//
// Filmindex keeps a search index of films in sync with a PostgreSQL content
// database. It polls the film, person and genre tables for rows updated
// after a persisted watermark, resolves person and genre changes to the
// films that reference them, rebuilds the affected film documents and bulk
// upserts them into Elasticsearch (or a local DuckDB index).
//
// # Commands
//
//	filmindex run                       # supervised loop plus ops server
//	filmindex once                      # one iteration, non-zero exit on failure
//	filmindex bootstrap --since <time>  # seed watermarks before the first run
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (POSTGRES_*, ELASTICSEARCH_*, ETL_*, RETRY_*, ...)
//   - Config file (--config, CONFIG_PATH or config.yaml)
//   - Built-in defaults
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the root context. Retry waits and the idle
// delay return early; a stream interrupted mid-run keeps its watermark and
// is re-detected on the next start.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
