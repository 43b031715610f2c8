// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

// Package testinfra provides container-backed infrastructure for
// integration tests.
//
// It starts real PostgreSQL and Elasticsearch instances with
// testcontainers-go so the pipeline can be exercised end to end:
//
//	pg, err := testinfra.NewPostgresContainer(ctx)
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer testinfra.CleanupContainer(t, ctx, pg.Container)
//
//	pool, err := source.Connect(ctx, pg.DSN, 4)
//
// The PostgreSQL container is created with the content schema (film_work,
// person, genre and both association tables) already applied.
//
// # CI Considerations
//
// All files are behind the integration build tag and tests skip when
// Docker is unavailable:
//
//	go test -tags integration ./...
package testinfra
