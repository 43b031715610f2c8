// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

/*
Package models defines the data structures shared across filmindex.

Key Components:

  - Stream: the three change streams (film, person, genre) and their
    watermark keys in the state document
  - ChangeRecord: an (id, updated_at) pair produced by detection and fan-out
  - FilmRow: one flattened row of the film details query, with nullable
    columns as pointers
  - FilmDocument: the search index payload, with validator tags describing
    which fields are required
  - APIResponse: the ops server JSON envelope

Optional Fields:

FilmRow mirrors SQL NULLs with pointer fields. FilmDocument keeps only
ImdbRating and writer names nullable; every other field has a concrete
default applied by the transform package, and list fields are always
present.

Thread Safety:

All types are plain values and safe to share once built.
*/
package models
