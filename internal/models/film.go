// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

package models

import (
	"time"

	"github.com/google/uuid"
)

// ChangeRecord is one entity whose updated_at is newer than a watermark.
// Detection and fan-out both return them in ascending UpdatedAt order.
type ChangeRecord struct {
	ID        uuid.UUID
	UpdatedAt time.Time
}

// MaxUpdatedAt returns the latest UpdatedAt of records, or the zero time
// for an empty slice.
func MaxUpdatedAt(records []ChangeRecord) time.Time {
	var maxT time.Time
	for _, r := range records {
		if r.UpdatedAt.After(maxT) {
			maxT = r.UpdatedAt
		}
	}
	return maxT
}

// IDs returns the record ids in order.
func IDs(records []ChangeRecord) []uuid.UUID {
	ids := make([]uuid.UUID, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

// Role is the part a person plays in a film.
type Role string

const (
	RoleActor    Role = "actor"
	RoleWriter   Role = "writer"
	RoleDirector Role = "director"
)

// FilmRow is one row of the film details query. A film with several persons
// and genres appears once per (person, genre) combination; films without
// persons or genres still produce one row with the person and genre columns
// null.
type FilmRow struct {
	FilmID      uuid.UUID
	Title       *string
	Description *string
	Rating      *float64
	Type        *string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Role       *Role
	PersonID   uuid.NullUUID
	PersonName *string
	GenreName  *string
}

// ActorRef is an actor entry in a film document. Actors always carry a name.
type ActorRef struct {
	ID   string `json:"id" validate:"required,uuid"`
	Name string `json:"name"`
}

// WriterRef is a writer entry in a film document. The name may be null.
type WriterRef struct {
	ID   string  `json:"id" validate:"required,uuid"`
	Name *string `json:"name"`
}

// FilmDocument is the search index payload for a single film.
//
// Field rules:
//   - ImdbRating is null when the film has no rating.
//   - Description and Director default to the empty string.
//   - Genre is unique by name, Actors and Writers are unique by person id,
//     all in first-seen order.
//   - WritersNames may contain null entries.
//   - All list fields are present (possibly empty), never null.
type FilmDocument struct {
	ID           string      `json:"id" validate:"required,uuid"`
	ImdbRating   *float64    `json:"imdb_rating"`
	Genre        []string    `json:"genre" validate:"required"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Director     string      `json:"director"`
	ActorsNames  []string    `json:"actors_names" validate:"required"`
	WritersNames []*string   `json:"writers_names" validate:"required"`
	Actors       []ActorRef  `json:"actors" validate:"required,dive"`
	Writers      []WriterRef `json:"writers" validate:"required,dive"`
}

// DocumentID returns the id the document is indexed under.
func (d *FilmDocument) DocumentID() string {
	return d.ID
}
