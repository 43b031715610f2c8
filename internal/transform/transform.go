// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

// Package transform folds the flat rows of the film details query into one
// search document per film.
package transform

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/tomtom215/filmindex/internal/models"
	"github.com/tomtom215/filmindex/internal/validation"
)

// ErrInvalidDocument is returned when a folded document breaks the index
// schema. The whole batch is rejected.
var ErrInvalidDocument = errors.New("invalid document")

// draft accumulates one film while its rows are folded.
type draft struct {
	doc       models.FilmDocument
	title     *string
	actorSeen map[string]bool
	writerSet map[string]bool
	genreSeen map[string]bool
	nullActor *string
}

func newDraft(row *models.FilmRow) *draft {
	d := &draft{
		doc: models.FilmDocument{
			ID:           row.FilmID.String(),
			ImdbRating:   row.Rating,
			Genre:        []string{},
			ActorsNames:  []string{},
			WritersNames: []*string{},
			Actors:       []models.ActorRef{},
			Writers:      []models.WriterRef{},
		},
		title:     row.Title,
		actorSeen: make(map[string]bool),
		writerSet: make(map[string]bool),
		genreSeen: make(map[string]bool),
	}
	if row.Description != nil {
		d.doc.Description = *row.Description
	}
	return d
}

func (d *draft) fold(row *models.FilmRow) {
	if row.GenreName != nil && *row.GenreName != "" && !d.genreSeen[*row.GenreName] {
		d.genreSeen[*row.GenreName] = true
		d.doc.Genre = append(d.doc.Genre, *row.GenreName)
	}

	if row.Role == nil {
		return
	}
	personID := personKey(row.PersonID)

	switch *row.Role {
	case models.RoleActor:
		if d.actorSeen[personID] {
			return
		}
		d.actorSeen[personID] = true
		if row.PersonName == nil {
			if d.nullActor == nil {
				d.nullActor = &personID
			}
			return
		}
		d.doc.Actors = append(d.doc.Actors, models.ActorRef{ID: personID, Name: *row.PersonName})
		if !slices.Contains(d.doc.ActorsNames, *row.PersonName) {
			d.doc.ActorsNames = append(d.doc.ActorsNames, *row.PersonName)
		}
	case models.RoleWriter:
		if d.writerSet[personID] {
			return
		}
		d.writerSet[personID] = true
		d.doc.Writers = append(d.doc.Writers, models.WriterRef{ID: personID, Name: row.PersonName})
		if !slices.ContainsFunc(d.doc.WritersNames, sameName(row.PersonName)) {
			d.doc.WritersNames = append(d.doc.WritersNames, row.PersonName)
		}
	case models.RoleDirector:
		if row.PersonName != nil {
			d.doc.Director = *row.PersonName
		} else {
			d.doc.Director = ""
		}
	}
}

// build applies the remaining defaults and validates the document.
func (d *draft) build() (models.FilmDocument, error) {
	if d.title == nil {
		return models.FilmDocument{}, fmt.Errorf("%w: film %s: title is required", ErrInvalidDocument, d.doc.ID)
	}
	if d.nullActor != nil {
		return models.FilmDocument{}, fmt.Errorf("%w: film %s: actors[%s].name is required", ErrInvalidDocument, d.doc.ID, *d.nullActor)
	}
	d.doc.Title = *d.title

	if verr := validation.ValidateStruct(&d.doc); verr != nil {
		return models.FilmDocument{}, fmt.Errorf("%w: film %s: %w", ErrInvalidDocument, d.doc.ID, verr)
	}
	return d.doc, nil
}

// Transform groups rows by film id in first-seen order and folds each group
// into a FilmDocument:
//
//   - genres are appended once per name,
//   - actors and writers once per person id, their names alongside,
//   - the director is overwritten by every director row (last one wins),
//   - a missing description or director becomes "",
//   - a missing rating stays null.
//
// Every document is validated; the first invalid one fails the whole call
// with an error wrapping ErrInvalidDocument that names the film.
func Transform(rows []models.FilmRow) ([]models.FilmDocument, error) {
	if len(rows) == 0 {
		return []models.FilmDocument{}, nil
	}

	drafts := make(map[uuid.UUID]*draft)
	order := make([]uuid.UUID, 0)

	for i := range rows {
		row := &rows[i]
		d, ok := drafts[row.FilmID]
		if !ok {
			d = newDraft(row)
			drafts[row.FilmID] = d
			order = append(order, row.FilmID)
		}
		d.fold(row)
	}

	docs := make([]models.FilmDocument, 0, len(order))
	for _, id := range order {
		doc, err := drafts[id].build()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// personKey renders a person id; a row with a role but no person id keeps
// the empty string, which then fails validation.
func personKey(id uuid.NullUUID) string {
	if !id.Valid {
		return ""
	}
	return id.UUID.String()
}

// sameName matches nullable names, treating two nulls as equal.
func sameName(name *string) func(*string) bool {
	return func(v *string) bool {
		if v == nil || name == nil {
			return v == nil && name == nil
		}
		return *v == *name
	}
}
