// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

package transform

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/filmindex/internal/models"
)

func str(s string) *string { return &s }

func role(r models.Role) *models.Role { return &r }

func person(id uuid.UUID) uuid.NullUUID { return uuid.NullUUID{UUID: id, Valid: true} }

// filmRow builds a details row for film with the given person and genre
// columns; zero values mean null.
func filmRow(film uuid.UUID, title string, r models.Role, pid uuid.UUID, name, genre string) models.FilmRow {
	row := models.FilmRow{
		FilmID:    film,
		Title:     str(title),
		CreatedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if r != "" {
		row.Role = role(r)
		row.PersonID = person(pid)
	}
	if name != "" {
		row.PersonName = str(name)
	}
	if genre != "" {
		row.GenreName = str(genre)
	}
	return row
}

func TestTransform_Empty(t *testing.T) {
	t.Parallel()

	docs, err := Transform(nil)
	if err != nil {
		t.Fatalf("Transform(nil) error = %v", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Errorf("Transform(nil) = %v, want empty slice", docs)
	}
}

func TestTransform_Scenario(t *testing.T) {
	t.Parallel()

	f1, p1, p2 := uuid.New(), uuid.New(), uuid.New()
	rating := 85.0

	rows := []models.FilmRow{
		filmRow(f1, "Test", models.RoleActor, p1, "Jane", "Drama"),
		filmRow(f1, "Test", models.RoleDirector, p2, "Bob", "Drama"),
	}
	for i := range rows {
		rows[i].Rating = &rating
	}

	docs, err := Transform(rows)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}

	want := models.FilmDocument{
		ID:           f1.String(),
		ImdbRating:   &rating,
		Genre:        []string{"Drama"},
		Title:        "Test",
		Description:  "",
		Director:     "Bob",
		ActorsNames:  []string{"Jane"},
		WritersNames: []*string{},
		Actors:       []models.ActorRef{{ID: p1.String(), Name: "Jane"}},
		Writers:      []models.WriterRef{},
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if !reflect.DeepEqual(docs[0], want) {
		t.Errorf("Transform() =\n%+v\nwant\n%+v", docs[0], want)
	}
}

func TestTransform_Aggregation(t *testing.T) {
	t.Parallel()

	film, actor := uuid.New(), uuid.New()
	rows := []models.FilmRow{
		filmRow(film, "Heat", models.RoleActor, actor, "Al", "Crime"),
		filmRow(film, "Heat", models.RoleActor, actor, "Al", "Drama"),
		filmRow(film, "Heat", models.RoleActor, actor, "Al", "Crime"),
	}

	docs, err := Transform(rows)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	doc := docs[0]

	if len(doc.Actors) != 1 || doc.Actors[0].ID != actor.String() {
		t.Errorf("actors = %+v, want exactly one entry for %s", doc.Actors, actor)
	}
	if !reflect.DeepEqual(doc.ActorsNames, []string{"Al"}) {
		t.Errorf("actors_names = %v", doc.ActorsNames)
	}
	if !reflect.DeepEqual(doc.Genre, []string{"Crime", "Drama"}) {
		t.Errorf("genre = %v, want [Crime Drama]", doc.Genre)
	}
}

func TestTransform_GroupsInFirstSeenOrder(t *testing.T) {
	t.Parallel()

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	rows := []models.FilmRow{
		filmRow(b, "B", "", uuid.Nil, "", ""),
		filmRow(a, "A", "", uuid.Nil, "", "Comedy"),
		filmRow(b, "B", "", uuid.Nil, "", "Horror"),
		filmRow(c, "C", "", uuid.Nil, "", ""),
	}

	docs, err := Transform(rows)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}

	var ids []string
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	want := []string{b.String(), a.String(), c.String()}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("document order = %v, want %v", ids, want)
	}
	if !reflect.DeepEqual(docs[0].Genre, []string{"Horror"}) {
		t.Errorf("film B genre = %v", docs[0].Genre)
	}
}

func TestTransform_Defaults(t *testing.T) {
	t.Parallel()

	film := uuid.New()
	row := filmRow(film, "Untitled draft", "", uuid.Nil, "", "")

	docs, err := Transform([]models.FilmRow{row})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	doc := docs[0]

	if doc.ImdbRating != nil {
		t.Errorf("imdb_rating = %v, want nil", *doc.ImdbRating)
	}
	if doc.Description != "" || doc.Director != "" {
		t.Errorf("description/director = %q/%q, want empty", doc.Description, doc.Director)
	}
	if doc.Genre == nil || doc.Actors == nil || doc.Writers == nil || doc.ActorsNames == nil || doc.WritersNames == nil {
		t.Error("list fields must be empty, not nil")
	}
}

func TestTransform_DescriptionFromFirstRow(t *testing.T) {
	t.Parallel()

	film := uuid.New()
	first := filmRow(film, "Alien", "", uuid.Nil, "", "")
	first.Description = str("In space no one can hear you scream")
	second := filmRow(film, "Alien", "", uuid.Nil, "", "Horror")
	second.Description = str("ignored")

	docs, err := Transform([]models.FilmRow{first, second})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if docs[0].Description != "In space no one can hear you scream" {
		t.Errorf("description = %q", docs[0].Description)
	}
}

func TestTransform_DirectorLastWins(t *testing.T) {
	t.Parallel()

	film := uuid.New()
	rows := []models.FilmRow{
		filmRow(film, "Fargo", models.RoleDirector, uuid.New(), "Joel", ""),
		filmRow(film, "Fargo", models.RoleDirector, uuid.New(), "Ethan", ""),
	}

	docs, err := Transform(rows)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if docs[0].Director != "Ethan" {
		t.Errorf("director = %q, want last seen 'Ethan'", docs[0].Director)
	}
}

func TestTransform_WritersWithNullNames(t *testing.T) {
	t.Parallel()

	film, w1, w2, w3 := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	rows := []models.FilmRow{
		filmRow(film, "Brazil", models.RoleWriter, w1, "", ""),
		filmRow(film, "Brazil", models.RoleWriter, w2, "", ""),
		filmRow(film, "Brazil", models.RoleWriter, w3, "Tom", ""),
		filmRow(film, "Brazil", models.RoleWriter, w3, "Tom", ""),
	}

	docs, err := Transform(rows)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	doc := docs[0]

	if len(doc.Writers) != 3 {
		t.Fatalf("writers = %+v, want 3 distinct", doc.Writers)
	}
	if doc.Writers[0].Name != nil {
		t.Errorf("first writer name = %v, want nil", *doc.Writers[0].Name)
	}
	if len(doc.WritersNames) != 2 || doc.WritersNames[0] != nil || *doc.WritersNames[1] != "Tom" {
		t.Errorf("writers_names = %v, want [nil Tom]", doc.WritersNames)
	}
}

func TestTransform_UnknownRoleIgnored(t *testing.T) {
	t.Parallel()

	film := uuid.New()
	docs, err := Transform([]models.FilmRow{filmRow(film, "Up", models.Role("producer"), uuid.New(), "Jonas", "")})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if len(docs[0].Actors) != 0 || len(docs[0].Writers) != 0 || docs[0].Director != "" {
		t.Errorf("unknown role leaked into document: %+v", docs[0])
	}
}

func TestTransform_InvalidDocumentFailsBatch(t *testing.T) {
	t.Parallel()

	good, bad := uuid.New(), uuid.New()

	nullTitle := filmRow(bad, "", "", uuid.Nil, "", "")
	nullTitle.Title = nil

	nullActorName := filmRow(bad, "Nameless", models.RoleActor, uuid.New(), "", "")

	missingPerson := filmRow(bad, "Ghost", models.RoleWriter, uuid.Nil, "Casper", "")
	missingPerson.PersonID = uuid.NullUUID{}

	tests := []struct {
		name    string
		row     models.FilmRow
		wantMsg string
	}{
		{"null title", nullTitle, "title is required"},
		{"null actor name", nullActorName, "name is required"},
		{"writer without id", missingPerson, "writers[0].id is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rows := []models.FilmRow{filmRow(good, "Fine", "", uuid.Nil, "", ""), tt.row}

			docs, err := Transform(rows)
			if !errors.Is(err, ErrInvalidDocument) {
				t.Fatalf("Transform() error = %v, want ErrInvalidDocument", err)
			}
			if docs != nil {
				t.Errorf("Transform() returned %d documents alongside an error", len(docs))
			}
			if !strings.Contains(err.Error(), bad.String()) {
				t.Errorf("error %q does not name film %s", err, bad)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err, tt.wantMsg)
			}
		})
	}
}
