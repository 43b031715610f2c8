// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

//go:build integration

package pipeline_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/olivere/elastic/v7"

	"github.com/tomtom215/filmindex/internal/models"
	"github.com/tomtom215/filmindex/internal/pipeline"
	"github.com/tomtom215/filmindex/internal/retry"
	"github.com/tomtom215/filmindex/internal/sink"
	"github.com/tomtom215/filmindex/internal/source"
	"github.com/tomtom215/filmindex/internal/state"
	"github.com/tomtom215/filmindex/internal/testinfra"
)

const seedSQL = `
INSERT INTO content.film_work (id, title, description, rating, type, updated_at) VALUES
    ('11111111-1111-1111-1111-111111111111', 'Star Quest', 'Space opera', 8.1, 'movie', '2026-01-01T10:00:00Z'),
    ('22222222-2222-2222-2222-222222222222', 'Quiet Harbor', NULL, NULL, 'movie', '2026-01-01T10:05:00Z');

INSERT INTO content.person (id, full_name, updated_at) VALUES
    ('aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa', 'Ann Lee', '2026-01-01T09:00:00Z'),
    ('bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb', 'Bo Park', '2026-01-01T09:00:00Z');

INSERT INTO content.genre (id, name, updated_at) VALUES
    ('cccccccc-cccc-cccc-cccc-cccccccccccc', 'Sci-Fi', '2026-01-01T09:00:00Z');

INSERT INTO content.person_film_work (id, film_work_id, person_id, role) VALUES
    ('d0000000-0000-0000-0000-000000000001', '11111111-1111-1111-1111-111111111111', 'aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa', 'actor'),
    ('d0000000-0000-0000-0000-000000000002', '11111111-1111-1111-1111-111111111111', 'bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb', 'director'),
    ('d0000000-0000-0000-0000-000000000003', '22222222-2222-2222-2222-222222222222', 'aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa', 'writer');

INSERT INTO content.genre_film_work (id, film_work_id, genre_id) VALUES
    ('e0000000-0000-0000-0000-000000000001', '11111111-1111-1111-1111-111111111111', 'cccccccc-cccc-cccc-cccc-cccccccccccc');
`

func TestPipeline_PostgresToElasticsearch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg, err := testinfra.NewPostgresContainer(ctx)
	if err != nil {
		t.Fatalf("Failed to start postgres: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, pg.Container)

	es, err := testinfra.NewElasticsearchContainer(ctx)
	if err != nil {
		t.Fatalf("Failed to start elasticsearch: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, es.Container)

	pool, err := source.Connect(ctx, pg.DSN, 4)
	if err != nil {
		t.Fatalf("connect: %v\n%s", err, testinfra.ContainerLogs(ctx, pg.Container))
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, seedSQL); err != nil {
		t.Fatalf("seed: %v", err)
	}

	policy := retry.Policy{InitialDelay: 50 * time.Millisecond, Factor: 2, MaxDelay: time.Second, MaxElapsed: 30 * time.Second}
	src := source.New(pool, source.Config{Schema: "content", PageSize: 100, Retry: policy})

	esSink, err := sink.NewElasticSink(sink.ElasticConfig{URL: es.URL, Retry: policy, Breaker: sink.DefaultBreakerSettings()})
	if err != nil {
		t.Fatalf("elastic sink: %v", err)
	}
	defer esSink.Close()
	if err := esSink.EnsureIndex(ctx, "movies"); err != nil {
		t.Fatalf("ensure index: %v", err)
	}

	opened, err := state.Open(state.BackendJSON, filepath.Join(t.TempDir(), "etl_state.json"))
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	defer opened.Close()

	orch, err := pipeline.New(pipeline.Deps{
		Source:     src,
		Sink:       esSink,
		Watermarks: opened.Store,
	}, pipeline.Config{Index: "movies"})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	if err := orch.RunOnce(ctx); err != nil {
		t.Fatalf("first iteration: %v", err)
	}

	client, err := elastic.NewClient(elastic.SetURL(es.URL), elastic.SetSniff(false))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := client.Refresh("movies").Do(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	star := getDocument(ctx, t, client, "11111111-1111-1111-1111-111111111111")
	if star.Title != "Star Quest" || star.Director != "Bo Park" {
		t.Errorf("Star Quest = %+v", star)
	}
	if len(star.Genre) != 1 || star.Genre[0] != "Sci-Fi" {
		t.Errorf("genres = %v, want [Sci-Fi]", star.Genre)
	}
	if len(star.ActorsNames) != 1 || star.ActorsNames[0] != "Ann Lee" {
		t.Errorf("actors = %v, want [Ann Lee]", star.ActorsNames)
	}

	harbor := getDocument(ctx, t, client, "22222222-2222-2222-2222-222222222222")
	if harbor.ImdbRating != nil || harbor.Description != "" {
		t.Errorf("Quiet Harbor optional fields = rating %v, description %q", harbor.ImdbRating, harbor.Description)
	}
	if len(harbor.Writers) != 1 || harbor.Writers[0].ID != "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa" {
		t.Errorf("writers = %+v", harbor.Writers)
	}

	wm, err := opened.Store.Get(ctx, models.StreamFilm)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if want := time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC); !wm.Equal(want) {
		t.Errorf("film watermark = %v, want %v", wm, want)
	}

	// Renaming a person must reach every film they appear in.
	if _, err := pool.Exec(ctx,
		`UPDATE content.person SET full_name = 'Ann Lee-Park', updated_at = '2026-01-02T00:00:00Z'
		 WHERE id = 'aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa'`); err != nil {
		t.Fatalf("update person: %v", err)
	}
	if err := orch.RunOnce(ctx); err != nil {
		t.Fatalf("second iteration: %v", err)
	}
	if _, err := client.Refresh("movies").Do(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	star = getDocument(ctx, t, client, "11111111-1111-1111-1111-111111111111")
	if len(star.ActorsNames) != 1 || star.ActorsNames[0] != "Ann Lee-Park" {
		t.Errorf("actors after rename = %v", star.ActorsNames)
	}
	harbor = getDocument(ctx, t, client, "22222222-2222-2222-2222-222222222222")
	if len(harbor.WritersNames) != 1 || harbor.WritersNames[0] == nil || *harbor.WritersNames[0] != "Ann Lee-Park" {
		t.Errorf("writers after rename = %v", harbor.WritersNames)
	}
}

func getDocument(ctx context.Context, t *testing.T, client *elastic.Client, id string) models.FilmDocument {
	t.Helper()

	res, err := client.Get().Index("movies").Id(id).Do(ctx)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	var doc models.FilmDocument
	if err := json.Unmarshal(res.Source, &doc); err != nil {
		t.Fatalf("decode %s: %v", id, err)
	}
	return doc
}
