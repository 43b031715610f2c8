// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

// Package source reads changes and film details from the Postgres content
// store. It answers three questions for the pipeline: which entities of a
// stream changed after a watermark, which films reference a set of changed
// persons or genres, and what the flattened film/person/genre rows of a set
// of films look like.
//
// Every query runs under the configured retry policy. Transient failures
// (see IsTransient) are retried; anything else is returned immediately.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/filmindex/internal/logging"
	"github.com/tomtom215/filmindex/internal/metrics"
	"github.com/tomtom215/filmindex/internal/models"
	"github.com/tomtom215/filmindex/internal/retry"
)

// DefaultPageSize caps detection and fan-out queries.
const DefaultPageSize = 100

// ErrUnknownStream is returned for streams the source cannot query.
var ErrUnknownStream = errors.New("unknown stream")

// Querier is the subset of pgxpool.Pool used by Postgres.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Config controls query shape and retries.
type Config struct {
	// Schema holding the content tables.
	Schema string

	// PageSize caps detection and fan-out results.
	PageSize int

	// Retry is applied to every query.
	Retry retry.Policy
}

// Postgres implements change detection, fan-out and film detail reads.
type Postgres struct {
	db       Querier
	pageSize int
	policy   retry.Policy
	q        queries
}

// New creates a Postgres source over db.
func New(db Querier, cfg Config) *Postgres {
	if cfg.Schema == "" {
		cfg.Schema = "content"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Postgres{
		db:       db,
		pageSize: cfg.PageSize,
		policy:   cfg.Retry,
		q:        buildQueries(cfg.Schema),
	}
}

// Connect creates a connection pool for dsn. Connections are opened lazily,
// so an unreachable server surfaces as a transient query error later.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return pool, nil
}

// PageSize returns the configured page size.
func (p *Postgres) PageSize() int {
	return p.pageSize
}

// FetchUpdated returns up to one page of stream entities whose updated_at
// is strictly after since, oldest first.
func (p *Postgres) FetchUpdated(ctx context.Context, stream models.Stream, since time.Time) ([]models.ChangeRecord, error) {
	query, ok := p.q.detect[stream]
	if !ok {
		return nil, fmt.Errorf("detect %q: %w", stream, ErrUnknownStream)
	}

	records, err := p.changeRecords(ctx, "detect", query, since, p.pageSize)
	if err != nil {
		return nil, fmt.Errorf("detect %s changes: %w", stream, err)
	}
	logging.Ctx(ctx).Debug().Int("count", len(records)).Time("since", since).Msg("Fetched updated ids")
	return records, nil
}

// FetchUpdatedAt returns every stream entity whose updated_at equals at,
// without a page limit. It drains a detection page made entirely of rows
// sharing one timestamp.
func (p *Postgres) FetchUpdatedAt(ctx context.Context, stream models.Stream, at time.Time) ([]models.ChangeRecord, error) {
	query, ok := p.q.detectAt[stream]
	if !ok {
		return nil, fmt.Errorf("detect %q: %w", stream, ErrUnknownStream)
	}

	records, err := p.changeRecords(ctx, "detect_at", query, at)
	if err != nil {
		return nil, fmt.Errorf("detect %s changes at %s: %w", stream, at.Format(time.RFC3339Nano), err)
	}
	logging.Ctx(ctx).Debug().Int("count", len(records)).Time("at", at).Msg("Fetched ids sharing one timestamp")
	return records, nil
}

// FilmsByPerson returns the distinct films referencing any of personIDs,
// oldest first, one page starting at offset. No query is made for an empty
// id set.
func (p *Postgres) FilmsByPerson(ctx context.Context, personIDs []uuid.UUID, offset int) ([]models.ChangeRecord, error) {
	return p.filmsBy(ctx, models.StreamPerson, personIDs, offset)
}

// FilmsByGenre returns the distinct films referencing any of genreIDs,
// oldest first, one page starting at offset. No query is made for an empty
// id set.
func (p *Postgres) FilmsByGenre(ctx context.Context, genreIDs []uuid.UUID, offset int) ([]models.ChangeRecord, error) {
	return p.filmsBy(ctx, models.StreamGenre, genreIDs, offset)
}

// FilmsReferencing dispatches to FilmsByPerson or FilmsByGenre.
func (p *Postgres) FilmsReferencing(ctx context.Context, stream models.Stream, ids []uuid.UUID, offset int) ([]models.ChangeRecord, error) {
	return p.filmsBy(ctx, stream, ids, offset)
}

func (p *Postgres) filmsBy(ctx context.Context, stream models.Stream, ids []uuid.UUID, offset int) ([]models.ChangeRecord, error) {
	if len(ids) == 0 {
		return []models.ChangeRecord{}, nil
	}
	query, ok := p.q.fanout[stream]
	if !ok {
		return nil, fmt.Errorf("fanout %q: %w", stream, ErrUnknownStream)
	}

	records, err := p.changeRecords(ctx, "fanout", query, uuidStrings(ids), p.pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("resolve films for %d %s ids: %w", len(ids), stream, err)
	}
	return records, nil
}

// FilmDetails returns the flattened rows of filmIDs. A film without persons
// or genres still yields one row. No query is made for an empty id set.
func (p *Postgres) FilmDetails(ctx context.Context, filmIDs []uuid.UUID) ([]models.FilmRow, error) {
	if len(filmIDs) == 0 {
		return []models.FilmRow{}, nil
	}

	var out []models.FilmRow
	err := p.run(ctx, "details", func(ctx context.Context) error {
		rows, err := p.db.Query(ctx, p.q.details, uuidStrings(filmIDs))
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, scanFilmRow)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("merge details for %d films: %w", len(filmIDs), err)
	}
	if out == nil {
		out = []models.FilmRow{}
	}
	return out, nil
}

func (p *Postgres) changeRecords(ctx context.Context, operation, query string, args ...any) ([]models.ChangeRecord, error) {
	var out []models.ChangeRecord
	err := p.run(ctx, operation, func(ctx context.Context) error {
		rows, err := p.db.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, scanChangeRecord)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.ChangeRecord{}
	}
	return out, nil
}

// run executes op under the retry policy, marking non-transient errors
// permanent and recording one metric sample per attempt.
func (p *Postgres) run(ctx context.Context, operation string, op retry.Operation) error {
	return p.policy.Do(ctx, "source_"+operation, func(ctx context.Context) error {
		start := time.Now()
		err := op(ctx)
		metrics.RecordSourceQuery(operation, time.Since(start), err)
		if err != nil && !IsTransient(err) {
			return retry.Permanent(err)
		}
		return err
	})
}

func scanChangeRecord(row pgx.CollectableRow) (models.ChangeRecord, error) {
	var rec models.ChangeRecord
	if err := row.Scan(&rec.ID, &rec.UpdatedAt); err != nil {
		return models.ChangeRecord{}, fmt.Errorf("scan change record: %w", err)
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func scanFilmRow(row pgx.CollectableRow) (models.FilmRow, error) {
	var (
		r    models.FilmRow
		role *string
	)
	err := row.Scan(
		&r.FilmID,
		&r.Title,
		&r.Description,
		&r.Rating,
		&r.Type,
		&r.CreatedAt,
		&r.UpdatedAt,
		&role,
		&r.PersonID,
		&r.PersonName,
		&r.GenreName,
	)
	if err != nil {
		return models.FilmRow{}, fmt.Errorf("scan film row: %w", err)
	}
	if role != nil {
		rr := models.Role(*role)
		r.Role = &rr
	}
	return r, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
