// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver
	"github.com/goccy/go-json"

	"github.com/tomtom215/filmindex/internal/logging"
	"github.com/tomtom215/filmindex/internal/metrics"
	"github.com/tomtom215/filmindex/internal/models"
	"github.com/tomtom215/filmindex/internal/retry"
)

const createDocumentsTable = `
CREATE TABLE IF NOT EXISTS documents (
    index_name VARCHAR NOT NULL,
    id         VARCHAR NOT NULL,
    body       VARCHAR NOT NULL,
    indexed_at TIMESTAMP NOT NULL,
    PRIMARY KEY (index_name, id)
)`

const upsertDocument = `
INSERT OR REPLACE INTO documents (index_name, id, body, indexed_at)
VALUES (?, ?, ?, ?)`

// DuckDBSink stores documents in a local DuckDB file, one row per
// (index, id). It has the same idempotent contract as ElasticSink.
type DuckDBSink struct {
	db     *sql.DB
	policy retry.Policy
	now    func() time.Time

	// begin opens the upsert transaction.
	begin func(ctx context.Context) (*sql.Tx, error)
}

// OpenDuckDB opens or creates the database at path (":memory:" for an
// in-process database). Failed upserts are retried under policy.
func OpenDuckDB(ctx context.Context, path string, policy retry.Policy) (*DuckDBSink, error) {
	dsn := path + "?autoinstall_known_extensions=false&autoload_known_extensions=false"
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb sink: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, createDocumentsTable); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &DuckDBSink{
		db:     db,
		policy: policy,
		now:    time.Now,
		begin: func(ctx context.Context) (*sql.Tx, error) {
			return db.BeginTx(ctx, nil)
		},
	}, nil
}

// Upsert replaces docs in a single transaction. A failed transaction is
// rolled back and retried as a whole; a document that cannot be encoded
// fails the call with ErrRejected.
func (s *DuckDBSink) Upsert(ctx context.Context, index string, docs []models.FilmDocument) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	bodies := make([]string, len(docs))
	for i := range docs {
		body, err := json.Marshal(&docs[i])
		if err != nil {
			return 0, fmt.Errorf("%w: marshal %s: %w", ErrRejected, docs[i].ID, err)
		}
		bodies[i] = string(body)
	}

	err := s.policy.Do(ctx, "sink_duckdb", func(ctx context.Context) error {
		start := time.Now()
		err := s.write(ctx, index, docs, bodies)
		metrics.RecordSinkBulk(string(BackendDuckDB), time.Since(start), len(docs), err)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("upsert %d documents into %s: %w", len(docs), index, err)
	}
	return len(docs), nil
}

func (s *DuckDBSink) write(ctx context.Context, index string, docs []models.FilmDocument, bodies []string) (err error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logging.Warn().Err(rbErr).Msg("Rollback of document upsert failed")
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertDocument)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	indexedAt := s.now().UTC()
	for i := range docs {
		if _, err = stmt.ExecContext(ctx, index, docs[i].DocumentID(), bodies[i], indexedAt); err != nil {
			return fmt.Errorf("upsert %s: %w", docs[i].ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// EnsureIndex is a no-op; every index lives in the documents table.
func (s *DuckDBSink) EnsureIndex(context.Context, string) error {
	return nil
}

// Get returns the stored document, or nil if absent.
func (s *DuckDBSink) Get(ctx context.Context, index, id string) (*models.FilmDocument, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE index_name = ? AND id = ?`, index, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}

	var doc models.FilmDocument
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	return &doc, nil
}

// Count returns the number of documents in index.
func (s *DuckDBSink) Count(ctx context.Context, index string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM documents WHERE index_name = ?`, index).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *DuckDBSink) Close() error {
	return s.db.Close()
}

func closeQuietly(db *sql.DB) {
	if err := db.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close duckdb sink")
	}
}
