// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tomtom215/filmindex/internal/models"
	"github.com/tomtom215/filmindex/internal/retry"
)

// fakeRows serves a fixed result set through the pgx.Rows interface.
type fakeRows struct {
	data [][]any
	pos  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	return r.data[r.pos-1], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if row[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(row[i]))
	}
	return nil
}

type queryCall struct {
	sql  string
	args []any
}

// fakeQuerier returns queued results in order and records every call.
type fakeQuerier struct {
	results []func() (pgx.Rows, error)
	calls   []queryCall
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.calls = append(q.calls, queryCall{sql: sql, args: args})
	if len(q.results) == 0 {
		return &fakeRows{}, nil
	}
	next := q.results[0]
	q.results = q.results[1:]
	return next()
}

func rowsOf(data ...[]any) func() (pgx.Rows, error) {
	return func() (pgx.Rows, error) { return &fakeRows{data: data}, nil }
}

func failWith(err error) func() (pgx.Rows, error) {
	return func() (pgx.Rows, error) { return nil, err }
}

func testPolicy() retry.Policy {
	return retry.Policy{InitialDelay: time.Millisecond, Factor: 2, MaxDelay: 2 * time.Millisecond}
}

func strPtr(s string) *string { return &s }

func TestFetchUpdated(t *testing.T) {
	t.Parallel()

	id1, id2 := uuid.New(), uuid.New()
	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	since := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	q := &fakeQuerier{results: []func() (pgx.Rows, error){
		rowsOf([]any{id1, t1}, []any{id2, t2}),
	}}
	src := New(q, Config{PageSize: 50, Retry: testPolicy()})

	got, err := src.FetchUpdated(context.Background(), models.StreamPerson, since)
	if err != nil {
		t.Fatalf("FetchUpdated() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != id1 || !got[1].UpdatedAt.Equal(t2) {
		t.Errorf("FetchUpdated() = %+v", got)
	}

	if len(q.calls) != 1 {
		t.Fatalf("expected 1 query, got %d", len(q.calls))
	}
	call := q.calls[0]
	if !strings.Contains(call.sql, `"content"."person"`) {
		t.Errorf("query does not target content.person: %s", call.sql)
	}
	if !strings.Contains(call.sql, "updated_at > $1") {
		t.Errorf("query is not strictly greater than the watermark: %s", call.sql)
	}
	if call.args[0] != since || call.args[1] != 50 {
		t.Errorf("args = %v, want [%v 50]", call.args, since)
	}
}

func TestFetchUpdated_EmptyIsNotError(t *testing.T) {
	t.Parallel()

	src := New(&fakeQuerier{}, Config{Retry: testPolicy()})
	got, err := src.FetchUpdated(context.Background(), models.StreamFilm, time.Now())
	if err != nil {
		t.Fatalf("FetchUpdated() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("FetchUpdated() = %v, want empty non-nil slice", got)
	}
}

func TestFetchUpdated_UnknownStream(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{}
	src := New(q, Config{Retry: testPolicy()})
	_, err := src.FetchUpdated(context.Background(), models.Stream("studio"), time.Now())
	if !errors.Is(err, ErrUnknownStream) {
		t.Errorf("FetchUpdated() error = %v, want ErrUnknownStream", err)
	}
	if len(q.calls) != 0 {
		t.Errorf("expected no query, got %d", len(q.calls))
	}
}

func TestFetchUpdatedAt(t *testing.T) {
	t.Parallel()

	id1, id2 := uuid.New(), uuid.New()
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	q := &fakeQuerier{results: []func() (pgx.Rows, error){
		rowsOf([]any{id1, at}, []any{id2, at}),
	}}
	src := New(q, Config{PageSize: 1, Retry: testPolicy()})

	got, err := src.FetchUpdatedAt(context.Background(), models.StreamGenre, at)
	if err != nil {
		t.Fatalf("FetchUpdatedAt() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != id1 || got[1].ID != id2 {
		t.Errorf("FetchUpdatedAt() = %+v", got)
	}

	call := q.calls[0]
	if !strings.Contains(call.sql, `"content"."genre"`) || !strings.Contains(call.sql, "updated_at = $1") {
		t.Errorf("query does not select one timestamp of content.genre: %s", call.sql)
	}
	// Rows sharing one timestamp are read in full, regardless of page size.
	if strings.Contains(call.sql, "LIMIT") {
		t.Errorf("query must not be page limited: %s", call.sql)
	}
	if len(call.args) != 1 || call.args[0] != at {
		t.Errorf("args = %v, want [%v]", call.args, at)
	}

	if _, err := src.FetchUpdatedAt(context.Background(), models.Stream("studio"), at); !errors.Is(err, ErrUnknownStream) {
		t.Errorf("FetchUpdatedAt(studio) error = %v, want ErrUnknownStream", err)
	}
}

func TestFanout_EmptyInputSkipsQuery(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{}
	src := New(q, Config{Retry: testPolicy()})

	byPerson, err := src.FilmsByPerson(context.Background(), nil, 0)
	if err != nil || len(byPerson) != 0 {
		t.Errorf("FilmsByPerson(nil) = %v, %v", byPerson, err)
	}
	byGenre, err := src.FilmsByGenre(context.Background(), []uuid.UUID{}, 0)
	if err != nil || len(byGenre) != 0 {
		t.Errorf("FilmsByGenre(empty) = %v, %v", byGenre, err)
	}
	details, err := src.FilmDetails(context.Background(), nil)
	if err != nil || len(details) != 0 {
		t.Errorf("FilmDetails(nil) = %v, %v", details, err)
	}
	if len(q.calls) != 0 {
		t.Errorf("expected no queries for empty input, got %d", len(q.calls))
	}
}

func TestFilmsByGenre(t *testing.T) {
	t.Parallel()

	genre := uuid.New()
	film := uuid.New()
	ts := time.Date(2023, 5, 5, 0, 0, 0, 0, time.UTC)

	q := &fakeQuerier{results: []func() (pgx.Rows, error){rowsOf([]any{film, ts})}}
	src := New(q, Config{Schema: "catalog", PageSize: 10, Retry: testPolicy()})

	got, err := src.FilmsByGenre(context.Background(), []uuid.UUID{genre}, 20)
	if err != nil {
		t.Fatalf("FilmsByGenre() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != film {
		t.Errorf("FilmsByGenre() = %+v", got)
	}

	call := q.calls[0]
	if !strings.Contains(call.sql, `"catalog"."genre_film_work"`) || !strings.Contains(call.sql, `link."genre_id"`) {
		t.Errorf("unexpected fan-out query: %s", call.sql)
	}
	ids, ok := call.args[0].([]string)
	if !ok || len(ids) != 1 || ids[0] != genre.String() {
		t.Errorf("ids arg = %#v", call.args[0])
	}
	if call.args[1] != 10 || call.args[2] != 20 {
		t.Errorf("limit/offset = %v/%v, want 10/20", call.args[1], call.args[2])
	}
}

func TestFilmDetails(t *testing.T) {
	t.Parallel()

	film, actor := uuid.New(), uuid.New()
	created := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	rating := 85.0

	q := &fakeQuerier{results: []func() (pgx.Rows, error){
		rowsOf(
			[]any{film, strPtr("Test"), nil, &rating, strPtr("movie"), created, created,
				strPtr("actor"), uuid.NullUUID{UUID: actor, Valid: true}, strPtr("Jane"), strPtr("Drama")},
			[]any{film, strPtr("Test"), nil, &rating, strPtr("movie"), created, created,
				nil, uuid.NullUUID{}, nil, nil},
		),
	}}
	src := New(q, Config{Retry: testPolicy()})

	rows, err := src.FilmDetails(context.Background(), []uuid.UUID{film})
	if err != nil {
		t.Fatalf("FilmDetails() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Role == nil || *rows[0].Role != models.RoleActor {
		t.Errorf("role = %v, want actor", rows[0].Role)
	}
	if !rows[0].PersonID.Valid || rows[0].PersonID.UUID != actor {
		t.Errorf("person id = %v", rows[0].PersonID)
	}
	if rows[1].Role != nil || rows[1].PersonID.Valid || rows[1].GenreName != nil {
		t.Errorf("outer-joined row should have null person/genre: %+v", rows[1])
	}
	if !strings.Contains(q.calls[0].sql, "LEFT JOIN") {
		t.Errorf("details query should outer join: %s", q.calls[0].sql)
	}
}

func TestQuery_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	q := &fakeQuerier{results: []func() (pgx.Rows, error){
		failWith(&net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}),
		failWith(&pgconn.PgError{Code: "57P01"}),
		rowsOf([]any{id, time.Now()}),
	}}
	src := New(q, Config{Retry: testPolicy()})

	got, err := src.FetchUpdated(context.Background(), models.StreamFilm, time.Time{})
	if err != nil {
		t.Fatalf("FetchUpdated() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 record, got %d", len(got))
	}
	if len(q.calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(q.calls))
	}
}

func TestQuery_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	undefinedTable := &pgconn.PgError{Code: "42P01", Message: `relation "content.film_work" does not exist`}
	q := &fakeQuerier{results: []func() (pgx.Rows, error){failWith(undefinedTable)}}
	src := New(q, Config{Retry: testPolicy()})

	_, err := src.FetchUpdated(context.Background(), models.StreamFilm, time.Time{})

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "42P01" {
		t.Errorf("FetchUpdated() error = %v, want the PgError", err)
	}
	if len(q.calls) != 1 {
		t.Errorf("expected 1 attempt, got %d", len(q.calls))
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"dial refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, true},
		{"unexpected eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), true},
		{"connection exception class", &pgconn.PgError{Code: "08006"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"serialization failure", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40001"}), true},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"scan error", errors.New("can't scan into dest[0]"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
