// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

/*
orchestrator.go - Incremental Indexing Loop

Each iteration walks the configured streams in order (film, person, genre).
A stream run moves through:

	Idle -> Detecting -> [Resolving] -> Merging -> Transforming -> Sinking -> Advancing -> Idle

Detecting reads one page of entities updated after the stream's watermark.
Person and genre changes are resolved to the films that reference them; the
film stream merges its detected ids directly. Fan-out is drained page by
page and every page is merged, transformed and sunk as its own batch.

The watermark is advanced to the newest detected updated_at only after every
batch of the run was accepted by the sink. A failure in any stage leaves the
watermark untouched, so the same changes are detected again next iteration.
Delivery is at-least-once; the sink upsert is idempotent.

A full detection page may stop in the middle of rows sharing one updated_at.
The watermark then stops at the newest timestamp strictly below the page's
last one, and the tied rows are detected again next iteration. A full page
holding a single timestamp is drained without a limit before committing.
*/

//nolint:staticcheck // File documentation, not package doc
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/filmindex/internal/logging"
	"github.com/tomtom215/filmindex/internal/metrics"
	"github.com/tomtom215/filmindex/internal/models"
	"github.com/tomtom215/filmindex/internal/transform"
)

// DefaultIdleDelay is the pause between iterations.
const DefaultIdleDelay = time.Second

// Source is the relational content store.
type Source interface {
	// FetchUpdated returns one page of stream entities updated after since.
	FetchUpdated(ctx context.Context, stream models.Stream, since time.Time) ([]models.ChangeRecord, error)

	// FetchUpdatedAt returns every stream entity updated exactly at at.
	FetchUpdatedAt(ctx context.Context, stream models.Stream, at time.Time) ([]models.ChangeRecord, error)

	// FilmsReferencing returns one page of films linked to ids of stream.
	FilmsReferencing(ctx context.Context, stream models.Stream, ids []uuid.UUID, offset int) ([]models.ChangeRecord, error)

	// FilmDetails returns the flattened detail rows of films.
	FilmDetails(ctx context.Context, filmIDs []uuid.UUID) ([]models.FilmRow, error)

	// PageSize is the row limit the source applies to detection and fan-out.
	PageSize() int
}

// Sink receives the built documents.
type Sink interface {
	Upsert(ctx context.Context, index string, docs []models.FilmDocument) (int, error)
}

// WatermarkStore persists per-stream progress.
type WatermarkStore interface {
	Get(ctx context.Context, stream models.Stream) (time.Time, error)
	Set(ctx context.Context, stream models.Stream, t time.Time) error
}

// TransformFunc folds detail rows into documents.
type TransformFunc func(rows []models.FilmRow) ([]models.FilmDocument, error)

// Config tunes the orchestrator.
type Config struct {
	// Index receives every document.
	Index string

	// Streams to process each iteration, in order. Empty means all.
	Streams []models.Stream

	// IdleDelay between iterations. Zero means DefaultIdleDelay.
	IdleDelay time.Duration
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Source     Source
	Sink       Sink
	Watermarks WatermarkStore

	// Transform defaults to transform.Transform.
	Transform TransformFunc
}

// Orchestrator runs the indexing loop.
type Orchestrator struct {
	source     Source
	sink       Sink
	watermarks WatermarkStore
	transform  TransformFunc
	cfg        Config

	mu            sync.RWMutex
	status        map[models.Stream]*StreamStatus
	lastIteration time.Time
}

// New validates deps and cfg and returns an orchestrator.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("pipeline: source is required")
	case deps.Sink == nil:
		return nil, errors.New("pipeline: sink is required")
	case deps.Watermarks == nil:
		return nil, errors.New("pipeline: watermark store is required")
	case cfg.Index == "":
		return nil, errors.New("pipeline: index name is required")
	case deps.Source.PageSize() < 1:
		return nil, fmt.Errorf("pipeline: source page size %d must be positive", deps.Source.PageSize())
	}

	if deps.Transform == nil {
		deps.Transform = transform.Transform
	}
	if len(cfg.Streams) == 0 {
		cfg.Streams = models.AllStreams
	}
	for _, s := range cfg.Streams {
		if !s.Valid() {
			return nil, fmt.Errorf("pipeline: unknown stream %q", s)
		}
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = DefaultIdleDelay
	}

	status := make(map[models.Stream]*StreamStatus, len(cfg.Streams))
	for _, s := range cfg.Streams {
		status[s] = &StreamStatus{Stream: s, State: StateIdle}
	}

	return &Orchestrator{
		source:     deps.Source,
		sink:       deps.Sink,
		watermarks: deps.Watermarks,
		transform:  deps.Transform,
		cfg:        cfg,
		status:     status,
	}, nil
}

// Run calls RunOnce until ctx is done, sleeping IdleDelay between
// iterations. Stream failures are logged and retried on the next iteration;
// Run only returns when ctx ends.
func (o *Orchestrator) Run(ctx context.Context) error {
	logging.Info().
		Str("index", o.cfg.Index).
		Int("streams", len(o.cfg.Streams)).
		Dur("idle_delay", o.cfg.IdleDelay).
		Msg("Indexing loop started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Indexing loop stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if err := o.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logging.Warn().Err(err).Msg("Iteration finished with failed streams")
		}
		timer.Reset(o.cfg.IdleDelay)
	}
}

// RunOnce processes every configured stream once. A failed stream does not
// stop the others; the returned error joins all stream failures.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	start := time.Now()

	var errs []error
	for _, stream := range o.cfg.Streams {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := o.runStream(logging.ContextWithStream(ctx, stream.String()), stream); err != nil {
			errs = append(errs, err)
		}
	}

	metrics.IterationDuration.Observe(time.Since(start).Seconds())
	if len(errs) == 0 {
		o.mu.Lock()
		o.lastIteration = time.Now()
		o.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) runStream(ctx context.Context, stream models.Stream) (err error) {
	start := time.Now()
	var detected, indexed int
	log := logging.Ctx(ctx)

	defer func() {
		stage := ""
		var se *stageError
		if errors.As(err, &se) {
			stage = se.stage.String()
			log.Error().Err(se.err).Str("stage", stage).Msg("Stream run failed, watermark not advanced")
		}
		metrics.RecordStreamRun(stream.String(), time.Since(start), detected, indexed, stage, err)
		o.finish(stream, detected, indexed, err)
	}()

	o.setState(stream, StateDetecting)
	since, err := o.watermarks.Get(ctx, stream)
	if err != nil {
		return &stageError{stream: stream, stage: StateDetecting, err: err}
	}
	records, err := o.source.FetchUpdated(ctx, stream, since)
	if err != nil {
		return &stageError{stream: stream, stage: StateDetecting, err: err}
	}
	if len(records) == 0 {
		return nil
	}

	watermark := models.MaxUpdatedAt(records)
	if len(records) >= o.source.PageSize() {
		if settled, ok := settledWatermark(records); ok {
			watermark = settled
		} else {
			records, err = o.source.FetchUpdatedAt(ctx, stream, watermark)
			if err != nil {
				return &stageError{stream: stream, stage: StateDetecting, err: err}
			}
		}
	}
	detected = len(records)
	log.Info().Int("count", detected).Time("since", since).Msg("Detected changes")

	if stream == models.StreamFilm {
		indexed, err = o.deliverFilms(ctx, models.IDs(records))
	} else {
		indexed, err = o.resolve(ctx, stream, models.IDs(records))
	}
	if err != nil {
		return err
	}

	o.setState(stream, StateAdvancing)
	if err := o.watermarks.Set(ctx, stream, watermark); err != nil {
		return &stageError{stream: stream, stage: StateAdvancing, err: err}
	}
	metrics.SetWatermark(stream.String(), watermark)
	log.Info().Int("indexed", indexed).Time("watermark", watermark).Msg("Stream caught up")
	return nil
}

// settledWatermark returns the newest updated_at strictly older than the
// newest record of a full page. Rows tied with that newest record may lie
// beyond the page limit, so only older timestamps are complete. ok is false
// when every record shares one timestamp.
func settledWatermark(records []models.ChangeRecord) (settled time.Time, ok bool) {
	newest := models.MaxUpdatedAt(records)
	for _, r := range records {
		if r.UpdatedAt.Before(newest) && (!ok || r.UpdatedAt.After(settled)) {
			settled, ok = r.UpdatedAt, true
		}
	}
	return settled, ok
}

// deliverFilms delivers detected film ids in batches of at most one page.
func (o *Orchestrator) deliverFilms(ctx context.Context, ids []uuid.UUID) (int, error) {
	pageSize := o.source.PageSize()
	var indexed int
	for start := 0; start < len(ids); start += pageSize {
		n, err := o.deliver(ctx, models.StreamFilm, ids[start:min(start+pageSize, len(ids))])
		indexed += n
		if err != nil {
			return indexed, err
		}
	}
	return indexed, nil
}

// resolve drains the fan-out of ids page by page, delivering each page.
func (o *Orchestrator) resolve(ctx context.Context, stream models.Stream, ids []uuid.UUID) (int, error) {
	pageSize := o.source.PageSize()
	var indexed, films int

	for offset := 0; ; offset += pageSize {
		o.setState(stream, StateResolving)
		page, err := o.source.FilmsReferencing(ctx, stream, ids, offset)
		if err != nil {
			return indexed, &stageError{stream: stream, stage: StateResolving, err: err}
		}
		if len(page) == 0 {
			break
		}
		films += len(page)

		n, err := o.deliver(ctx, stream, models.IDs(page))
		indexed += n
		if err != nil {
			return indexed, err
		}
		if len(page) < pageSize {
			break
		}
	}

	if films == 0 {
		logging.Ctx(ctx).Info().Int("ids", len(ids)).Msg("No films reference the changed entities")
	}
	return indexed, nil
}

// deliver merges, transforms and sinks one batch of film ids.
func (o *Orchestrator) deliver(ctx context.Context, stream models.Stream, filmIDs []uuid.UUID) (int, error) {
	o.setState(stream, StateMerging)
	rows, err := o.source.FilmDetails(ctx, filmIDs)
	if err != nil {
		return 0, &stageError{stream: stream, stage: StateMerging, err: err}
	}

	o.setState(stream, StateTransforming)
	docs, err := o.transform(rows)
	if err != nil {
		return 0, &stageError{stream: stream, stage: StateTransforming, err: err}
	}
	if len(docs) == 0 {
		return 0, nil
	}

	o.setState(stream, StateSinking)
	n, err := o.sink.Upsert(ctx, o.cfg.Index, docs)
	if err != nil {
		return 0, &stageError{stream: stream, stage: StateSinking, err: err}
	}
	logging.Ctx(ctx).Info().Int("films", len(filmIDs)).Int("rows", len(rows)).Int("indexed", n).Msg("Batch indexed")
	return n, nil
}

func (o *Orchestrator) setState(stream models.Stream, s State) {
	o.mu.Lock()
	o.status[stream].State = s
	o.mu.Unlock()
}

func (o *Orchestrator) finish(stream models.Stream, detected, indexed int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := o.status[stream]
	st.State = StateIdle
	st.LastRun = time.Now()
	st.Detected = detected
	st.Indexed = indexed
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
	}
}

// Status returns a snapshot of every configured stream, including its
// committed watermark.
func (o *Orchestrator) Status(ctx context.Context) ([]StreamStatus, error) {
	o.mu.RLock()
	out := make([]StreamStatus, 0, len(o.cfg.Streams))
	for _, s := range o.cfg.Streams {
		out = append(out, *o.status[s])
	}
	o.mu.RUnlock()

	for i := range out {
		wm, err := o.watermarks.Get(ctx, out[i].Stream)
		if err != nil {
			return nil, fmt.Errorf("read %s watermark: %w", out[i].Stream, err)
		}
		out[i].Watermark = wm
	}
	return out, nil
}

// LastIteration returns when an iteration last completed without any
// stream failing, or the zero time if none has.
func (o *Orchestrator) LastIteration() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastIteration
}

// Streams returns the configured streams in processing order.
func (o *Orchestrator) Streams() []models.Stream {
	return append([]models.Stream(nil), o.cfg.Streams...)
}
