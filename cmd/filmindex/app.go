// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

package main

import (
	"context"
	"fmt"

	"github.com/tomtom215/filmindex/internal/config"
	"github.com/tomtom215/filmindex/internal/logging"
	"github.com/tomtom215/filmindex/internal/pipeline"
	"github.com/tomtom215/filmindex/internal/sink"
	"github.com/tomtom215/filmindex/internal/source"
	"github.com/tomtom215/filmindex/internal/state"
)

// app holds the wired pipeline and everything that must be released on
// exit.
type app struct {
	orch    *pipeline.Orchestrator
	breaker func() string
	closers []func() error
}

// buildApp opens the state store, the content database and the sink, makes
// sure the index exists and assembles the orchestrator.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	opened, err := state.Open(state.Backend(cfg.State.Backend), cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	a.closers = append(a.closers, opened.Close)

	pool, err := source.Connect(ctx, cfg.Postgres.DSN(), int32(cfg.Postgres.MaxConns)) //nolint:gosec // bounded by validation
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	policy := cfg.Retry.Policy()
	src := source.New(pool, source.Config{
		Schema:   cfg.Postgres.Schema,
		PageSize: cfg.Pipeline.PageSize,
		Retry:    policy,
	})

	snk, err := openSink(ctx, cfg, a)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, snk.Close)

	logging.Info().Str("index", cfg.Pipeline.IndexName).Msg("Ensuring search index exists")
	if err := snk.EnsureIndex(ctx, cfg.Pipeline.IndexName); err != nil {
		return nil, fmt.Errorf("ensure index %s: %w", cfg.Pipeline.IndexName, err)
	}

	streams, err := cfg.Pipeline.ParsedStreams()
	if err != nil {
		return nil, err
	}

	orch, err := pipeline.New(pipeline.Deps{
		Source:     src,
		Sink:       snk,
		Watermarks: opened.Store,
	}, pipeline.Config{
		Index:     cfg.Pipeline.IndexName,
		Streams:   streams,
		IdleDelay: cfg.Pipeline.IdleDelay,
	})
	if err != nil {
		return nil, err
	}
	a.orch = orch
	ok = true
	return a, nil
}

func openSink(ctx context.Context, cfg *config.Config, a *app) (sink.Sink, error) {
	switch sink.Backend(cfg.Sink.Backend) {
	case sink.BackendDuckDB:
		logging.Info().Str("path", cfg.Sink.DuckDBPath).Msg("Using DuckDB sink")
		return sink.OpenDuckDB(ctx, cfg.Sink.DuckDBPath, cfg.Retry.Policy())
	case sink.BackendElasticsearch:
		es, err := sink.NewElasticSink(sink.ElasticConfig{
			URL:      cfg.Elasticsearch.Host,
			Username: cfg.Elasticsearch.Username,
			Password: cfg.Elasticsearch.Password,
			Sniff:    cfg.Elasticsearch.Sniff,
			Retry:    cfg.Retry.Policy(),
			Breaker:  sink.DefaultBreakerSettings(),
		})
		if err != nil {
			return nil, err
		}
		a.breaker = es.Breaker
		logging.Info().Str("url", cfg.Elasticsearch.Host).Msg("Using Elasticsearch sink")
		return es, nil
	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.Sink.Backend)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logging.Error().Err(err).Msg("Error during shutdown")
		}
	}
	a.closers = nil
}
