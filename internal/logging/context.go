// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	streamKey        contextKey = "stream"
)

// GenerateCorrelationID returns the first 8 characters of a random UUID.
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

// ContextWithCorrelationID returns a context carrying the given correlation ID.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// ContextWithNewCorrelationID returns a context with a freshly generated
// correlation ID. The orchestrator calls it once per iteration.
func ContextWithNewCorrelationID(ctx context.Context) context.Context {
	return ContextWithCorrelationID(ctx, GenerateCorrelationID())
}

// CorrelationIDFromContext returns the correlation ID or "" if none is set.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithStream tags ctx with the stream currently being processed.
func ContextWithStream(ctx context.Context, stream string) context.Context {
	return context.WithValue(ctx, streamKey, stream)
}

// StreamFromContext returns the stream tag or "" if none is set.
func StreamFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(streamKey).(string); ok {
		return s
	}
	return ""
}

// Ctx returns the global logger enriched with the correlation ID and stream
// found in ctx.
//
//	logging.Ctx(ctx).Info().Int("indexed", n).Msg("Batch indexed")
func Ctx(ctx context.Context) *zerolog.Logger {
	l := CtxWith(ctx).Logger()
	return &l
}

// CtxWith returns a logger context builder with the ctx fields pre-populated.
func CtxWith(ctx context.Context) zerolog.Context {
	logCtx := With()
	if id := CorrelationIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("correlation_id", id)
	}
	if s := StreamFromContext(ctx); s != "" {
		logCtx = logCtx.Str("stream", s)
	}
	return logCtx
}

// WithComponent creates a child logger with a component field.
//
//	sinkLog := logging.WithComponent("sink")
func WithComponent(component string) zerolog.Logger {
	return With().Str("component", component).Logger()
}
