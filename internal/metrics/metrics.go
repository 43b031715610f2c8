// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

// Package metrics declares the Prometheus instruments of the indexer and the
// helpers that record them. All collectors register with the default
// registry and are exposed by the ops server on /metrics.
package metrics

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Content store metrics
	SourceQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filmindex_source_query_duration_seconds",
			Help:    "Duration of content store queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // detect, detect_at, fanout, details
	)

	SourceQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmindex_source_query_errors_total",
			Help: "Total number of failed content store queries",
		},
		[]string{"operation", "error_type"},
	)

	// Pipeline metrics
	RecordsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmindex_records_detected_total",
			Help: "Total number of changed records detected per stream",
		},
		[]string{"stream"},
	)

	DocumentsIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmindex_documents_indexed_total",
			Help: "Total number of film documents accepted by the index per stream",
		},
		[]string{"stream"},
	)

	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmindex_stage_errors_total",
			Help: "Total number of failed stream runs by the stage that failed",
		},
		[]string{"stream", "stage"},
	)

	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filmindex_stream_duration_seconds",
			Help:    "Duration of one stream run in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"stream"},
	)

	IterationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filmindex_iteration_duration_seconds",
			Help:    "Duration of one pass over all streams in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
	)

	Watermark = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filmindex_watermark_timestamp_seconds",
			Help: "Current watermark per stream as a Unix timestamp",
		},
		[]string{"stream"},
	)

	LastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filmindex_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful run per stream",
		},
		[]string{"stream"},
	)

	// Sink metrics
	SinkBulkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filmindex_sink_bulk_duration_seconds",
			Help:    "Duration of bulk upserts in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	SinkBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filmindex_sink_batch_size",
			Help:    "Number of documents per bulk upsert",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmindex_sink_errors_total",
			Help: "Total number of failed bulk upserts",
		},
		[]string{"backend", "error_type"},
	)

	// Retry metrics
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmindex_retry_attempts_total",
			Help: "Total number of retries after a transient failure",
		},
		[]string{"operation"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Ops server metrics
	OpsRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmindex_ops_requests_total",
			Help: "Total number of requests served by the ops server",
		},
		[]string{"method", "route", "status"},
	)

	OpsRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filmindex_ops_request_duration_seconds",
			Help:    "Ops server request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordSourceQuery records one content store query.
func RecordSourceQuery(operation string, duration time.Duration, err error) {
	SourceQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		SourceQueryErrors.WithLabelValues(operation, ErrorType(err)).Inc()
	}
}

// RecordSinkBulk records one bulk upsert of size documents.
func RecordSinkBulk(backend string, duration time.Duration, size int, err error) {
	SinkBulkDuration.WithLabelValues(backend).Observe(duration.Seconds())
	SinkBatchSize.Observe(float64(size))
	if err != nil {
		SinkErrors.WithLabelValues(backend, ErrorType(err)).Inc()
	}
}

// RecordStreamRun records the outcome of one stream run. stage names the
// stage that failed and is ignored when err is nil.
func RecordStreamRun(stream string, duration time.Duration, detected, indexed int, stage string, err error) {
	StreamDuration.WithLabelValues(stream).Observe(duration.Seconds())
	RecordsDetected.WithLabelValues(stream).Add(float64(detected))
	DocumentsIndexed.WithLabelValues(stream).Add(float64(indexed))
	if err != nil {
		StageErrors.WithLabelValues(stream, stage).Inc()
		return
	}
	LastSuccess.WithLabelValues(stream).Set(float64(time.Now().Unix()))
}

// SetWatermark publishes the committed watermark of stream.
func SetWatermark(stream string, t time.Time) {
	if t.IsZero() || t.Year() <= 1 {
		Watermark.WithLabelValues(stream).Set(0)
		return
	}
	Watermark.WithLabelValues(stream).Set(float64(t.UnixMilli()) / 1000)
}

// RecordOpsRequest records one ops server request.
func RecordOpsRequest(method, route, status string, duration time.Duration) {
	OpsRequestsTotal.WithLabelValues(method, route, status).Inc()
	OpsRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ErrorType buckets an error into a low-cardinality label value.
func ErrorType(err error) string {
	var netErr net.Error
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &netErr):
		return "network"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "validation"), strings.Contains(msg, "invalid document"):
		return "validation"
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return "network"
	case strings.Contains(msg, "circuit breaker"):
		return "circuit_open"
	case strings.Contains(msg, "rejected"):
		return "rejected"
	default:
		return "other"
	}
}
