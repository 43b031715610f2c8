// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/filmindex/internal/pipeline"
)

// StatusProvider reports pipeline progress. Satisfied by
// *pipeline.Orchestrator.
type StatusProvider interface {
	Status(ctx context.Context) ([]pipeline.StreamStatus, error)
	LastIteration() time.Time
}

// Options configures the ops handlers.
type Options struct {
	// ReadyAfter is how recent the last clean iteration must be for
	// /readyz to succeed. Zero only requires that one has completed.
	ReadyAfter time.Duration

	// Breaker reports the sink circuit breaker state, if the sink has one.
	Breaker func() string

	// Index is reported by /status.
	Index string

	// RateLimit is the per-IP request budget per minute. Zero disables
	// limiting.
	RateLimit int

	// CORSOrigins enables CORS for browser dashboards when non-empty.
	CORSOrigins []string
}

// Handler serves the ops endpoints.
type Handler struct {
	status    StatusProvider
	opts      Options
	startTime time.Time
	now       func() time.Time
}

// NewHandler creates the ops handlers over status.
func NewHandler(status StatusProvider, opts Options) *Handler {
	return &Handler{
		status:    status,
		opts:      opts,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Alive  bool    `json:"alive"`
	Uptime float64 `json:"uptime_seconds"`
}

// ReadyResponse is returned by /readyz.
type ReadyResponse struct {
	Ready         bool       `json:"ready"`
	Reason        string     `json:"reason,omitempty"`
	LastIteration *time.Time `json:"last_iteration,omitempty"`
}

// StatusResponse is returned by /status.
type StatusResponse struct {
	Index         string                  `json:"index"`
	Streams       []pipeline.StreamStatus `json:"streams"`
	LastIteration *time.Time              `json:"last_iteration,omitempty"`
	Breaker       string                  `json:"breaker,omitempty"`
	Uptime        float64                 `json:"uptime_seconds"`
}

// Health answers liveness probes. It never touches dependencies.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondData(w, http.StatusOK, HealthResponse{
		Alive:  true,
		Uptime: h.now().Sub(h.startTime).Seconds(),
	})
}

// Ready reports whether an iteration finished cleanly recently enough.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	resp := ReadyResponse{Ready: true}
	last := h.status.LastIteration()

	switch {
	case last.IsZero():
		resp.Ready = false
		resp.Reason = "no iteration has completed without errors"
	case h.opts.ReadyAfter > 0 && h.now().Sub(last) > h.opts.ReadyAfter:
		resp.Ready = false
		resp.Reason = "last clean iteration is older than " + h.opts.ReadyAfter.String()
	}
	if !last.IsZero() {
		resp.LastIteration = &last
	}

	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	respondData(w, code, resp)
}

// Status returns watermarks and stage of every stream.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	streams, err := h.status.Status(r.Context())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "STATE_ERROR", "Failed to read watermarks", err)
		return
	}

	resp := StatusResponse{
		Index:   h.opts.Index,
		Streams: streams,
		Uptime:  h.now().Sub(h.startTime).Seconds(),
	}
	if last := h.status.LastIteration(); !last.IsZero() {
		resp.LastIteration = &last
	}
	if h.opts.Breaker != nil {
		resp.Breaker = h.opts.Breaker()
	}
	respondData(w, http.StatusOK, resp)
}

// TooManyRequests answers requests over the rate limit.
func (h *Handler) TooManyRequests(w http.ResponseWriter, r *http.Request) {
	respondError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
}

// NotFound answers unknown routes with the JSON error envelope.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, r, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}
