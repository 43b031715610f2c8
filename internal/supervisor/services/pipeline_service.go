// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

package services

import (
	"context"
	"errors"
	"fmt"
)

// Runner is a blocking loop that returns when ctx ends.
// Satisfied by *pipeline.Orchestrator.
type Runner interface {
	Run(ctx context.Context) error
}

// PipelineService runs the indexing loop under supervision. If the loop
// returns while ctx is still live, suture restarts it with backoff.
type PipelineService struct {
	runner Runner
	name   string
}

// NewPipelineService wraps runner.
func NewPipelineService(runner Runner) *PipelineService {
	return &PipelineService{runner: runner, name: "pipeline"}
}

// Serve implements suture.Service.
func (p *PipelineService) Serve(ctx context.Context) error {
	err := p.runner.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errors.New("loop exited")
	}
	return fmt.Errorf("%s: %w", p.name, err)
}

func (p *PipelineService) String() string {
	return p.name
}
