// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

package pipeline

import (
	"fmt"
	"time"

	"github.com/tomtom215/filmindex/internal/models"
)

// State is the stage a stream is currently in.
type State int

const (
	StateIdle State = iota
	StateDetecting
	StateResolving
	StateMerging
	StateTransforming
	StateSinking
	StateAdvancing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetecting:
		return "detecting"
	case StateResolving:
		return "resolving"
	case StateMerging:
		return "merging"
	case StateTransforming:
		return "transforming"
	case StateSinking:
		return "sinking"
	case StateAdvancing:
		return "advancing"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateAdvancing; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("pipeline: unknown state %q", text)
}

// StreamStatus is a point-in-time view of one stream.
type StreamStatus struct {
	Stream    models.Stream `json:"stream"`
	State     State         `json:"state"`
	Watermark time.Time     `json:"watermark"`
	LastRun   time.Time     `json:"last_run"`
	LastError string        `json:"last_error,omitempty"`
	Detected  int           `json:"detected"`
	Indexed   int           `json:"indexed"`
}

// stageError records which stage of a stream run failed.
type stageError struct {
	stream models.Stream
	stage  State
	err    error
}

func (e *stageError) Error() string {
	return e.stream.String() + " stream " + e.stage.String() + ": " + e.err.Error()
}

func (e *stageError) Unwrap() error {
	return e.err
}
