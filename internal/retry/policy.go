// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

// Package retry holds the backoff policy shared by the content store reader
// and the index writer. A Policy is plain data: it is built from
// configuration, passed to each component at construction and can be
// inspected in tests through Delays.
//
// Operations signal a failure that must not be retried by wrapping it with
// Permanent. Everything else is treated as transient and retried until it
// succeeds, the policy's MaxElapsed budget runs out, or the context is
// cancelled.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tomtom215/filmindex/internal/logging"
	"github.com/tomtom215/filmindex/internal/metrics"
)

// Policy describes a capped exponential backoff.
type Policy struct {
	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration

	// Factor multiplies the delay after every failed attempt.
	Factor float64

	// MaxDelay caps a single wait.
	MaxDelay time.Duration

	// MaxElapsed bounds the total time spent retrying. Zero retries forever.
	MaxElapsed time.Duration
}

// DefaultPolicy returns 0.1s initial delay, factor 2, 10s cap and no
// overall limit.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 100 * time.Millisecond,
		Factor:       2,
		MaxDelay:     10 * time.Second,
		MaxElapsed:   0,
	}
}

// Validate checks that the policy describes a usable backoff.
func (p Policy) Validate() error {
	if p.InitialDelay <= 0 {
		return fmt.Errorf("retry initial delay must be positive, got %s", p.InitialDelay)
	}
	if p.Factor < 1 {
		return fmt.Errorf("retry factor must be at least 1, got %g", p.Factor)
	}
	if p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("retry max delay (%s) must not be below the initial delay (%s)", p.MaxDelay, p.InitialDelay)
	}
	if p.MaxElapsed < 0 {
		return fmt.Errorf("retry max elapsed must not be negative, got %s", p.MaxElapsed)
	}
	return nil
}

// NewBackOff builds a fresh backoff.ExponentialBackOff from the policy.
// Delays are deterministic: no randomization is applied.
func (p Policy) NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.Factor
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = p.MaxElapsed
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Delays returns the first n waits the policy would produce.
func (p Policy) Delays(n int) []time.Duration {
	b := p.NewBackOff()
	b.MaxElapsedTime = 0
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = b.NextBackOff()
	}
	return out
}

// Operation is a unit of work that may be retried.
type Operation func(ctx context.Context) error

// Do runs op until it succeeds, returns a Permanent error, the policy gives
// up or ctx is cancelled. name labels the retry log lines and metrics.
//
// The returned error is the last error of op with any Permanent wrapper
// removed, or ctx.Err() when the wait was interrupted by shutdown.
func (p Policy) Do(ctx context.Context, name string, op Operation) error {
	attempt := 0
	notify := func(err error, wait time.Duration) {
		attempt++
		metrics.RetryAttempts.WithLabelValues(name).Inc()
		logging.Ctx(ctx).Debug().
			Err(err).
			Str("operation", name).
			Int("attempt", attempt).
			Dur("delay", wait).
			Msg("Transient failure, retrying")
	}

	err := backoff.RetryNotify(func() error {
		return op(ctx)
	}, backoff.WithContext(p.NewBackOff(), ctx), notify)
	if err != nil && attempt > 0 && !errors.Is(err, context.Canceled) {
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("operation", name).
			Int("retries", attempt).
			Msg("Giving up after retries")
	}
	return err
}

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}
