// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/olivere/elastic/v7"

	"github.com/tomtom215/filmindex/internal/logging"
	"github.com/tomtom215/filmindex/internal/metrics"
	"github.com/tomtom215/filmindex/internal/models"
	"github.com/tomtom215/filmindex/internal/retry"
)

// ElasticConfig configures ElasticSink.
type ElasticConfig struct {
	URL      string
	Username string
	Password string

	// Sniff enables cluster node discovery. Leave off for single-node and
	// containerised clusters whose advertised addresses are unreachable.
	Sniff bool

	Retry   retry.Policy
	Breaker BreakerSettings

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// ElasticSink bulk-indexes documents into Elasticsearch.
type ElasticSink struct {
	client  *elastic.Client
	policy  retry.Policy
	breaker *breaker
}

// NewElasticSink creates a client for cfg.URL. No request is made; an
// unreachable cluster shows up as transient bulk failures.
func NewElasticSink(cfg ElasticConfig) (*ElasticSink, error) {
	opts := []elastic.ClientOptionFunc{
		elastic.SetURL(cfg.URL),
		elastic.SetSniff(cfg.Sniff),
		elastic.SetHealthcheck(false),
	}
	if cfg.Username != "" {
		opts = append(opts, elastic.SetBasicAuth(cfg.Username, cfg.Password))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, elastic.SetHttpClient(cfg.HTTPClient))
	}

	client, err := elastic.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if cfg.Breaker == (BreakerSettings{}) {
		cfg.Breaker = DefaultBreakerSettings()
	}

	return &ElasticSink{
		client:  client,
		policy:  cfg.Retry,
		breaker: newBreaker("elasticsearch", cfg.Breaker),
	}, nil
}

// Upsert sends docs in one bulk request, retrying transient failures under
// the configured policy. Documents refused with a non-retryable status fail
// the call with ErrRejected.
func (s *ElasticSink) Upsert(ctx context.Context, index string, docs []models.FilmDocument) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	var indexed int
	err := s.policy.Do(ctx, "sink_bulk", func(ctx context.Context) error {
		start := time.Now()
		n, err := s.breaker.execute(func() (int, error) {
			return s.bulk(ctx, index, docs)
		})
		metrics.RecordSinkBulk(string(BackendElasticsearch), time.Since(start), len(docs), err)
		if err != nil {
			return classify(err)
		}
		indexed = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bulk upsert %d documents into %s: %w", len(docs), index, err)
	}

	logging.Ctx(ctx).Debug().Str("index", index).Int("indexed", indexed).Msg("Bulk upsert complete")
	return indexed, nil
}

func (s *ElasticSink) bulk(ctx context.Context, index string, docs []models.FilmDocument) (int, error) {
	svc := s.client.Bulk().Index(index)
	for i := range docs {
		svc.Add(elastic.NewBulkIndexRequest().Id(docs[i].DocumentID()).Doc(&docs[i]))
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return 0, err
	}

	var (
		retryable bool
		rejected  []rejection
	)
	for _, item := range resp.Failed() {
		if retryableStatus(item.Status) {
			retryable = true
			continue
		}
		reason := ""
		if item.Error != nil {
			reason = item.Error.Type + ": " + item.Error.Reason
		}
		rejected = append(rejected, rejection{id: item.Id, status: item.Status, reason: reason})
	}

	switch {
	case len(rejected) > 0:
		return 0, rejectedError(rejected)
	case retryable:
		return 0, errBulkBackpressure
	}
	return len(resp.Succeeded()), nil
}

// EnsureIndex creates index with the film mapping if it does not exist.
func (s *ElasticSink) EnsureIndex(ctx context.Context, index string) error {
	return s.policy.Do(ctx, "sink_ensure_index", func(ctx context.Context) error {
		exists, err := s.client.IndexExists(index).Do(ctx)
		if err != nil {
			return classify(err)
		}
		if exists {
			return nil
		}

		_, err = s.client.CreateIndex(index).BodyString(FilmIndexMapping).Do(ctx)
		if elastic.IsStatusCode(err, http.StatusBadRequest) && isAlreadyExists(err) {
			return nil
		}
		if err != nil {
			return classify(err)
		}
		logging.Ctx(ctx).Info().Str("index", index).Msg("Created search index")
		return nil
	})
}

// Breaker reports the circuit breaker state.
func (s *ElasticSink) Breaker() string {
	return s.breaker.state().String()
}

// Close stops the client's background goroutines.
func (s *ElasticSink) Close() error {
	s.client.Stop()
	return nil
}

var errBulkBackpressure = errors.New("bulk items rejected with retryable status")

func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// classify wraps errors retrying cannot fix with retry.Permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRejected) {
		return retry.Permanent(err)
	}
	if errors.Is(err, context.Canceled) {
		return retry.Permanent(err)
	}

	var esErr *elastic.Error
	if errors.As(err, &esErr) {
		if esErr.Status == http.StatusTooManyRequests || esErr.Status >= http.StatusInternalServerError {
			return err
		}
		return retry.Permanent(fmt.Errorf("%w: %w", ErrRejected, err))
	}

	// Connection errors, timeouts, an open breaker, item backpressure and
	// anything unrecognised are I/O problems and stay retryable.
	return err
}

func isAlreadyExists(err error) bool {
	var esErr *elastic.Error
	if errors.As(err, &esErr) && esErr.Details != nil {
		return esErr.Details.Type == "resource_already_exists_exception"
	}
	return false
}
