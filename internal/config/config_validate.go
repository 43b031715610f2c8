// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

package config

import (
	"fmt"
	"strings"
)

// MaxPageSize caps ETL_PAGE_SIZE.
const MaxPageSize = 10000

// MaxPostgresConns caps POSTGRES_MAX_CONNS.
const MaxPostgresConns = 1000

// Validate checks that required configuration is present and valid. Level
// and format names are normalized to lower case.
func (c *Config) Validate() error {
	if err := c.validatePostgres(); err != nil {
		return err
	}
	if err := c.validateSink(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.Retry.Policy().Validate(); err != nil {
		return fmt.Errorf("RETRY settings are invalid: %w", err)
	}
	if err := c.validateState(); err != nil {
		return err
	}
	if err := c.validateOps(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePostgres() error {
	p := &c.Postgres
	switch {
	case p.Host == "":
		return fmt.Errorf("POSTGRES_HOST is required")
	case p.DBName == "":
		return fmt.Errorf("POSTGRES_DBNAME is required")
	case p.User == "":
		return fmt.Errorf("POSTGRES_USER is required")
	case p.Port < 1 || p.Port > 65535:
		return fmt.Errorf("POSTGRES_PORT must be between 1 and 65535, got %d", p.Port)
	case p.MaxConns < 1 || p.MaxConns > MaxPostgresConns:
		return fmt.Errorf("POSTGRES_MAX_CONNS must be between 1 and %d, got %d", MaxPostgresConns, p.MaxConns)
	case p.Schema == "":
		return fmt.Errorf("POSTGRES_SCHEMA must not be empty")
	}
	return nil
}

func (c *Config) validateSink() error {
	c.Sink.Backend = strings.ToLower(c.Sink.Backend)
	switch c.Sink.Backend {
	case "elasticsearch":
		if c.Elasticsearch.Host == "" {
			return fmt.Errorf("ELASTICSEARCH_HOST is required when SINK_BACKEND=elasticsearch")
		}
		if err := validateHTTPURL(c.Elasticsearch.Host, "ELASTICSEARCH_HOST"); err != nil {
			return err
		}
	case "duckdb":
		if c.Sink.DuckDBPath == "" {
			return fmt.Errorf("DUCKDB_PATH is required when SINK_BACKEND=duckdb")
		}
	default:
		return fmt.Errorf("SINK_BACKEND must be one of: elasticsearch, duckdb")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := &c.Pipeline
	if p.IndexName == "" {
		return fmt.Errorf("ETL_INDEX_NAME is required")
	}
	if strings.ToLower(p.IndexName) != p.IndexName || strings.ContainsAny(p.IndexName, ` "*\<|,>/?`) {
		return fmt.Errorf("ETL_INDEX_NAME %q is not a valid index name", p.IndexName)
	}
	if p.PageSize < 1 || p.PageSize > MaxPageSize {
		return fmt.Errorf("ETL_PAGE_SIZE must be between 1 and %d, got %d", MaxPageSize, p.PageSize)
	}
	if p.IdleDelay < 0 {
		return fmt.Errorf("ETL_IDLE_DELAY must not be negative, got %s", p.IdleDelay)
	}
	if _, err := p.ParsedStreams(); err != nil {
		return fmt.Errorf("ETL_STREAMS is invalid: %w", err)
	}
	return nil
}

func (c *Config) validateState() error {
	c.State.Backend = strings.ToLower(c.State.Backend)
	if c.State.Backend != "json" && c.State.Backend != "badger" {
		return fmt.Errorf("STATE_BACKEND must be one of: json, badger")
	}
	if c.State.Path == "" {
		return fmt.Errorf("STATE_PATH is required")
	}
	return nil
}

func (c *Config) validateOps() error {
	if !c.Ops.Enabled {
		return nil
	}
	if c.Ops.Port < 1 || c.Ops.Port > 65535 {
		return fmt.Errorf("OPS_PORT must be between 1 and 65535, got %d", c.Ops.Port)
	}
	if c.Ops.RateLimit < 0 {
		return fmt.Errorf("OPS_RATE_LIMIT must not be negative, got %d", c.Ops.RateLimit)
	}
	for _, origin := range c.Ops.CORSOrigins {
		if origin == "*" {
			continue
		}
		if err := validateHTTPURL(origin, "OPS_CORS_ORIGINS"); err != nil {
			return err
		}
	}
	return nil
}

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

func (c *Config) validateLogging() error {
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if c.Logging.Level == "warning" {
		c.Logging.Level = "warn"
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}

	c.Logging.Format = strings.ToLower(c.Logging.Format)
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}
