// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

// Package config loads the indexer configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in defaults for every optional setting
//  2. Config File: Optional YAML file (config.yaml or CONFIG_PATH)
//  3. Environment Variables: Override any setting
//
// Configuration Categories:
//   - Postgres: content store connection and schema
//   - Elasticsearch / Sink: where documents are written
//   - Pipeline: index name, page size, idle delay, streams
//   - Retry: backoff applied to every source and sink call
//   - State: watermark persistence
//   - Ops: health, status and metrics HTTP server
//   - Logging, Supervisor: process plumbing
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/tomtom215/filmindex/internal/models"
	"github.com/tomtom215/filmindex/internal/retry"
)

// Config holds all indexer configuration.
type Config struct {
	Postgres      PostgresConfig      `koanf:"postgres"`
	Elasticsearch ElasticsearchConfig `koanf:"elasticsearch"`
	Sink          SinkConfig          `koanf:"sink"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	Retry         RetryConfig         `koanf:"retry"`
	State         StateConfig         `koanf:"state"`
	Ops           OpsConfig           `koanf:"ops"`
	Logging       LoggingConfig       `koanf:"logging"`
	Supervisor    SupervisorConfig    `koanf:"supervisor"`
}

// PostgresConfig holds the content store connection.
//
// Environment Variables:
//   - POSTGRES_HOST, POSTGRES_PORT (default: 5432)
//   - POSTGRES_DBNAME, POSTGRES_USER, POSTGRES_PASSWORD
//   - POSTGRES_SSLMODE (default: disable)
//   - POSTGRES_SCHEMA (default: content)
//   - POSTGRES_MAX_CONNS (default: 4)
type PostgresConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	DBName   string `koanf:"dbname"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	SSLMode  string `koanf:"sslmode"`
	Schema   string `koanf:"schema"`
	MaxConns int    `koanf:"max_conns"`
}

// DSN renders the connection as a postgres:// URL.
func (p *PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.DBName,
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	if p.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{p.SSLMode}}.Encode()
	}
	return u.String()
}

// ElasticsearchConfig holds the search cluster connection.
type ElasticsearchConfig struct {
	// Host is the cluster base URL, e.g. http://elasticsearch:9200.
	Host     string `koanf:"host"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// Sniff enables node discovery. Leave off behind load balancers and
	// in containers.
	Sniff bool `koanf:"sniff"`
}

// SinkConfig selects the document sink.
type SinkConfig struct {
	// Backend is "elasticsearch" (default) or "duckdb".
	Backend string `koanf:"backend"`

	// DuckDBPath is the database file used by the duckdb backend.
	DuckDBPath string `koanf:"duckdb_path"`
}

// PipelineConfig tunes the indexing loop.
type PipelineConfig struct {
	IndexName string        `koanf:"index_name"`
	PageSize  int           `koanf:"page_size"`
	IdleDelay time.Duration `koanf:"idle_delay"`
	Streams   []string      `koanf:"streams"`
}

// ParsedStreams returns Streams as typed values.
func (p *PipelineConfig) ParsedStreams() ([]models.Stream, error) {
	return models.ParseStreams(p.Streams)
}

// RetryConfig is the backoff used for transient failures.
type RetryConfig struct {
	InitialDelay time.Duration `koanf:"initial_delay"`
	Factor       float64       `koanf:"factor"`
	MaxDelay     time.Duration `koanf:"max_delay"`

	// MaxElapsed bounds total retry time. Zero retries forever.
	MaxElapsed time.Duration `koanf:"max_elapsed"`
}

// Policy converts the settings into a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		InitialDelay: r.InitialDelay,
		Factor:       r.Factor,
		MaxDelay:     r.MaxDelay,
		MaxElapsed:   r.MaxElapsed,
	}
}

// StateConfig selects watermark persistence.
type StateConfig struct {
	// Backend is "json" (default) or "badger".
	Backend string `koanf:"backend"`

	// Path is the JSON file, or the Badger directory.
	Path string `koanf:"path"`
}

// OpsConfig holds the operations HTTP server settings.
type OpsConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// ReadyAfter is how recent the last clean iteration must be for
	// /readyz to report ready. Zero disables the staleness check.
	ReadyAfter time.Duration `koanf:"ready_after"`

	// RateLimit is the per-client request budget per minute. Zero disables
	// limiting.
	RateLimit int `koanf:"rate_limit"`

	// CORSOrigins allowed to read the ops endpoints from a browser. Empty
	// sends no CORS headers.
	CORSOrigins []string `koanf:"cors_origins"`
}

// Addr returns host:port.
func (o *OpsConfig) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// LoggingConfig holds logging configuration.
//
// Environment Variables:
//   - LOGGING_LEVEL / LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOGGING_FORMAT / LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig tunes restart behavior of supervised services.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// Load reads configuration from defaults, an optional config file and the
// environment, then validates it.
func Load() (*Config, error) {
	cfg, err := LoadWithKoanf()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
