// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/filmindex/config.yaml",
	"/etc/filmindex/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			SSLMode:  "disable",
			Schema:   "content",
			MaxConns: 4,
		},
		Sink: SinkConfig{
			Backend:    "elasticsearch",
			DuckDBPath: "etl/index.duckdb",
		},
		Pipeline: PipelineConfig{
			IndexName: "movies",
			PageSize:  100,
			IdleDelay: time.Second,
			Streams:   []string{"film", "person", "genre"},
		},
		Retry: RetryConfig{
			InitialDelay: 100 * time.Millisecond,
			Factor:       2,
			MaxDelay:     10 * time.Second,
			MaxElapsed:   0, // never give up
		},
		State: StateConfig{
			Backend: "json",
			Path:    "etl/etl_state.json",
		},
		Ops: OpsConfig{
			Enabled:    true,
			Host:       "0.0.0.0",
			Port:       9102,
			Timeout:    10 * time.Second,
			ReadyAfter: 5 * time.Minute,
			RateLimit:  600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration with layered sources:
//  1. Defaults
//  2. Config File (optional)
//  3. Environment Variables (highest priority)
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated strings when set from
// the environment.
var sliceConfigPaths = []string{
	"pipeline.streams",
	"ops.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to config
// paths. Unmapped variables are ignored.
var envMappings = map[string]string{
	"postgres_host":      "postgres.host",
	"postgres_port":      "postgres.port",
	"postgres_dbname":    "postgres.dbname",
	"postgres_user":      "postgres.user",
	"postgres_password":  "postgres.password",
	"postgres_sslmode":   "postgres.sslmode",
	"postgres_schema":    "postgres.schema",
	"postgres_max_conns": "postgres.max_conns",

	"elasticsearch_host":     "elasticsearch.host",
	"elasticsearch_username": "elasticsearch.username",
	"elasticsearch_password": "elasticsearch.password",
	"elasticsearch_sniff":    "elasticsearch.sniff",

	"sink_backend": "sink.backend",
	"duckdb_path":  "sink.duckdb_path",

	"etl_index_name": "pipeline.index_name",
	"etl_page_size":  "pipeline.page_size",
	"etl_idle_delay": "pipeline.idle_delay",
	"etl_streams":    "pipeline.streams",

	"retry_initial_delay": "retry.initial_delay",
	"retry_factor":        "retry.factor",
	"retry_max_delay":     "retry.max_delay",
	"retry_max_elapsed":   "retry.max_elapsed",

	"state_backend": "state.backend",
	"state_path":    "state.path",

	"ops_enabled":      "ops.enabled",
	"ops_host":         "ops.host",
	"ops_port":         "ops.port",
	"ops_timeout":      "ops.timeout",
	"ops_ready_after":  "ops.ready_after",
	"ops_rate_limit":   "ops.rate_limit",
	"ops_cors_origins": "ops.cors_origins",

	"logging_level":  "logging.level",
	"log_level":      "logging.level",
	"logging_format": "logging.format",
	"log_format":     "logging.format",
	"log_caller":     "logging.caller",

	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc maps an environment variable to its koanf path, or ""
// to skip it.
//
// Examples:
//   - POSTGRES_DBNAME -> postgres.dbname
//   - ETL_PAGE_SIZE -> pipeline.page_size
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
