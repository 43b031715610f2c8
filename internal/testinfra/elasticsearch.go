// Filmindex - Incremental Film Catalog Search Indexer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/filmindex

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultElasticsearchImage is a single-node cluster image compatible
	// with the v7 client.
	DefaultElasticsearchImage = "docker.elastic.co/elasticsearch/elasticsearch:7.17.25"

	// DefaultElasticsearchPort is the HTTP port inside the container.
	DefaultElasticsearchPort = "9200"
)

// ElasticsearchContainer is a running single-node cluster with security
// disabled.
type ElasticsearchContainer struct {
	testcontainers.Container
	URL string
}

// NewElasticsearchContainer starts Elasticsearch and waits for a green or
// yellow cluster.
func NewElasticsearchContainer(ctx context.Context) (*ElasticsearchContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        DefaultElasticsearchImage,
		ExposedPorts: []string{DefaultElasticsearchPort + "/tcp"},
		Env: map[string]string{
			"discovery.type":         "single-node",
			"xpack.security.enabled": "false",
			"ES_JAVA_OPTS":           "-Xms512m -Xmx512m",
		},
		WaitingFor: wait.ForHTTP("/_cluster/health?wait_for_status=yellow").
			WithPort(DefaultElasticsearchPort + "/tcp").
			WithStatusCodeMatcher(func(status int) bool { return status == http.StatusOK }).
			WithStartupTimeout(3 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, DefaultElasticsearchPort)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get mapped port: %w", err)
	}

	return &ElasticsearchContainer{
		Container: container,
		URL:       fmt.Sprintf("http://%s:%s", host, port.Port()),
	}, nil
}
